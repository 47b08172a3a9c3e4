// Package api exposes the admin surface of the domain pool.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/linkos-dev/linkos/internal/binding"
	"github.com/linkos-dev/linkos/internal/domainpool"
	"github.com/linkos-dev/linkos/internal/healthcheck"
)

// HealthChecker runs the synchronous, punitive admin check.
type HealthChecker interface {
	RunManualCheck(ctx context.Context) ([]healthcheck.Result, error)
}

type DomainPoolApi struct {
	pool     *domainpool.Manager
	checker  HealthChecker
	bindings binding.Store
}

func NewDomainPoolApi(router *gin.Engine, requireAuth gin.HandlerFunc,
	pool *domainpool.Manager, checker HealthChecker, bindings binding.Store) *DomainPoolApi {

	a := &DomainPoolApi{pool: pool, checker: checker, bindings: bindings}

	g := router.Group("/api/admin/domain-pool", requireAuth)
	g.GET("/config", a.getConfig)
	g.PUT("/config", a.updateConfig)
	g.GET("/domains", a.listDomains)
	g.POST("/domains", a.addDomain)
	g.PUT("/domains/:id", a.updateDomain)
	g.DELETE("/domains/:id", a.deleteDomain)
	g.POST("/domains/:id/toggle", a.toggleDomain)
	g.GET("/domains/:id/bindings", a.domainBindings)
	g.GET("/bindings", a.allBindings)
	g.GET("/statistics", a.statistics)
	g.GET("/select", a.testSelect)
	g.POST("/health-check", a.manualHealthCheck)
	return a
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domainpool.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": err.Error()})
	case errors.Is(err, domainpool.ErrRejected):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
	case errors.Is(err, domainpool.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": err.Error()})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("domain pool request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": msg})
}

func (a *DomainPoolApi) getConfig(c *gin.Context) {
	cfg, err := a.pool.GetPoolConfig(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, cfg)
}

func (a *DomainPoolApi) updateConfig(c *gin.Context) {
	var req domainpool.UpdatePoolConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	cfg, err := a.pool.UpdatePoolConfig(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, cfg)
}

func (a *DomainPoolApi) listDomains(c *gin.Context) {
	domains, err := a.pool.ListDomains(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if domains == nil {
		domains = []*domainpool.Domain{}
	}
	ok(c, domains)
}

func (a *DomainPoolApi) addDomain(c *gin.Context) {
	var req domainpool.AddDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "host and protocol are required")
		return
	}
	d, err := a.pool.AddDomain(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": d})
}

func (a *DomainPoolApi) updateDomain(c *gin.Context) {
	var req domainpool.UpdateDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	d, err := a.pool.UpdateDomain(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, d)
}

func (a *DomainPoolApi) deleteDomain(c *gin.Context) {
	if err := a.pool.DeleteDomain(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "domain deleted"})
}

func (a *DomainPoolApi) toggleDomain(c *gin.Context) {
	d, err := a.pool.ToggleDomainStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, d)
}

func (a *DomainPoolApi) domainBindings(c *gin.Context) {
	records, err := a.bindings.ListByDomain(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if records == nil {
		records = []*binding.Record{}
	}
	ok(c, records)
}

func (a *DomainPoolApi) allBindings(c *gin.Context) {
	records, err := a.bindings.ListAll(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if records == nil {
		records = []*binding.Record{}
	}
	ok(c, records)
}

func (a *DomainPoolApi) statistics(c *gin.Context) {
	stats, err := a.pool.GetStatistics(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, stats)
}

// testSelect runs one selection so an operator can watch the rotation.
// It counts as a real request against the chosen domain.
func (a *DomainPoolApi) testSelect(c *gin.Context) {
	sel, err := a.pool.SelectDomain(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, sel)
}

func (a *DomainPoolApi) manualHealthCheck(c *gin.Context) {
	results, err := a.checker.RunManualCheck(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, results)
}

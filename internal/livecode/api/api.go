// Package api exposes the live-code admin surface plus the public entry
// points: the redirect link every printed QR resolves through, and the H5
// display API the landing page calls.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/linkos-dev/linkos/internal/domainpool"
	"github.com/linkos-dev/linkos/internal/livecode"
	"github.com/linkos-dev/linkos/internal/metrics"
)

const errorPage = "/h5/error"

type LiveCodeApi struct {
	svc *livecode.Service
}

func NewLiveCodeApi(router *gin.Engine, requireAuth gin.HandlerFunc, svc *livecode.Service) *LiveCodeApi {
	a := &LiveCodeApi{svc: svc}

	g := router.Group("/api/admin/live-codes", requireAuth)
	g.GET("", a.list)
	g.POST("", a.create)
	g.GET("/:id", a.get)
	g.PUT("/:id", a.update)
	g.DELETE("/:id", a.delete)
	g.GET("/:id/promotion-code", a.promotionCode)
	g.GET("/:id/statistics", a.statistics)
	g.GET("/:id/domain-config", a.getDomainConfig)
	g.PUT("/:id/domain-config", a.updateDomainConfig)
	g.POST("/:id/domain-config/primary", a.bindPrimary)
	g.DELETE("/:id/domain-config/primary", a.unbindPrimary)
	g.POST("/:id/domain-config/reset-stats", a.resetStats)

	// public surface, no auth: this is what visitors hit
	router.GET("/api/link", a.redirect)
	router.GET("/api/h5/live-code/:id", a.h5Content)
	router.POST("/api/h5/analytics", a.h5Analytics)
	router.GET("/h5/landing", a.landingPage)
	router.GET("/h5/error", a.errorPage)
	return a
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, livecode.ErrNotFound), errors.Is(err, domainpool.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": err.Error()})
	case errors.Is(err, livecode.ErrRejected), errors.Is(err, domainpool.ErrRejected):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
	case errors.Is(err, domainpool.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": err.Error()})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("live code request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal error"})
	}
}

func (a *LiveCodeApi) list(c *gin.Context) {
	codes, err := a.svc.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if codes == nil {
		codes = []*livecode.LiveCode{}
	}
	ok(c, codes)
}

func (a *LiveCodeApi) create(c *gin.Context) {
	var req livecode.CreateLiveCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "name, distributionMode and subCodes are required"})
		return
	}
	lc, err := a.svc.Create(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": lc})
}

func (a *LiveCodeApi) get(c *gin.Context) {
	lc, err := a.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, lc)
}

func (a *LiveCodeApi) update(c *gin.Context) {
	var req livecode.UpdateLiveCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
		return
	}
	lc, err := a.svc.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, lc)
}

func (a *LiveCodeApi) delete(c *gin.Context) {
	if err := a.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "live code deleted"})
}

func (a *LiveCodeApi) promotionCode(c *gin.Context) {
	pc, err := a.svc.GetPromotionCode(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, pc)
}

func (a *LiveCodeApi) statistics(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "7"))
	stats, err := a.svc.GetStatistics(c.Request.Context(), c.Param("id"), days)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, stats)
}

func (a *LiveCodeApi) getDomainConfig(c *gin.Context) {
	cfg, err := a.svc.GetDomainConfig(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, cfg)
}

func (a *LiveCodeApi) updateDomainConfig(c *gin.Context) {
	var req livecode.UpdateFallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
		return
	}
	cfg, err := a.svc.UpdateFallbackConfig(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, cfg)
}

func (a *LiveCodeApi) bindPrimary(c *gin.Context) {
	var req livecode.BindPrimaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "domainId is required"})
		return
	}
	cfg, err := a.svc.BindPrimary(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, cfg)
}

func (a *LiveCodeApi) unbindPrimary(c *gin.Context) {
	var req livecode.UnbindPrimaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
		return
	}
	cfg, err := a.svc.UnbindPrimary(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, cfg)
}

func (a *LiveCodeApi) resetStats(c *gin.Context) {
	cfg, err := a.svc.ResetFallbackStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, cfg)
}

// redirect is the entry every QR scan hits. It never errors toward the
// visitor: anything that goes wrong lands on the error page.
func (a *LiveCodeApi) redirect(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		metrics.ObserveRedirect(false)
		c.Redirect(http.StatusFound, errorPage)
		return
	}

	target, err := a.svc.SelectForRedirect(c.Request.Context(), id)
	if err != nil {
		if !errors.Is(err, livecode.ErrNotFound) && !errors.Is(err, domainpool.ErrUnavailable) {
			log.Error().Err(err).Str("live_code_id", id).Msg("redirect selection failed")
		}
		metrics.ObserveRedirect(false)
		c.Redirect(http.StatusFound, errorPage)
		return
	}
	metrics.ObserveRedirect(true)
	c.Redirect(http.StatusFound, target.LandingURL(id))
}

func (a *LiveCodeApi) h5Content(c *gin.Context) {
	content, err := a.svc.H5Content(c.Request.Context(), c.Param("id"), c.ClientIP())
	if err != nil {
		if errors.Is(err, livecode.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "this code is no longer available", "code": 404})
			return
		}
		fail(c, err)
		return
	}
	ok(c, content)
}

type h5AnalyticsRequest struct {
	LiveCodeID string `json:"liveCodeId"`
	DomainUsed string `json:"domainUsed"`
	Timestamp  string `json:"timestamp"`
}

func (a *LiveCodeApi) h5Analytics(c *gin.Context) {
	var req h5AnalyticsRequest
	if err := c.ShouldBindJSON(&req); err == nil {
		log.Info().Str("live_code_id", req.LiveCodeID).Str("domain_used", req.DomainUsed).
			Str("timestamp", req.Timestamp).Str("user_agent", c.GetHeader("User-Agent")).
			Msg("h5 analytics event")
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

const landingHTML = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1">
<title>Loading…</title></head>
<body><div id="app">Loading…</div>
<script>
(function () {
  var id = new URLSearchParams(location.search).get('id');
  if (!id) { location.replace('/h5/error'); return; }
  fetch('/api/h5/live-code/' + encodeURIComponent(id))
    .then(function (r) { return r.json(); })
    .then(function (res) {
      if (!res.success) { location.replace('/h5/error'); return; }
      document.title = res.data.title;
      document.getElementById('app').innerHTML =
        '<h1>' + res.data.title + '</h1>' +
        '<img src="' + res.data.qrCodeUrl + '" alt="QR" style="max-width:240px">' +
        '<p>' + (res.data.description || '') + '</p>';
    })
    .catch(function () { location.replace('/h5/error'); });
})();
</script></body></html>`

const errorHTML = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1">
<title>Not available</title></head>
<body><h1>This code is no longer available</h1></body></html>`

func (a *LiveCodeApi) landingPage(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(landingHTML))
}

func (a *LiveCodeApi) errorPage(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(errorHTML))
}

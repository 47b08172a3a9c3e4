// Package auth implements the admin login flow: a single shared password
// exchanged for a short-lived JWT.
package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog/log"

	"github.com/linkos-dev/linkos/internal/config"
)

type Api struct {
	cfg      *config.AuthConfig
	tokenTTL time.Duration
}

func NewAuthApi(router *gin.Engine, cfg *config.AuthConfig) *Api {
	ttl, err := time.ParseDuration(cfg.TokenTTL)
	if err != nil || ttl <= 0 {
		ttl = 24 * time.Hour
	}
	a := &Api{cfg: cfg, tokenTTL: ttl}
	router.POST("/api/admin/login", a.login)
	router.POST("/api/admin/logout", a.logout)
	return a
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

func (a *Api) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "password is required"})
		return
	}
	if req.Password != a.cfg.AdminPassword {
		log.Warn().Str("remote", c.ClientIP()).Msg("admin login failed")
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "wrong password"})
		return
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "admin",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
	})
	signed, err := token.SignedString([]byte(a.cfg.JWTSecret))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "token": signed})
}

// logout is stateless: the client drops its token. The endpoint exists so
// the UI has something to call.
func (a *Api) logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true})
}

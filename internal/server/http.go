// Package server assembles the HTTP surface: routing, operator auth, and
// health checking.
package server

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"credential-server/backend/internal/security"
	tokenhandler "credential-server/backend/internal/token/handler"
	validatehandler "credential-server/backend/internal/validate/handler"
)

// HealthChecker reports readiness of a dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the wired collaborators of the HTTP server.
type Deps struct {
	Tokens    *security.TokenProvider
	TokenH    *tokenhandler.TokenHandler
	ValidateH *validatehandler.ValidateHandler
	DB        *sql.DB
	Policy    HealthChecker
}

// NewRouter builds the gin engine with all routes and middleware mounted.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), ClientIPMiddleware())

	d.TokenH.RegisterRoutes(r, AuthRequired(d.Tokens))
	d.ValidateH.RegisterRoutes(r)
	r.GET("/healthz", healthHandler(d))
	return r
}

func healthHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if d.DB != nil {
			if err := d.DB.PingContext(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "db": err.Error()})
				return
			}
		}
		if d.Policy != nil {
			if err := d.Policy.HealthCheck(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "policy": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

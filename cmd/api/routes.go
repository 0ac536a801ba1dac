package main

import (
	"context"
	"net/http"
	"time"

	"casevault/internal/httpapi"
	"casevault/internal/rbac"
	"casevault/pkg/logger"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	Handlers httpapi.Handlers
	AuthMW   gin.HandlerFunc
	// Health reports ledger reachability for /healthz.
	Health  func(ctx context.Context) error
	Metrics http.Handler
	// IssueTokens routes the development-only token endpoint.
	IssueTokens bool
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if d.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := d.Health(ctx); err != nil {
				logger.FromGin(c).Warn("health check failed", "err", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	h := d.Handlers
	v1 := r.Group("/v1")

	// AUTH routes (token issuance).
	// NOTE: Development-only; real credential validation is not implemented.
	if d.IssueTokens {
		v1.POST("/auth/token", h.IssueToken)
	}

	cases := v1.Group("/cases/:case_id")
	cases.Use(d.AuthMW)
	{
		cases.POST("/files/:file_hash/events", rbac.RequireAnyRole(rbac.Recorders...), h.RecordEvent)

		files := cases.Group("/files/:file_hash")
		files.Use(rbac.RequireAnyRole(rbac.Readers...))
		files.GET("/chain", h.FileChain)
		files.GET("/integrity", h.FileIntegrity)
		files.POST("/certificate", h.GenerateCertificate)

		read := cases.Group("")
		read.Use(rbac.RequireAnyRole(rbac.Readers...))
		read.GET("/chain", h.CaseChain)
		read.GET("/integrity", h.CaseIntegrity)
		read.GET("/stats", h.CaseStats)
	}
}

package api_gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/till-ledger/internal/api_gateway/handler"
	"github.com/till-ledger/internal/api_gateway/middleware"
)

type handlers struct {
	sessions *handler.SessionHandler
	credit   *handler.CreditHandler
	sync     *handler.SyncHandler
}

// setupRouter configures API routes and middleware for the application
func setupRouter(logger *slog.Logger, r *gin.Engine, terminalID string, h handlers) {
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CorrelationID(terminalID))
	r.Use(middleware.Logger(logger))

	v1 := r.Group("/api/v1")
	{
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", h.sessions.Open)
			sessions.GET("", h.sessions.List)
			sessions.GET("/current", h.sessions.Current)
			sessions.POST("/repair", h.sessions.Repair)
			sessions.GET("/:id", h.sessions.GetByID)
			sessions.POST("/:id/sales", h.sessions.RecordSale)
			sessions.POST("/:id/tab-settlements", h.sessions.RecordTabSettlement)
			sessions.POST("/:id/outflows", h.sessions.RecordOutflow)
			sessions.POST("/:id/adjustments", h.sessions.RecordAdjustment)
			sessions.POST("/:id/close", h.sessions.Close)
			sessions.GET("/:id/report", h.sessions.Report)
		}

		accounts := v1.Group("/accounts")
		{
			accounts.POST("", h.credit.Register)
			accounts.GET("", h.credit.List)
			accounts.GET("/:id", h.credit.GetByID)
			accounts.POST("/:id/movements", h.credit.ApplyMovement)
			accounts.GET("/:id/movements", h.credit.History)
			accounts.PUT("/:id/limit", h.credit.UpdateLimit)
			accounts.POST("/:id/deactivate", h.credit.Deactivate)
			accounts.GET("/:id/audit", h.credit.Audit)
		}

		sync := v1.Group("/sync")
		{
			sync.GET("/queue", h.sync.Queue)
			sync.POST("/drain", h.sync.Drain)
		}

		v1.GET("/connectivity", h.sync.Connectivity)
		v1.PUT("/connectivity", h.sync.SetConnectivity)
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoint for monitoring
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
}

package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/script-runner/internal/transport/http/handler"
	"github.com/ErlanBelekov/script-runner/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

// NewRouter wires the public API. An empty jwtKey leaves /runs open, which
// is only meant for local use.
func NewRouter(logger *slog.Logger, runHandler *handler.RunHandler, jwtKey []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	r.GET("/health", handler.Health)

	var protected []gin.HandlerFunc
	if len(jwtKey) > 0 {
		protected = append(protected, middleware.Auth(jwtKey))
	}

	runs := r.Group("/runs", protected...)
	runs.POST("", runHandler.Submit)
	runs.GET("/:id", runHandler.GetByID)
	runs.GET("/:id/attempts", runHandler.ListAttempts)

	return r
}

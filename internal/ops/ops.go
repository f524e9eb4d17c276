// Package ops exposes the operational HTTP surface: prometheus metrics and
// a debug snapshot of the core's state.
package ops

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// StateSource is what the debug endpoint reports on. The socket manager and
// presence tracker satisfy the pieces; main composes them.
type StateSource interface {
	ConnectionState() string
	RoomSizes() map[string]int
}

// NewRouter builds the ops router.
func NewRouter(source StateSource) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("messaging-core"))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/debug/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"connection_state": source.ConnectionState(),
			"rooms":            source.RoomSizes(),
		})
	})

	return router
}

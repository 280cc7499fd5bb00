package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mori-project/mori/internal/util"
)

// Version is reported by the ping and system endpoints.
const Version = "0.4.0"

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "mori",
		"version": Version,
	})
}

// handleGetSystem returns host information and a resource sample.
func (s *Server) handleGetSystem(c *gin.Context) {
	items := s.manager.Items().Current()
	c.JSON(http.StatusOK, gin.H{
		"version":        Version,
		"uptime_seconds": int64(s.manager.Uptime().Seconds()),
		"bots":           s.manager.Count(),
		"items_loaded":   items.Len(),
		"system":         util.GetSystemInfo(),
		"usage":          util.GetUsage(),
	})
}

package api

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flexlink-project/flexlink/internal/util"
)

// Version is reported by /api/ping.
const Version = "1.0.0"

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	state, _ := s.radio.ConnectionState()
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "flexlink",
		"version": Version,
		"radio":   state,
	})
}

// handleGetSystem reports the host and this process.
func (s *Server) handleGetSystem(c *gin.Context) {
	resp := gin.H{
		"system": util.GetSystemInfo(),
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	}

	if cpu, err := util.GetCPUUsage(); err == nil {
		resp["cpu_percent"] = cpu
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = mem
	}
	if proc, err := util.GetProcessUsage(); err == nil {
		resp["process"] = proc
	}
	if dbPath := s.cfg.GetApplication().Database.Path; dbPath != "" {
		if disk, err := util.GetDiskUsage(filepath.Dir(dbPath)); err == nil {
			resp["disk"] = disk
		}
	}

	c.JSON(http.StatusOK, resp)
}

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func HealthCheck(checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := checker.Health(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// ServiceStatus describes which backends the process is running with.
func ServiceStatus(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		blobDriver := ""
		if d.Blobs != nil {
			blobDriver = d.Blobs.Driver()
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "running",
			"storage":  d.StorageDriver,
			"blob":     blobDriver,
			"analysis": d.Analyzer != nil,
		})
	}
}

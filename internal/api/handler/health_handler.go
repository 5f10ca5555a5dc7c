package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imobcrm/wagate/internal/config"
)

// IndexStats expõe os contadores do índice de mensagens para o health.
type IndexStats interface {
	Len() int
}

type HealthHandler struct {
	stats IndexStats
}

func NewHealthHandler(stats IndexStats) *HealthHandler {
	return &HealthHandler{stats: stats}
}

func (h *HealthHandler) Register(r *gin.RouterGroup) {
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": config.Version,
			"name":    "WAGate",
		})
	})

	r.GET("/healthz", func(c *gin.Context) {
		body := gin.H{
			"status":  "ok",
			"version": config.Version,
		}
		if h.stats != nil {
			body["indexedMessages"] = h.stats.Len()
		}
		c.JSON(http.StatusOK, body)
	})
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/imobcrm/wagate/internal/event"
)

// StreamHandler expõe o canal de eventos em tempo real via websocket.
type StreamHandler struct {
	hub      *event.Hub
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewStreamHandler(hub *event.Hub, log *zap.Logger) *StreamHandler {
	return &StreamHandler{
		hub: hub,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// O CRM acessa o gateway de origens internas variadas.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *StreamHandler) Register(r *gin.RouterGroup) {
	r.GET("/ws", h.serve)
}

func (h *StreamHandler) serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket: falha no upgrade", zap.Error(err))
		return
	}

	client := event.NewClient(h.hub, conn, h.log)
	client.Serve()
}

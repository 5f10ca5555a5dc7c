package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/imobcrm/wagate/internal/pkg/response"
	"github.com/imobcrm/wagate/internal/session"
)

// SessionGateway é o recorte do session.Manager consumido pela API.
type SessionGateway interface {
	Status() session.Status
	SendText(ctx context.Context, to, text string) (string, error)
	SendMedia(ctx context.Context, to, mediaURL, mediaType, caption string) (string, error)
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	Logout(ctx context.Context) error
	CheckNumber(ctx context.Context, phone string) (bool, string, error)
}

type GatewayHandler struct {
	gateway SessionGateway
}

func NewGatewayHandler(gateway SessionGateway) *GatewayHandler {
	return &GatewayHandler{gateway: gateway}
}

func (h *GatewayHandler) Register(r *gin.RouterGroup) {
	r.GET("/status", h.status)
	r.POST("/send-message", h.sendMessage)
	r.POST("/send-media", h.sendMedia)
	r.POST("/request-pairing-code", h.requestPairingCode)
	r.POST("/logout", h.logout)
	r.POST("/check-number", h.checkNumber)
}

func (h *GatewayHandler) status(c *gin.Context) {
	response.Success(c, http.StatusOK, h.gateway.Status())
}

type sendMessageRequest struct {
	JID     string `json:"jid" binding:"required"`
	Message string `json:"message" binding:"required"`
}

func (h *GatewayHandler) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	messageID, err := h.gateway.SendText(c.Request.Context(), req.JID, req.Message)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"success":   true,
		"messageId": messageID,
	})
}

type sendMediaRequest struct {
	JID     string `json:"jid" binding:"required"`
	URL     string `json:"url" binding:"required"`
	Type    string `json:"type" binding:"required"`
	Caption string `json:"caption"`
}

func (h *GatewayHandler) sendMedia(c *gin.Context) {
	var req sendMediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	mediaType := strings.ToLower(strings.TrimSpace(req.Type))
	messageID, err := h.gateway.SendMedia(c.Request.Context(), req.JID, req.URL, mediaType, req.Caption)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"success":   true,
		"messageId": messageID,
	})
}

type pairingCodeRequest struct {
	PhoneNumber string `json:"phoneNumber" binding:"required"`
}

func (h *GatewayHandler) requestPairingCode(c *gin.Context) {
	var req pairingCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	code, err := h.gateway.RequestPairingCode(c.Request.Context(), req.PhoneNumber)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"success": true,
		"code":    code,
	})
}

func (h *GatewayHandler) logout(c *gin.Context) {
	if err := h.gateway.Logout(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"success": true})
}

type checkNumberRequest struct {
	PhoneNumber string `json:"phoneNumber" binding:"required"`
}

func (h *GatewayHandler) checkNumber(c *gin.Context) {
	var req checkNumberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	exists, jid, err := h.gateway.CheckNumber(c.Request.Context(), req.PhoneNumber)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"exists": exists,
		"jid":    jid,
	})
}

// fail mapeia a taxonomia de erros da sessão: pré-condição violada é
// 400, o resto é falha inesperada.
func (h *GatewayHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrNotConnected),
		errors.Is(err, session.ErrNotReady),
		errors.Is(err, session.ErrAlreadyRegistered),
		errors.Is(err, session.ErrInvalidJID),
		errors.Is(err, session.ErrInvalidPhone),
		errors.Is(err, session.ErrUnsupportedMediaType):
		response.Error(c, http.StatusBadRequest, err)
	default:
		response.Error(c, http.StatusInternalServerError, err)
	}
}

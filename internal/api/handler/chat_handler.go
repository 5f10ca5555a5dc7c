package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imobcrm/wagate/internal/chatlog"
	"github.com/imobcrm/wagate/internal/pkg/response"
)

// ChatIndex é o recorte do chatlog.Index consumido pela API.
type ChatIndex interface {
	ChatList() []chatlog.Chat
	MessagesFor(jid string) []chatlog.Message
}

type ChatHandler struct {
	index ChatIndex
}

func NewChatHandler(index ChatIndex) *ChatHandler {
	return &ChatHandler{index: index}
}

func (h *ChatHandler) Register(r *gin.RouterGroup) {
	r.GET("/chats", h.listChats)
	r.GET("/messages/:jid", h.listMessages)
}

func (h *ChatHandler) listChats(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"chats": h.index.ChatList(),
	})
}

func (h *ChatHandler) listMessages(c *gin.Context) {
	jid := c.Param("jid")
	response.Success(c, http.StatusOK, gin.H{
		"messages": h.index.MessagesFor(jid),
	})
}

package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/imobcrm/wagate/internal/chatlog"
)

func setupChatRouter(index *chatlog.Index) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewChatHandler(index).Register(router.Group(""))
	return router
}

func TestListChatsEmpty(t *testing.T) {
	router := setupChatRouter(chatlog.NewIndex())

	w := doJSON(t, router, http.MethodGet, "/chats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("esperava 200, obteve %d", w.Code)
	}
	body := decodeBody(t, w)
	chats, ok := body["chats"].([]interface{})
	if !ok || len(chats) != 0 {
		t.Fatalf("esperava lista vazia, obteve %v", body["chats"])
	}
}

func TestListChatsOrderedByRecent(t *testing.T) {
	index := chatlog.NewIndex()
	base := time.Now()
	index.Append(chatlog.Message{ID: "A", ChatJID: "antigo@s.whatsapp.net", Timestamp: base.Add(-time.Hour)})
	index.Append(chatlog.Message{ID: "B", ChatJID: "novo@s.whatsapp.net", Timestamp: base})
	router := setupChatRouter(index)

	w := doJSON(t, router, http.MethodGet, "/chats", "")
	body := decodeBody(t, w)
	chats := body["chats"].([]interface{})
	if len(chats) != 2 {
		t.Fatalf("esperava 2 conversas, obteve %d", len(chats))
	}
	first := chats[0].(map[string]interface{})
	if first["jid"] != "novo@s.whatsapp.net" {
		t.Fatalf("esperava conversa mais recente primeiro, obteve %v", first["jid"])
	}
	if first["unreadCount"] != float64(0) {
		t.Fatalf("unreadCount deveria ser 0, obteve %v", first["unreadCount"])
	}
}

func TestListMessagesForChat(t *testing.T) {
	index := chatlog.NewIndex()
	index.Append(chatlog.Message{ID: "A", ChatJID: "5511@s.whatsapp.net", Text: "olá", Timestamp: time.Now()})
	router := setupChatRouter(index)

	w := doJSON(t, router, http.MethodGet, "/messages/5511@s.whatsapp.net", "")
	if w.Code != http.StatusOK {
		t.Fatalf("esperava 200, obteve %d", w.Code)
	}
	body := decodeBody(t, w)
	msgs := body["messages"].([]interface{})
	if len(msgs) != 1 {
		t.Fatalf("esperava 1 mensagem, obteve %d", len(msgs))
	}
}

func TestListMessagesUnknownChatReturnsEmpty(t *testing.T) {
	router := setupChatRouter(chatlog.NewIndex())

	w := doJSON(t, router, http.MethodGet, "/messages/nunca@s.whatsapp.net", "")
	if w.Code != http.StatusOK {
		t.Fatalf("esperava 200, obteve %d", w.Code)
	}
	body := decodeBody(t, w)
	msgs, ok := body["messages"].([]interface{})
	if !ok || len(msgs) != 0 {
		t.Fatalf("esperava lista vazia, obteve %v", body["messages"])
	}
}

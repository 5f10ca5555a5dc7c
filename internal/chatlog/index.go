package chatlog

import (
	"sort"
	"sync"
	"time"
)

// Message é a visão achatada de uma mensagem trocada na sessão,
// no formato consumido pelo CRM.
type Message struct {
	ID        string    `json:"id"`
	ChatJID   string    `json:"chatJid"`
	Sender    string    `json:"sender"`
	FromMe    bool      `json:"fromMe"`
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	PushName  string    `json:"pushName,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Chat resume uma conversa para a listagem do CRM. UnreadCount é
// sempre zero: o gateway não rastreia recibos de leitura.
type Chat struct {
	JID           string   `json:"jid"`
	LastMessage   *Message `json:"lastMessage"`
	UnreadCount   int      `json:"unreadCount"`
	MessagesCount int      `json:"messagesCount"`
}

// Index guarda o histórico da sessão em memória, por conversa.
// Os registros são append-only e vivem apenas durante o processo.
type Index struct {
	mu    sync.RWMutex
	chats map[string][]Message
}

func NewIndex() *Index {
	return &Index{
		chats: make(map[string][]Message),
	}
}

func (i *Index) Append(msg Message) {
	if msg.ChatJID == "" {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.chats[msg.ChatJID] = append(i.chats[msg.ChatJID], msg)
}

// MessagesFor retorna uma cópia do log da conversa, na ordem de chegada.
// Conversa desconhecida retorna slice vazio, não erro.
func (i *Index) MessagesFor(jid string) []Message {
	i.mu.RLock()
	defer i.mu.RUnlock()

	log := i.chats[jid]
	out := make([]Message, len(log))
	copy(out, log)
	return out
}

// ChatList resume todas as conversas conhecidas, ordenadas pela
// mensagem mais recente primeiro.
func (i *Index) ChatList() []Chat {
	i.mu.RLock()
	defer i.mu.RUnlock()

	chats := make([]Chat, 0, len(i.chats))
	for jid, log := range i.chats {
		if len(log) == 0 {
			continue
		}
		last := log[len(log)-1]
		chats = append(chats, Chat{
			JID:           jid,
			LastMessage:   &last,
			UnreadCount:   0,
			MessagesCount: len(log),
		})
	}

	sort.Slice(chats, func(a, b int) bool {
		return chats[a].LastMessage.Timestamp.After(chats[b].LastMessage.Timestamp)
	})

	return chats
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()

	total := 0
	for _, log := range i.chats {
		total += len(log)
	}
	return total
}

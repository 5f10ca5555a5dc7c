package event

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Hub faz o fan-out dos quadros para os clientes websocket. Registro,
// remoção e difusão passam por um único goroutine; assinante com buffer
// cheio é descartado silenciosamente, sem travar a difusão.
type Hub struct {
	log *zap.Logger

	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu       sync.RWMutex
	snapshot func() []Event
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// SetSnapshot define a fonte dos eventos reenviados a cada novo
// assinante (estado atual da conexão e QR pendente). Deve ser chamado
// antes de Run.
func (h *Hub) SetSnapshot(fn func() []Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot = fn
}

// Publish implementa Publisher. Com o hub saturado o evento é
// descartado: o websocket é um canal de conveniência, não de registro.
func (h *Hub) Publish(evt Event) {
	frame, err := evt.Frame()
	if err != nil {
		h.log.Warn("hub: erro ao serializar evento", zap.String("type", evt.Type), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- frame:
	default:
		h.log.Warn("hub: difusão saturada, evento descartado", zap.String("type", evt.Type))
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.log.Debug("hub: assinante registrado", zap.Int("total", len(h.clients)))
			h.replay(client)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.log.Debug("hub: assinante removido", zap.Int("total", len(h.clients)))
			}

		case frame := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- frame:
				default:
					delete(h.clients, client)
					close(client.send)
				}
			}

		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			// Sinaliza aos pumps que ninguém mais atende register/unregister.
			close(h.done)
			return
		}
	}
}

func (h *Hub) replay(client *Client) {
	h.mu.RLock()
	fn := h.snapshot
	h.mu.RUnlock()
	if fn == nil {
		return
	}

	for _, evt := range fn() {
		frame, err := evt.Frame()
		if err != nil {
			continue
		}
		select {
		case client.send <- frame:
		default:
			return
		}
	}
}

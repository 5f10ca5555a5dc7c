package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	TypeQR         = "qr"
	TypeConnection = "connection"
	TypeMessage    = "message"
)

// Event é a unidade difundida para os assinantes do gateway
// (websocket e webhooks).
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"createdAt"`
}

func New(eventType string, payload map[string]interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// Frame serializa o evento no formato de quadro consumido pelo CRM:
// o payload achatado mais o campo "type".
func (e Event) Frame() ([]byte, error) {
	frame := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		frame[k] = v
	}
	frame["type"] = e.Type
	return json.Marshal(frame)
}

// Publisher recebe eventos da sessão. A publicação nunca bloqueia o
// chamador por causa de um assinante lento.
type Publisher interface {
	Publish(evt Event)
}

// Fanout replica a publicação para vários destinos.
type Fanout []Publisher

func (f Fanout) Publish(evt Event) {
	for _, p := range f {
		p.Publish(evt)
	}
}

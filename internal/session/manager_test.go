package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/imobcrm/wagate/internal/chatlog"
	"github.com/imobcrm/wagate/internal/config"
	"github.com/imobcrm/wagate/internal/event"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *capturePublisher) Publish(evt event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *capturePublisher) all() []event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Event, len(p.events))
	copy(out, p.events)
	return out
}

func (p *capturePublisher) last(t *testing.T) event.Event {
	t.Helper()
	evts := p.all()
	if len(evts) == 0 {
		t.Fatal("nenhum evento publicado")
	}
	return evts[len(evts)-1]
}

func mustJID(t *testing.T, s string) types.JID {
	t.Helper()
	jid, err := types.ParseJID(s)
	if err != nil {
		t.Fatalf("JID inválido no teste: %v", err)
	}
	return jid
}

func newTestManager(t *testing.T) (*Manager, *capturePublisher) {
	t.Helper()
	pub := &capturePublisher{}
	cfg := config.WhatsAppConfig{
		ReconnectDelaySeconds:    3,
		ReconnectMaxDelaySeconds: 60,
	}
	m := NewManager(zap.NewNop(), cfg, chatlog.NewIndex(), pub)
	t.Cleanup(m.Close)
	return m, pub
}

func TestSendTextRequiresConnection(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.SendText(context.Background(), "5511999999999", "olá"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("esperava ErrNotConnected, obteve %v", err)
	}
}

func TestSendMediaRequiresConnection(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.SendMedia(context.Background(), "5511999999999", "http://x/y.png", "image", ""); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("esperava ErrNotConnected, obteve %v", err)
	}
}

func TestCheckNumberRequiresConnection(t *testing.T) {
	m, _ := newTestManager(t)
	if _, _, err := m.CheckNumber(context.Background(), "5511999999999"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("esperava ErrNotConnected, obteve %v", err)
	}
}

func TestRequestPairingCodeWithoutClient(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.RequestPairingCode(context.Background(), "+55 11 99999-9999"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("esperava ErrNotReady, obteve %v", err)
	}
}

func TestRequestPairingCodeRejectsEmptyPhone(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.RequestPairingCode(context.Background(), "abc"); !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("esperava ErrInvalidPhone, obteve %v", err)
	}
}

func TestLogoutWithoutClientIsNoop(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("esperava sucesso, obteve %v", err)
	}
}

func TestQREventPublishesDataURL(t *testing.T) {
	m, pub := newTestManager(t)

	m.handleEvent(&events.QR{Codes: []string{"codigo-bruto"}})

	st := m.Status()
	if st.State != StateAwaitingPairing {
		t.Fatalf("esperava awaiting_pairing, obteve %s", st.State)
	}
	if st.Connected {
		t.Fatal("não deveria reportar conectado")
	}

	evt := pub.last(t)
	if evt.Type != event.TypeQR {
		t.Fatalf("esperava evento qr, obteve %s", evt.Type)
	}
	qr, _ := evt.Payload["qr"].(string)
	if !strings.HasPrefix(qr, "data:image/png;base64,") {
		t.Fatalf("esperava data URL PNG, obteve %q", qr)
	}
	if evt.Payload["rawQr"] != "codigo-bruto" {
		t.Fatalf("rawQr inesperado: %v", evt.Payload["rawQr"])
	}
}

func TestStatusCarriesPendingQRUntilConnected(t *testing.T) {
	m, _ := newTestManager(t)

	m.handleEvent(&events.QR{Codes: []string{"codigo"}})

	st := m.Status()
	if !strings.HasPrefix(st.QR, "data:image/png;base64,") {
		t.Fatalf("status deveria expor o QR pendente, obteve %q", st.QR)
	}

	m.handleEvent(&events.Connected{})

	if st := m.Status(); st.QR != "" {
		t.Fatalf("QR deveria sumir do status após conectar, obteve %q", st.QR)
	}
}

func TestConnectedClearsPendingQR(t *testing.T) {
	m, pub := newTestManager(t)

	m.handleEvent(&events.QR{Codes: []string{"codigo"}})
	m.handleEvent(&events.Connected{})

	st := m.Status()
	if st.State != StateConnected || !st.Connected {
		t.Fatalf("esperava conectado, obteve %+v", st)
	}

	evt := pub.last(t)
	if evt.Type != event.TypeConnection {
		t.Fatalf("esperava evento connection, obteve %s", evt.Type)
	}
	if evt.Payload["state"] != string(StateConnected) {
		t.Fatalf("estado inesperado: %v", evt.Payload["state"])
	}

	snapshot := m.Snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("QR pendente deveria ter sido limpo, snapshot: %d eventos", len(snapshot))
	}
}

func TestDisconnectedWithoutClientDoesNotReconnect(t *testing.T) {
	m, pub := newTestManager(t)

	m.handleEvent(&events.Disconnected{})

	m.mu.RLock()
	timer := m.reconnectTimer
	m.mu.RUnlock()
	if timer != nil {
		t.Fatal("sem cliente não deveria agendar reconexão")
	}

	evt := pub.last(t)
	if evt.Type != event.TypeConnection || evt.Payload["state"] != string(StateDisconnected) {
		t.Fatalf("evento inesperado: %+v", evt)
	}
}

func TestDisconnectedSchedulesSingleReconnect(t *testing.T) {
	m, _ := newTestManager(t)

	m.mu.Lock()
	m.client = &whatsmeow.Client{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.client = nil
		m.mu.Unlock()
	}()

	m.handleEvent(&events.Disconnected{})

	m.mu.RLock()
	timer := m.reconnectTimer
	attempts := m.reconnectAttempts
	m.mu.RUnlock()
	if timer == nil {
		t.Fatal("esperava timer de reconexão agendado")
	}
	if attempts != 1 {
		t.Fatalf("esperava 1 tentativa registrada, obteve %d", attempts)
	}

	// Nova desconexão com timer pendente não empilha outro.
	m.handleEvent(&events.Disconnected{})

	m.mu.RLock()
	attempts = m.reconnectAttempts
	m.mu.RUnlock()
	if attempts != 1 {
		t.Fatalf("timer pendente não deveria ser duplicado, tentativas: %d", attempts)
	}
}

func TestLoggedOutCancelsReconnect(t *testing.T) {
	m, pub := newTestManager(t)

	m.mu.Lock()
	m.reconnectTimer = time.AfterFunc(time.Hour, func() {})
	m.mu.Unlock()

	m.handleEvent(&events.LoggedOut{Reason: events.ConnectFailureLoggedOut})

	m.mu.RLock()
	timer := m.reconnectTimer
	state := m.state
	m.mu.RUnlock()

	if timer != nil {
		t.Fatal("logout deveria cancelar a reconexão pendente")
	}
	if state != StateDisconnected {
		t.Fatalf("esperava disconnected, obteve %s", state)
	}

	evt := pub.last(t)
	if evt.Payload["loggedOut"] != true {
		t.Fatalf("esperava marcação de logout no evento: %+v", evt.Payload)
	}
}

func TestLoggedOutDropsClientForFreshPairing(t *testing.T) {
	m, _ := newTestManager(t)

	m.mu.Lock()
	m.client = &whatsmeow.Client{}
	m.mu.Unlock()

	m.handleEvent(&events.LoggedOut{Reason: events.ConnectFailureLoggedOut})

	m.mu.RLock()
	client := m.client
	container := m.container
	m.mu.RUnlock()

	if client != nil {
		t.Fatal("logout deveria descartar o cliente para permitir novo pareamento")
	}
	if container != nil {
		t.Fatal("logout deveria descartar o container de credenciais")
	}
}

func TestStartCoalescesConcurrentCalls(t *testing.T) {
	m, _ := newTestManager(t)

	m.mu.Lock()
	m.starting = true
	m.mu.Unlock()

	// Com outro Start em andamento a chamada retorna sem criar cliente.
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start coalescido deveria ser no-op, obteve %v", err)
	}

	m.mu.RLock()
	client := m.client
	starting := m.starting
	m.mu.RUnlock()

	if client != nil {
		t.Fatal("chamada coalescida não deveria criar um segundo cliente")
	}
	if !starting {
		t.Fatal("a flag do Start em andamento não deveria ser limpa pela chamada coalescida")
	}

	m.mu.Lock()
	m.starting = false
	m.mu.Unlock()
}

func TestReconnectDelayGrowsUpToCap(t *testing.T) {
	m, _ := newTestManager(t)

	if d := m.reconnectDelay(0); d != 3*time.Second {
		t.Fatalf("primeira tentativa: esperava 3s, obteve %s", d)
	}
	if d := m.reconnectDelay(2); d != 12*time.Second {
		t.Fatalf("terceira tentativa: esperava 12s, obteve %s", d)
	}
	if d := m.reconnectDelay(10); d != 60*time.Second {
		t.Fatalf("teto: esperava 60s, obteve %s", d)
	}
}

func TestIncomingMessageIndexedAndPublished(t *testing.T) {
	m, pub := newTestManager(t)

	evt := &events.Message{
		Message: &waE2E.Message{Conversation: proto.String("tem interesse no imóvel?")},
	}
	evt.Info.ID = "MSG1"
	evt.Info.PushName = "Cliente"
	evt.Info.Timestamp = time.Now()
	evt.Info.Chat = mustJID(t, "5511988887777@s.whatsapp.net")
	evt.Info.Sender = mustJID(t, "5511988887777@s.whatsapp.net")

	m.handleEvent(evt)

	msgs := m.index.MessagesFor("5511988887777@s.whatsapp.net")
	if len(msgs) != 1 {
		t.Fatalf("esperava 1 mensagem no índice, obteve %d", len(msgs))
	}
	if msgs[0].Text != "tem interesse no imóvel?" || msgs[0].Type != "text" {
		t.Fatalf("mensagem inesperada: %+v", msgs[0])
	}

	published := pub.last(t)
	if published.Type != event.TypeMessage {
		t.Fatalf("esperava evento message, obteve %s", published.Type)
	}
}

func TestSnapshotIncludesPendingQR(t *testing.T) {
	m, _ := newTestManager(t)

	m.handleEvent(&events.QR{Codes: []string{"codigo"}})

	snapshot := m.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("esperava 2 eventos no snapshot, obteve %d", len(snapshot))
	}
	if snapshot[0].Type != event.TypeConnection {
		t.Fatalf("primeiro evento deveria ser connection, obteve %s", snapshot[0].Type)
	}
	if snapshot[1].Type != event.TypeQR {
		t.Fatalf("segundo evento deveria ser qr, obteve %s", snapshot[1].Type)
	}
}

func TestParseJID(t *testing.T) {
	jid, err := parseJID("+55 (11) 99999-9999")
	if err != nil {
		t.Fatalf("erro inesperado: %v", err)
	}
	if jid.User != "5511999999999" {
		t.Fatalf("user inesperado: %s", jid.User)
	}

	jid, err = parseJID("123456789@g.us")
	if err != nil {
		t.Fatalf("erro inesperado: %v", err)
	}
	if jid.Server != "g.us" {
		t.Fatalf("server inesperado: %s", jid.Server)
	}

	if _, err := parseJID("   "); !errors.Is(err, ErrInvalidJID) {
		t.Fatalf("esperava ErrInvalidJID, obteve %v", err)
	}
}

func TestExtractTextAndKind(t *testing.T) {
	text := &waE2E.Message{Conversation: proto.String("olá")}
	if extractText(text) != "olá" || messageKind(text) != "text" {
		t.Fatal("mensagem de texto mal classificada")
	}

	img := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("fachada")}}
	if extractText(img) != "fachada" || messageKind(img) != "image" {
		t.Fatal("mensagem de imagem mal classificada")
	}

	if messageKind(nil) != "unknown" {
		t.Fatal("mensagem nula deveria ser unknown")
	}
}

package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/imobcrm/wagate/internal/chatlog"
	"github.com/imobcrm/wagate/internal/config"
	"github.com/imobcrm/wagate/internal/event"
)

type noopLogger struct{}

func (n *noopLogger) Debugf(msg string, args ...interface{}) {}
func (n *noopLogger) Infof(msg string, args ...interface{})  {}
func (n *noopLogger) Warnf(msg string, args ...interface{})  {}
func (n *noopLogger) Errorf(msg string, args ...interface{}) {}
func (n *noopLogger) Sub(module string) waLog.Logger         { return n }

// State descreve o ciclo de vida da sessão com o WhatsApp.
type State string

const (
	StateDisconnected    State = "disconnected"
	StateAwaitingPairing State = "awaiting_pairing"
	StateConnected       State = "connected"
)

// Identity é a conta autenticada na sessão.
type Identity struct {
	JID  string `json:"id"`
	Name string `json:"name"`
}

type Status struct {
	Connected bool      `json:"connected"`
	State     State     `json:"state"`
	User      *Identity `json:"user,omitempty"`
	QR        string    `json:"qr,omitempty"`
}

// Manager mantém a única sessão WhatsApp do gateway: abre o store de
// credenciais, conecta o cliente whatsmeow, traduz os eventos do
// protocolo em transições de estado e comanda a política de reconexão.
// O handler de eventos é registrado uma única vez, na criação do cliente.
type Manager struct {
	log        *zap.Logger
	cfg        config.WhatsAppConfig
	index      *chatlog.Index
	pub        event.Publisher
	httpClient *http.Client

	mu                sync.RWMutex
	container         *sqlstore.Container
	client            *whatsmeow.Client
	state             State
	identity          *Identity
	pendingQR         string
	pendingRawQR      string
	reconnectTimer    *time.Timer
	reconnectAttempts int
	starting          bool
	closed            bool
}

func NewManager(log *zap.Logger, cfg config.WhatsAppConfig, index *chatlog.Index, pub event.Publisher) *Manager {
	return &Manager{
		log:   log,
		cfg:   cfg,
		index: index,
		pub:   pub,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		state: StateDisconnected,
	}
}

// Start abre o store de credenciais e conecta o cliente. Com
// credenciais válidas a sessão é retomada; sem elas o whatsmeow emite
// o desafio QR pelo handler de eventos. Chamadas repetidas são no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	// Start em andamento ou cliente já criado: chamada coalescida.
	if m.client != nil || m.starting {
		m.mu.Unlock()
		return nil
	}
	m.starting = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.starting = false
		m.mu.Unlock()
	}()

	clientLog := &noopLogger{}
	container, err := openContainer(ctx, m.cfg, clientLog)
	if err != nil {
		return err
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("sessão: obter device: %w", err)
	}

	store.SetOSInfo(m.cfg.BrowserName, [3]uint32{1, 0, 0})

	client := whatsmeow.NewClient(deviceStore, clientLog)
	// A reconexão é política do manager, não do whatsmeow.
	client.EnableAutoReconnect = false
	client.AddEventHandler(m.handleEvent)

	m.mu.Lock()
	m.container = container
	m.client = client
	m.mu.Unlock()

	if deviceStore.ID != nil && !deviceStore.ID.IsEmpty() {
		m.log.Info("credenciais encontradas, retomando sessão",
			zap.String("jid", deviceStore.ID.String()),
		)
	} else {
		m.log.Info("sem credenciais, aguardando pareamento")
	}

	if err := client.Connect(); err != nil {
		return fmt.Errorf("sessão: conectar: %w", err)
	}
	return nil
}

// Close derruba a sessão sem deslogar, para shutdown do processo.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	client := m.client
	m.mu.Unlock()

	if client != nil {
		client.Disconnect()
	}
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() Status {
	st := Status{
		Connected: m.state == StateConnected,
		State:     m.state,
	}
	if m.identity != nil {
		user := *m.identity
		st.User = &user
	}
	st.QR = m.pendingQR
	return st
}

// Snapshot monta os eventos reenviados a cada novo assinante do
// websocket: o estado atual da conexão e, se houver, o QR pendente.
func (m *Manager) Snapshot() []event.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := m.statusLocked()
	payload := map[string]interface{}{"state": string(st.State)}
	if st.User != nil {
		payload["user"] = st.User
	}
	evts := []event.Event{event.New(event.TypeConnection, payload)}

	if m.pendingQR != "" {
		evts = append(evts, event.New(event.TypeQR, map[string]interface{}{
			"qr":    m.pendingQR,
			"rawQr": m.pendingRawQR,
		}))
	}
	return evts
}

// SendText envia texto simples e registra a mensagem no índice.
func (m *Manager) SendText(ctx context.Context, to, text string) (string, error) {
	client, err := m.connectedClient()
	if err != nil {
		return "", err
	}

	jid, err := parseJID(to)
	if err != nil {
		return "", err
	}

	msg := &waE2E.Message{
		Conversation: proto.String(text),
	}

	resp, err := client.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", fmt.Errorf("sessão: enviar mensagem: %w", err)
	}

	m.log.Info("mensagem enviada",
		zap.String("to", jid.String()),
		zap.String("server_id", resp.ID),
	)

	m.recordOutgoing(jid, resp, "text", text)
	return resp.ID, nil
}

// SendMedia baixa a mídia da URL informada, sobe para o WhatsApp e
// envia a mensagem do tipo correspondente.
func (m *Manager) SendMedia(ctx context.Context, to, mediaURL, mediaType, caption string) (string, error) {
	client, err := m.connectedClient()
	if err != nil {
		return "", err
	}

	jid, err := parseJID(to)
	if err != nil {
		return "", err
	}

	var waMediaType whatsmeow.MediaType
	switch mediaType {
	case "image":
		waMediaType = whatsmeow.MediaImage
	case "video":
		waMediaType = whatsmeow.MediaVideo
	case "audio":
		waMediaType = whatsmeow.MediaAudio
	case "document":
		waMediaType = whatsmeow.MediaDocument
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mediaType)
	}

	data, mimeType, err := m.fetchMedia(ctx, mediaURL)
	if err != nil {
		return "", err
	}

	uploadResp, err := client.Upload(ctx, data, waMediaType)
	if err != nil {
		return "", fmt.Errorf("sessão: upload de mídia: %w", err)
	}

	var waMessage *waE2E.Message
	switch mediaType {
	case "image":
		imageMsg := &waE2E.ImageMessage{
			URL:           &uploadResp.URL,
			DirectPath:    &uploadResp.DirectPath,
			MediaKey:      uploadResp.MediaKey,
			FileEncSHA256: uploadResp.FileEncSHA256,
			FileSHA256:    uploadResp.FileSHA256,
			FileLength:    &uploadResp.FileLength,
			Mimetype:      proto.String(mimeType),
		}
		if caption != "" {
			imageMsg.Caption = proto.String(caption)
		}
		waMessage = &waE2E.Message{ImageMessage: imageMsg}

	case "video":
		videoMsg := &waE2E.VideoMessage{
			URL:           &uploadResp.URL,
			DirectPath:    &uploadResp.DirectPath,
			MediaKey:      uploadResp.MediaKey,
			FileEncSHA256: uploadResp.FileEncSHA256,
			FileSHA256:    uploadResp.FileSHA256,
			FileLength:    &uploadResp.FileLength,
			Mimetype:      proto.String(mimeType),
		}
		if caption != "" {
			videoMsg.Caption = proto.String(caption)
		}
		waMessage = &waE2E.Message{VideoMessage: videoMsg}

	case "audio":
		waMessage = &waE2E.Message{
			AudioMessage: &waE2E.AudioMessage{
				URL:           &uploadResp.URL,
				DirectPath:    &uploadResp.DirectPath,
				MediaKey:      uploadResp.MediaKey,
				FileEncSHA256: uploadResp.FileEncSHA256,
				FileSHA256:    uploadResp.FileSHA256,
				FileLength:    &uploadResp.FileLength,
				Mimetype:      proto.String(mimeType),
			},
		}

	case "document":
		docMsg := &waE2E.DocumentMessage{
			URL:           &uploadResp.URL,
			DirectPath:    &uploadResp.DirectPath,
			MediaKey:      uploadResp.MediaKey,
			FileEncSHA256: uploadResp.FileEncSHA256,
			FileSHA256:    uploadResp.FileSHA256,
			FileLength:    &uploadResp.FileLength,
			Mimetype:      proto.String(mimeType),
			FileName:      proto.String("document"),
		}
		if caption != "" {
			docMsg.Caption = proto.String(caption)
		}
		waMessage = &waE2E.Message{DocumentMessage: docMsg}
	}

	resp, err := client.SendMessage(ctx, jid, waMessage)
	if err != nil {
		return "", fmt.Errorf("sessão: enviar mídia: %w", err)
	}

	m.log.Info("mídia enviada",
		zap.String("to", jid.String()),
		zap.String("media_type", mediaType),
		zap.String("server_id", resp.ID),
	)

	m.recordOutgoing(jid, resp, mediaType, caption)
	return resp.ID, nil
}

// RequestPairingCode pede um código de pareamento por telefone, a
// alternativa ao QR. Falha se já houver credenciais no store.
func (m *Manager) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	digits := digitsOnly(phone)
	if digits == "" {
		return "", ErrInvalidPhone
	}

	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()

	if client == nil {
		return "", ErrNotReady
	}
	if client.Store.ID != nil && !client.Store.ID.IsEmpty() {
		return "", ErrAlreadyRegistered
	}

	code, err := client.PairPhone(ctx, digits, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
	if err != nil {
		return "", fmt.Errorf("sessão: pareamento por telefone: %w", err)
	}

	m.log.Info("código de pareamento gerado", zap.String("phone", digits))
	return code, nil
}

// Logout desloga a conta e invalida as credenciais. Sem sessão ativa é
// no-op de sucesso. Depois do logout não há reconexão automática; o
// mesmo cliente fica pronto para um novo pareamento.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()

	if client == nil {
		return nil
	}

	m.log.Info("deslogando sessão")
	if err := client.Logout(ctx); err != nil {
		m.log.Warn("logout falhou, derrubando conexão", zap.Error(err))
		client.Disconnect()
	}

	m.mu.Lock()
	m.state = StateDisconnected
	m.identity = nil
	m.pendingQR = ""
	m.pendingRawQR = ""
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.client = nil
	m.container = nil
	m.mu.Unlock()

	m.publish(event.New(event.TypeConnection, map[string]interface{}{
		"state":     string(StateDisconnected),
		"loggedOut": true,
	}))
	return nil
}

// CheckNumber consulta se o telefone tem conta no WhatsApp.
func (m *Manager) CheckNumber(ctx context.Context, phone string) (bool, string, error) {
	client, err := m.connectedClient()
	if err != nil {
		return false, "", err
	}

	digits := digitsOnly(phone)
	if digits == "" {
		return false, "", ErrInvalidPhone
	}

	resp, err := client.IsOnWhatsApp(ctx, []string{"+" + digits})
	if err != nil {
		return false, "", fmt.Errorf("sessão: consultar número: %w", err)
	}
	if len(resp) == 0 {
		return false, "", nil
	}
	if !resp[0].IsIn {
		return false, "", nil
	}
	return true, resp[0].JID.String(), nil
}

func (m *Manager) connectedClient() (*whatsmeow.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil || m.state != StateConnected {
		return nil, ErrNotConnected
	}
	return m.client, nil
}

func (m *Manager) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.QR:
		m.handleQR(v)
	case *events.PairSuccess:
		m.log.Info("pareamento concluído", zap.String("jid", v.ID.String()))
	case *events.Connected:
		m.handleConnected()
	case *events.Disconnected:
		m.log.Warn("sessão desconectada")
		m.markDisconnected(true)
	case *events.LoggedOut:
		m.log.Warn("sessão deslogada pelo servidor", zap.String("reason", v.Reason.String()))
		m.handleLoggedOut()
	case *events.ConnectFailure:
		m.log.Error("falha de conexão",
			zap.String("reason", v.Reason.String()),
			zap.String("message", v.Message),
		)
		m.markDisconnected(true)
	case *events.StreamError:
		m.log.Error("erro de stream", zap.String("code", v.Code))
		m.markDisconnected(true)
	case *events.TemporaryBan:
		m.log.Error("conta temporariamente banida",
			zap.String("code", v.Code.String()),
			zap.Duration("expire", v.Expire),
		)
		m.markDisconnected(false)
	case *events.Message:
		m.handleMessage(v)
	default:
		m.log.Debug("evento ignorado", zap.String("event_type", fmt.Sprintf("%T", evt)))
	}
}

func (m *Manager) handleQR(evt *events.QR) {
	if len(evt.Codes) == 0 {
		return
	}
	code := evt.Codes[0]

	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		m.log.Error("erro ao gerar imagem do QR", zap.Error(err))
		return
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)

	m.mu.Lock()
	m.state = StateAwaitingPairing
	m.identity = nil
	m.pendingQR = dataURL
	m.pendingRawQR = code
	m.mu.Unlock()

	m.log.Info("QR de pareamento disponível")
	m.publish(event.New(event.TypeQR, map[string]interface{}{
		"qr":    dataURL,
		"rawQr": code,
	}))
}

func (m *Manager) handleConnected() {
	m.mu.Lock()
	m.state = StateConnected
	m.pendingQR = ""
	m.pendingRawQR = ""
	m.reconnectAttempts = 0
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.client != nil && m.client.Store != nil && m.client.Store.ID != nil {
		m.identity = &Identity{
			JID:  m.client.Store.ID.String(),
			Name: m.client.Store.PushName,
		}
	}
	identity := m.identity
	m.mu.Unlock()

	if identity != nil {
		m.log.Info("sessão conectada",
			zap.String("jid", identity.JID),
			zap.String("name", identity.Name),
		)
	} else {
		m.log.Info("sessão conectada")
	}

	payload := map[string]interface{}{"state": string(StateConnected)}
	if identity != nil {
		payload["user"] = identity
	}
	m.publish(event.New(event.TypeConnection, payload))
}

func (m *Manager) handleLoggedOut() {
	m.mu.Lock()
	m.state = StateDisconnected
	m.identity = nil
	m.pendingQR = ""
	m.pendingRawQR = ""
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	// Sem o cliente antigo o próximo Start refaz o pareamento do zero.
	m.client = nil
	m.container = nil
	m.mu.Unlock()

	m.publish(event.New(event.TypeConnection, map[string]interface{}{
		"state":     string(StateDisconnected),
		"loggedOut": true,
	}))
}

func (m *Manager) markDisconnected(reconnect bool) {
	m.mu.Lock()
	m.state = StateDisconnected
	m.identity = nil
	if reconnect {
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()

	m.publish(event.New(event.TypeConnection, map[string]interface{}{
		"state": string(StateDisconnected),
	}))
}

// scheduleReconnectLocked agenda no máximo um timer de reconexão.
// Chamador deve segurar m.mu.
func (m *Manager) scheduleReconnectLocked() {
	if m.reconnectTimer != nil || m.closed || m.client == nil {
		return
	}
	delay := m.reconnectDelay(m.reconnectAttempts)
	m.reconnectAttempts++

	m.log.Info("reconexão agendada",
		zap.Duration("delay", delay),
		zap.Int("attempt", m.reconnectAttempts),
	)
	m.reconnectTimer = time.AfterFunc(delay, m.reconnect)
}

func (m *Manager) reconnectDelay(attempt int) time.Duration {
	base := time.Duration(m.cfg.ReconnectDelaySeconds) * time.Second
	if base <= 0 {
		base = 3 * time.Second
	}
	max := time.Duration(m.cfg.ReconnectMaxDelaySeconds) * time.Second
	if max < base {
		max = base
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	return delay
}

func (m *Manager) reconnect() {
	m.mu.Lock()
	m.reconnectTimer = nil
	client := m.client
	closed := m.closed
	m.mu.Unlock()

	if closed || client == nil || client.IsConnected() {
		return
	}

	m.log.Info("tentando reconectar")
	if err := client.Connect(); err != nil {
		m.log.Warn("reconexão falhou", zap.Error(err))
		m.mu.Lock()
		m.scheduleReconnectLocked()
		m.mu.Unlock()
	}
}

func (m *Manager) handleMessage(evt *events.Message) {
	msg := chatlog.Message{
		ID:        evt.Info.ID,
		ChatJID:   evt.Info.Chat.String(),
		Sender:    evt.Info.Sender.String(),
		FromMe:    evt.Info.IsFromMe,
		PushName:  evt.Info.PushName,
		Type:      messageKind(evt.Message),
		Text:      extractText(evt.Message),
		Timestamp: evt.Info.Timestamp,
	}

	m.index.Append(msg)
	m.publish(event.New(event.TypeMessage, map[string]interface{}{
		"message": msg,
	}))
}

func (m *Manager) recordOutgoing(jid types.JID, resp whatsmeow.SendResponse, kind, text string) {
	m.mu.RLock()
	sender := ""
	if m.identity != nil {
		sender = m.identity.JID
	}
	m.mu.RUnlock()

	msg := chatlog.Message{
		ID:        resp.ID,
		ChatJID:   jid.String(),
		Sender:    sender,
		FromMe:    true,
		Type:      kind,
		Text:      text,
		Timestamp: resp.Timestamp,
	}

	m.index.Append(msg)
	m.publish(event.New(event.TypeMessage, map[string]interface{}{
		"message": msg,
	}))
}

func (m *Manager) fetchMedia(ctx context.Context, mediaURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("sessão: baixar mídia: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("sessão: baixar mídia: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("sessão: baixar mídia: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("sessão: baixar mídia: %w", err)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return data, mimeType, nil
}

func (m *Manager) publish(evt event.Event) {
	if m.pub != nil {
		m.pub.Publish(evt)
	}
}

func parseJID(to string) (types.JID, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return types.EmptyJID, ErrInvalidJID
	}

	if strings.Contains(to, "@") {
		jid, err := types.ParseJID(to)
		if err != nil {
			return types.EmptyJID, fmt.Errorf("%w: %s", ErrInvalidJID, to)
		}
		return jid, nil
	}

	digits := digitsOnly(to)
	if digits == "" {
		return types.EmptyJID, fmt.Errorf("%w: %s", ErrInvalidJID, to)
	}
	return types.ParseJID(digits + "@s.whatsapp.net")
}

func digitsOnly(phone string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
}

func messageKind(msg *waE2E.Message) string {
	switch {
	case msg == nil:
		return "unknown"
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	default:
		return "other"
	}
}

func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if text := msg.GetConversation(); text != "" {
		return text
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetCaption()
	}
	return ""
}

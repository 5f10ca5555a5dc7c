package session

import "errors"

var (
	// ErrNotConnected cobre operações que exigem sessão autenticada e ativa.
	ErrNotConnected = errors.New("whatsapp não conectado")

	// ErrNotReady indica que o cliente da sessão ainda não foi inicializado.
	ErrNotReady = errors.New("sessão ainda não inicializada")

	// ErrAlreadyRegistered impede novo pareamento com credenciais válidas no store.
	ErrAlreadyRegistered = errors.New("dispositivo já pareado com uma conta")

	ErrInvalidJID           = errors.New("destinatário inválido")
	ErrInvalidPhone         = errors.New("telefone inválido")
	ErrUnsupportedMediaType = errors.New("tipo de mídia não suportado")
)

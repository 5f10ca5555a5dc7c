package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/imobcrm/wagate/internal/config"
)

// openContainer abre o repositório de credenciais da sessão. O conteúdo
// é opaco para o restante do gateway; o whatsmeow persiste cada
// atualização de credenciais dentro de transações, então nunca fica um
// bundle parcial em disco.
func openContainer(ctx context.Context, cfg config.WhatsAppConfig, clientLog waLog.Logger) (*sqlstore.Container, error) {
	if cfg.Driver == "postgres" && cfg.DatabaseURL != "" {
		container, err := sqlstore.New(ctx, "postgres", cfg.DatabaseURL, clientLog)
		if err != nil {
			return nil, fmt.Errorf("sessão: criar store PostgreSQL: %w", err)
		}
		return container, nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("sessão: criar diretório de dados: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "session.db")
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", dbPath)
	container, err := sqlstore.New(ctx, "sqlite3", dsn, clientLog)
	if err != nil {
		return nil, fmt.Errorf("sessão: criar store SQLite: %w", err)
	}
	return container, nil
}

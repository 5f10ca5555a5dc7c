// Package app encapsula o ciclo de vida do servidor HTTP.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/imobcrm/wagate/internal/config"
)

type App struct {
	server *http.Server
	log    *zap.Logger
}

func New(cfg *config.Config, log *zap.Logger, handler http.Handler) *App {
	return &App{
		server: &http.Server{
			Addr:              ":" + cfg.App.Port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Run bloqueia até o servidor encerrar. ErrServerClosed não é erro:
// significa que Shutdown foi chamado.
func (a *App) Run() error {
	a.log.Info("servidor http iniciado", zap.String("addr", a.server.Addr))
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/imobcrm/wagate/internal/api/handler"
	"github.com/imobcrm/wagate/internal/api/middleware"
	"github.com/imobcrm/wagate/internal/app"
	"github.com/imobcrm/wagate/internal/chatlog"
	"github.com/imobcrm/wagate/internal/config"
	"github.com/imobcrm/wagate/internal/event"
	"github.com/imobcrm/wagate/internal/logger"
	"github.com/imobcrm/wagate/internal/pkg/queue"
	memoryqueue "github.com/imobcrm/wagate/internal/pkg/queue/memory"
	redisqueue "github.com/imobcrm/wagate/internal/pkg/queue/redis"
	"github.com/imobcrm/wagate/internal/pkg/ratelimiter"
	memorylimiter "github.com/imobcrm/wagate/internal/pkg/ratelimiter/memory"
	redislimiter "github.com/imobcrm/wagate/internal/pkg/ratelimiter/redis"
	"github.com/imobcrm/wagate/internal/server"
	"github.com/imobcrm/wagate/internal/session"
	redisstore "github.com/imobcrm/wagate/internal/storage/redis"
	"github.com/imobcrm/wagate/internal/webhook"
	"github.com/imobcrm/wagate/internal/webhook/delivery"
)

func main() {
	cfg := config.Load()

	logr, err := logger.New(cfg.App.Env, cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logr.Sync()

	logr.Info("iniciando gateway",
		zap.String("env", cfg.App.Env),
		zap.String("log_level", cfg.Log.Level),
		zap.String("port", cfg.App.Port),
		zap.String("wa_db_driver", cfg.WhatsApp.Driver),
		zap.String("data_dir", cfg.WhatsApp.DataDir),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis é opcional: sem ele, limiter e fila de webhook rodam em memória.
	var redisClient *redisstore.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisstore.New(cfg.Redis, logr)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
	}

	var limiter ratelimiter.Limiter
	if redisClient != nil {
		limiter = redislimiter.NewLimiter(redisClient.RDB())
	} else {
		limiter = memorylimiter.NewLimiter()
	}

	index := chatlog.NewIndex()

	hub := event.NewHub(logr)
	go hub.Run(ctx)

	publishers := event.Fanout{hub}

	var forwarder *webhook.Forwarder
	if cfg.Webhook.URL != "" {
		var eventQueue queue.Queue
		if redisClient != nil {
			eventQueue = redisqueue.NewQueue(redisClient.RDB(), cfg.Webhook.QueueKey)
		} else {
			eventQueue = memoryqueue.NewQueue(1000)
		}
		webhookDelivery := delivery.NewDelivery(logr, 3)
		forwarder = webhook.NewForwarder(eventQueue, webhookDelivery, cfg.Webhook.URL, cfg.Webhook.Secret, cfg.Webhook.Workers, logr)
		forwarder.Start(context.Background())
		publishers = append(publishers, forwarder)
		logr.Info("encaminhamento de eventos via webhook habilitado",
			zap.String("url", cfg.Webhook.URL),
			zap.Int("workers", cfg.Webhook.Workers),
		)
	}

	manager := session.NewManager(logr, cfg.WhatsApp, index, publishers)
	hub.SetSnapshot(manager.Snapshot)

	if err := manager.Start(ctx); err != nil {
		log.Fatalf("whatsapp: %v", err)
	}

	rateLimitOpts := middleware.RateLimitOption{
		Enabled:  cfg.RateLimit.Enabled,
		Requests: cfg.RateLimit.Requests,
		Window:   time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
		Prefix:   cfg.RateLimit.Prefix,
		Logger:   logr,
		Limiter:  limiter,
	}

	router := server.NewRouter(server.Options{
		Env:            cfg.App.Env,
		AuthSecret:     cfg.Auth.Secret,
		GatewayHandler: handler.NewGatewayHandler(manager),
		ChatHandler:    handler.NewChatHandler(index),
		StreamHandler:  handler.NewStreamHandler(hub, logr),
		HealthHandler:  handler.NewHealthHandler(index),
		RateLimit:      rateLimitOpts,
	})

	application := app.New(&cfg, logr, router)

	errCh := make(chan error, 1)
	go func() {
		if err := application.Run(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logr.Info("sinal de encerramento recebido")
	case err := <-errCh:
		logr.Error("servidor finalizado com erro", zap.Error(err))
	}

	logr.Info("iniciando shutdown graceful")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if forwarder != nil {
		forwarder.Stop()
		logr.Info("workers de webhook encerrados")
	}

	manager.Close()
	logr.Info("sessão whatsapp encerrada")

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logr.Warn("erro ao fechar conexão redis", zap.Error(err))
		}
	}

	if err := application.Shutdown(shutdownCtx); err != nil {
		logr.Error("erro ao encerrar servidor", zap.Error(err))
	} else {
		logr.Info("servidor encerrado com sucesso")
	}
}

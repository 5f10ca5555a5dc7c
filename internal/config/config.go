package config

import (
	"log"

	"github.com/caarlos0/env/v10"
)

const Version = "1.0.0"

type Config struct {
	App       AppConfig
	Log       LogConfig
	WhatsApp  WhatsAppConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Webhook   WebhookConfig
}

type AppConfig struct {
	Env  string `env:"APP_ENV" envDefault:"development"`
	Port string `env:"PORT" envDefault:"3001"`
}

type LogConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"debug"`
}

type WhatsAppConfig struct {
	Driver      string `env:"WA_DB_DRIVER" envDefault:"sqlite"`
	DataDir     string `env:"DATA_DIR" envDefault:"./data"`
	DatabaseURL string `env:"DATABASE_URL"`
	BrowserName string `env:"WA_BROWSER_NAME" envDefault:"Real Estate CRM"`

	// Política de reconexão: atraso base com teto configurável.
	ReconnectDelaySeconds    int `env:"WA_RECONNECT_DELAY_SECONDS" envDefault:"3"`
	ReconnectMaxDelaySeconds int `env:"WA_RECONNECT_MAX_DELAY_SECONDS" envDefault:"60"`
}

// AuthConfig é opcional: com Secret vazio as rotas ficam abertas
// (o gateway roda na rede interna do CRM).
type AuthConfig struct {
	Secret string `env:"AUTH_SECRET"`
}

type RateLimitConfig struct {
	Enabled       bool   `env:"RATE_LIMIT_ENABLED" envDefault:"false"`
	Requests      int    `env:"RATE_LIMIT_REQUESTS" envDefault:"300"`
	WindowSeconds int    `env:"RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`
	Prefix        string `env:"RATE_LIMIT_PREFIX" envDefault:"ratelimit:gateway"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
}

type WebhookConfig struct {
	URL      string `env:"WEBHOOK_URL"`
	Secret   string `env:"WEBHOOK_SECRET"`
	Workers  int    `env:"WEBHOOK_WORKERS" envDefault:"2"`
	QueueKey string `env:"WEBHOOK_QUEUE_KEY" envDefault:"wagate:webhook:events"`
}

// Load carrega as configurações da aplicação.
func Load() Config {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("config: não foi possível carregar variáveis: %v", err)
	}
	return cfg
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	// this will automatically load your .env file:
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Env      string `env:"ENV" env-default:"local"`
	HTTP     HTTPConfig
	Logs     LogConfig
	DB       PostgresConfig
	Supabase SupabaseConfig
	Stripe   StripeConfig
	AI       AIConfig
	WhatsApp WhatsAppConfig
	Queue    QueueConfig
	Redis    RedisConfig
	Flows    FlowsConfig
}

type HTTPConfig struct {
	Address      string        `env:"HTTP_ADDRESS" env-default:"0.0.0.0:8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" env-default:"90s"`
	AllowOrigins []string      `env:"HTTP_ALLOW_ORIGINS" env-default:"*" env-separator:","`
}

type LogConfig struct {
	Style string `env:"LOG_STYLE" env-default:"console"`
	Level string `env:"LOG_LEVEL" env-default:"info"`
}

type PostgresConfig struct {
	Username    string `env:"POSTGRES_USER"`
	Password    string `env:"POSTGRES_PWD"`
	URL         string `env:"POSTGRES_URL"`
	Port        string `env:"POSTGRES_PORT" env-default:"5432"`
	Name        string `env:"POSTGRES_DB" env-default:"postgres"`
	SSLMode     string `env:"POSTGRES_SSLMODE" env-default:"require"`
	DSN         string `env:"DATABASE_URL"`
	AutoMigrate bool   `env:"DB_AUTO_MIGRATE" env-default:"true"`
}

// ConnString prefers DATABASE_URL and falls back to the discrete POSTGRES_* vars.
func (p PostgresConfig) ConnString() string {
	if p.DSN != "" {
		return p.DSN
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		p.Username,
		p.Password,
		p.URL,
		p.Port,
		p.Name,
		p.SSLMode,
	)
}

type SupabaseConfig struct {
	URL       string `env:"SUPABASE_URL"`
	AnonKey   string `env:"SUPABASE_ANON_KEY"`
	JWTSecret string `env:"SUPABASE_JWT_SECRET"`
	Audience  string `env:"SUPABASE_JWT_AUDIENCE" env-default:"authenticated"`
	JWKSURL   string `env:"SUPABASE_JWKS_URL"`
	// AuthDisabled skips token checks outside production.
	AuthDisabled bool `env:"AUTH_DISABLED" env-default:"false"`
}

// Issuer is the "iss" claim Supabase puts on access tokens.
func (s SupabaseConfig) Issuer() string {
	if s.URL == "" {
		return ""
	}
	return strings.TrimRight(s.URL, "/") + "/auth/v1"
}

type StripeConfig struct {
	SecretKey          string        `env:"STRIPE_SECRET_KEY"`
	WebhookSecret      string        `env:"STRIPE_WEBHOOK_SECRET"`
	PriceIDPersonal    string        `env:"STRIPE_PRICE_PERSONAL"`
	PriceIDBusiness    string        `env:"STRIPE_PRICE_BUSINESS"`
	PriceIDExclusive   string        `env:"STRIPE_PRICE_EXCLUSIVE"`
	FrontendURL        string        `env:"SITE_URL"`
	WebhookDedupWindow time.Duration `env:"STRIPE_WEBHOOK_DEDUP_WINDOW" env-default:"72h"`
}

type AIConfig struct {
	APIKey        string        `env:"GEMINI_API_KEY"`
	Model         string        `env:"GEMINI_MODEL" env-default:"gemini-2.0-flash"`
	Timeout       time.Duration `env:"AI_TIMEOUT" env-default:"60s"`
	MaxAudioBytes int64         `env:"AI_MAX_AUDIO_BYTES" env-default:"20971520"`
}

type WhatsAppConfig struct {
	CreateInstanceURL string        `env:"CREATE_INSTANCE_WEBHOOK_URL"`
	QRCodeURL         string        `env:"QR_CODE_WEBHOOK_URL"`
	StatusURL         string        `env:"ACTIVE_WEBHOOK_URL"`
	Timeout           time.Duration `env:"WHATSAPP_TIMEOUT" env-default:"20s"`
}

type QueueConfig struct {
	Driver   string `env:"QUEUE_DRIVER" env-default:"none"` // sqs, amqp, none
	QueueURL string `env:"QUEUE_URL"`
	AMQPURL  string `env:"AMQP_URL"`
	AMQPName string `env:"AMQP_QUEUE" env-default:"whatsapp.instances"`
}

type RedisConfig struct {
	Address  string        `env:"REDIS_ADDRESS"`
	Username string        `env:"REDIS_USER"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" env-default:"0"`
	Timeout  time.Duration `env:"REDIS_TIMEOUT" env-default:"3s"`
}

type FlowsConfig struct {
	ServiceKey    string  `env:"FLOWS_SERVICE_KEY"`
	RatePerSecond float64 `env:"FLOWS_RATE_PER_SECOND" env-default:"5"`
	RateBurst     int     `env:"FLOWS_RATE_BURST" env-default:"10"`
	SignupPerSec  float64 `env:"SIGNUP_RATE_PER_SECOND" env-default:"1"`
	SignupBurst   int     `env:"SIGNUP_RATE_BURST" env-default:"5"`
}

// IsProduction reports whether ENV selects production behaviour.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func LoadConfig() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config.LoadConfig: %w", err)
	}
	return &cfg, nil
}

package app

import (
	"io/fs"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
)

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr              string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL       string        `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	SideEffectTimeout time.Duration `default:"30s" usage:"Timeout for post-commit notifications" flag:"side-effect-timeout"`
	Auth              AuthConfig
	Razorpay          RazorpayConfig
	Kafka             KafkaConfig
	SMTP              SMTPConfig
	Notifier          NotifierConfig
	RateLimit         RateLimitConfig
	CORS              CORSConfig
	Graceful          GracefulConfig
}

// AuthConfig controls bearer token verification.
type AuthConfig struct {
	JWTSecret string        `usage:"HS256 secret for bearer tokens" flag:"jwt-secret"`
	TokenTTL  time.Duration `default:"24h" usage:"Lifetime of issued tokens"`
}

// RazorpayConfig holds gateway settings. Keys stored in company settings
// take precedence over KeyID and KeySecret.
type RazorpayConfig struct {
	KeyID         string        `usage:"Fallback gateway key id (RAZORPAY_KEY_ID)"`
	KeySecret     string        `usage:"Fallback gateway key secret (RAZORPAY_KEY_SECRET)"`
	WebhookSecret string        `usage:"Secret used to sign webhook bodies"`
	BaseURL       string        `default:"https://api.razorpay.com" usage:"Gateway API base URL"`
	Timeout       time.Duration `default:"10s" usage:"Gateway request timeout"`
	Currency      string        `default:"INR" usage:"Order currency"`
}

// KafkaConfig names the brokers and topics carrying notifications.
type KafkaConfig struct {
	Brokers            []string      `default:"localhost:9092" usage:"Kafka brokers"`
	NotificationsTopic string        `default:"checkout.notifications"`
	EmailsTopic        string        `default:"checkout.emails"`
	DeadLetterTopic    string        `default:"checkout.notifications.dlq"`
	GroupID            string        `default:"checkout-notifier"`
	MaxAttempts        int           `default:"5" usage:"Delivery attempts before dead-lettering"`
	Backoff            time.Duration `default:"500ms" usage:"Initial retry backoff"`
}

// SMTPConfig is the outgoing mail relay.
type SMTPConfig struct {
	Addr     string        `default:"localhost:1025"`
	From     string        `default:"orders@checkout.local"`
	Username string        `usage:"SMTP auth user; empty disables auth"`
	Password string        `usage:"SMTP auth password"`
	Timeout  time.Duration `default:"15s"`
}

// NotifierConfig configures the notifier process.
type NotifierConfig struct {
	Addr string `default:"0.0.0.0:8081" usage:"Notifier probe listen address"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads an optional .env file, then configuration from
// environment variables, YAML config files and flags, and applies
// platform-specific defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that
// use standard names like DATABASE_URL and PORT to the CHECKOUT_-prefixed
// configuration.
func (c *Config) applyPlatformDefaults() {
	fallback := func(dst *string, env string) {
		if *dst != "" {
			return
		}
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	fallback(&c.DatabaseURL, "DATABASE_URL")
	fallback(&c.Razorpay.KeyID, "RAZORPAY_KEY_ID")
	fallback(&c.Razorpay.KeySecret, "RAZORPAY_KEY_SECRET")

	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

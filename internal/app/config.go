package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/xenking/conscious-checkout/internal/mail"
	"github.com/xenking/conscious-checkout/internal/payment/razorpay"
	"github.com/xenking/conscious-checkout/internal/reminder"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string `usage:"Redis connection URL (CHECKOUT_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	Razorpay     razorpay.Config
	SMTP         mail.Config
	OTP          OTPConfig
	Session      SessionConfig
	Kafka        KafkaConfig
	Reminder     reminder.Config
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// OTPConfig controls email verification codes.
type OTPConfig struct {
	TTL time.Duration `default:"10m" usage:"Verification code lifetime"`
}

// SessionConfig controls server-held carts.
type SessionConfig struct {
	TTL time.Duration `default:"720h" usage:"Idle cart session lifetime"`
}

// KafkaConfig controls event publishing. Events are dropped when no broker
// is configured.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka brokers (CHECKOUT_KAFKA_BROKERS or KAFKA_BROKERS)"`
	Buffer  int      `default:"1024" usage:"Queued events before Publish blocks"`
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

// LoadConfig reads .env when present, then loads configuration from
// environment variables and YAML config files, and applies platform defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}
	return loadConfig(aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults(os.Getenv)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// runReminder reports whether the abandoned cart job should run. Without a
// broker its events would be dropped while carts are still marked reminded.
func (c *Config) runReminder() bool {
	return c.Reminder.Enabled && len(c.Kafka.Brokers) > 0
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	case c.RedisURL == "":
		return errors.New("redis URL is required: set CHECKOUT_REDIS_URL or REDIS_URL")
	case c.Razorpay.KeyID == "" || c.Razorpay.KeySecret == "":
		return errors.New("razorpay credentials are required: set RAZORPAY_KEY_ID and RAZORPAY_SECRET_ID")
	}
	return nil
}

// applyPlatformDefaults fills unset fields from the plain variable names
// hosting platforms and the storefront deployment use (DATABASE_URL, PORT,
// RAZORPAY_KEY_ID and so on).
func (c *Config) applyPlatformDefaults(getenv func(string) string) {
	setString := func(dst *string, key string) {
		if *dst == "" {
			*dst = getenv(key)
		}
	}

	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.Razorpay.KeyID, "RAZORPAY_KEY_ID")
	setString(&c.Razorpay.KeySecret, "RAZORPAY_SECRET_ID")
	setString(&c.SMTP.User, "SMTP_USER")
	setString(&c.SMTP.Password, "SMTP_PASSWORD")
	setString(&c.SMTP.From, "SMTP_FROM")

	// Host and port carry defaults, so the plain names apply only while
	// the field still holds its default.
	if v := getenv("SMTP_HOST"); v != "" && c.SMTP.Host == mail.DefaultHost {
		c.SMTP.Host = v
	}
	if v, err := strconv.Atoi(getenv("SMTP_PORT")); err == nil && c.SMTP.Port == mail.DefaultPort {
		c.SMTP.Port = v
	}
	if v, err := strconv.ParseBool(getenv("SMTP_SECURE")); err == nil && !c.SMTP.Secure {
		c.SMTP.Secure = v
	}
	if c.SMTP.From == "" {
		c.SMTP.From = c.SMTP.User
	}

	if len(c.Kafka.Brokers) == 0 {
		if v := getenv("KAFKA_BROKERS"); v != "" {
			for _, b := range strings.Split(v, ",") {
				if b = strings.TrimSpace(b); b != "" {
					c.Kafka.Brokers = append(c.Kafka.Brokers, b)
				}
			}
		}
	}

	if port := getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string
	LogFormat   string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64

	Payment PaymentConfig
	Limits  LimitConfig
}

type PaymentConfig struct {
	DefaultProvider string
	SettingsPath    string
	Stripe          StripeConfig
	Square          SquareConfig
}

type StripeConfig struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
}

type SquareConfig struct {
	AccessToken         string
	LocationID          string
	ApplicationID       string
	Environment         string
	WebhookSignatureKey string
	WebhookURL          string
}

type LimitConfig struct {
	CheckoutPerMinute int
	IdempotencyTTLSec int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "enrollpay"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:   strings.ToLower(getenv("LOG_FORMAT", "json")),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "enrollpay"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       int(getenvInt64("REDIS_DB", 0)),

		OtelEnabled:          getenvBool("OTEL_ENABLED", false),
		OtelExporterEndpoint: strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")),
		OtelExporterProtocol: strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
		OtelSamplingRatio:    getenvFloat("OTEL_SAMPLING_RATIO", 0.1),

		Payment: PaymentConfig{
			DefaultProvider: strings.ToLower(getenv("PAYMENT_PROVIDER", "stripe")),
			SettingsPath:    strings.TrimSpace(getenv("PAYMENT_SETTINGS_PATH", "")),
			Stripe: StripeConfig{
				SecretKey:      strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
				PublishableKey: strings.TrimSpace(getenv("STRIPE_PUBLISHABLE_KEY", "")),
				WebhookSecret:  strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			},
			Square: SquareConfig{
				AccessToken:         strings.TrimSpace(getenv("SQUARE_ACCESS_TOKEN", "")),
				LocationID:          strings.TrimSpace(getenv("SQUARE_LOCATION_ID", "")),
				ApplicationID:       strings.TrimSpace(getenv("SQUARE_APPLICATION_ID", "")),
				Environment:         strings.ToLower(getenv("SQUARE_ENVIRONMENT", "sandbox")),
				WebhookSignatureKey: strings.TrimSpace(getenv("SQUARE_WEBHOOK_SIGNATURE_KEY", "")),
				WebhookURL:          strings.TrimSpace(getenv("SQUARE_WEBHOOK_URL", "")),
			},
		},
		Limits: LimitConfig{
			CheckoutPerMinute: int(getenvInt64("CHECKOUT_RATE_PER_MINUTE", 30)),
			IdempotencyTTLSec: int(getenvInt64("IDEMPOTENCY_TTL_SECONDS", 86400)),
		},
	}
}

// ProviderSettings returns the adapter config map for a provider id.
// Missing values are left out so the adapter factory reports them.
func (c Config) ProviderSettings(provider string) map[string]any {
	out := map[string]any{}
	set := func(key, value string) {
		if strings.TrimSpace(value) != "" {
			out[key] = value
		}
	}
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "stripe":
		set("secret_key", c.Payment.Stripe.SecretKey)
		set("publishable_key", c.Payment.Stripe.PublishableKey)
		set("webhook_secret", c.Payment.Stripe.WebhookSecret)
	case "square":
		set("access_token", c.Payment.Square.AccessToken)
		set("location_id", c.Payment.Square.LocationID)
		set("application_id", c.Payment.Square.ApplicationID)
		set("environment", c.Payment.Square.Environment)
		set("webhook_signature_key", c.Payment.Square.WebhookSignatureKey)
		set("webhook_notification_url", c.Payment.Square.WebhookURL)
	}
	return out
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Verbose turns on stack traces and disables log sampling.
func (c Config) Verbose() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

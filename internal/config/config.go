package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPPort    string

	OTLPEndpoint string

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

	RedisAddr     string
	RedisPassword string

	SeedCatalog bool

	Stripe          StripeConfig
	SMTP            SMTPConfig
	SlackWebhookURL string
	Pricing         PricingConfig
	Payment         PaymentConfig
	Currency        string
}

// StripeConfig carries processor credentials.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
}

// SMTPConfig carries outbound email settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// PricingConfig carries the order-wide pricing policy.
type PricingConfig struct {
	TaxRateBps        int64
	DevelopmentFeeBps int64
	// AllowStackingOfferAndPromo permits a special offer and a promo code on
	// the same order. Default policy is exclusive with offer precedence.
	AllowStackingOfferAndPromo bool
}

// PaymentConfig carries payment lifecycle policy.
type PaymentConfig struct {
	ProcessorTimeout time.Duration
	// RestoreDiscountsOnRefund re-credits gift cards and usage counters on
	// refund. Consumption is final by default.
	RestoreDiscountsOnRefund bool
	PaymentLinkBaseURL       string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "freshnest"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPPort:    getenv("HTTP_PORT", "8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DB_TYPE", "postgres"),
		DBHost:            getenv("DB_HOST", "localhost"),
		DBPort:            getenv("DB_PORT", "5432"),
		DBName:            getenv("DB_NAME", "freshnest"),
		DBUser:            getenv("DB_USER", "freshnest"),
		DBPassword:        getenv("DB_PASSWORD", ""),
		DBSSLMode:         getenv("DB_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DB_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DB_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DB_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DB_CONN_MAX_IDLE_TIME", 600),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		SeedCatalog: getenvBool("SEED_CATALOG", true),

		Stripe: StripeConfig{
			APIKey:        strings.TrimSpace(getenv("STRIPE_API_KEY", "")),
			WebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
		},
		SMTP: SMTPConfig{
			Host:     getenv("SMTP_HOST", ""),
			Port:     getenvInt("SMTP_PORT", 587),
			Username: getenv("SMTP_USERNAME", ""),
			Password: getenv("SMTP_PASSWORD", ""),
			From:     getenv("SMTP_FROM", "no-reply@freshnest.app"),
		},
		SlackWebhookURL: strings.TrimSpace(getenv("SLACK_WEBHOOK_URL", "")),
		Pricing: PricingConfig{
			TaxRateBps:                 getenvInt64("PRICING_TAX_RATE_BPS", 825),
			DevelopmentFeeBps:          getenvInt64("PRICING_DEVELOPMENT_FEE_BPS", 300),
			AllowStackingOfferAndPromo: getenvBool("PRICING_ALLOW_OFFER_PROMO_STACKING", false),
		},
		Payment: PaymentConfig{
			ProcessorTimeout:         getenvDuration("PAYMENT_PROCESSOR_TIMEOUT", 12*time.Second),
			RestoreDiscountsOnRefund: getenvBool("PAYMENT_RESTORE_DISCOUNTS_ON_REFUND", false),
			PaymentLinkBaseURL:       getenv("PAYMENT_LINK_BASE_URL", "https://app.freshnest.app/pay"),
		},
		Currency: strings.ToUpper(getenv("CURRENCY", "USD")),
	}
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

var Module = fx.Module("config",
	fx.Provide(Load),
)

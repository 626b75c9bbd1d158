package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	aws_pkg "github.com/yashrajoria/marketplace-backend/pkg/aws"
)

type Config struct {
	Env         string
	ServiceName string
	Port        string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string
	DBMaxRetries     int

	GatewayBaseURL    string
	GatewaySecretKey  string
	GatewayTimeout    time.Duration
	CurrencyMinorUnit int64

	JWTSecret         string
	SessionCookieName string

	AttemptLimit       int
	AttemptWindow      time.Duration
	AmountTolerance    decimal.Decimal
	FulfillmentTimeout time.Duration
	OrderNodeID        int64

	AuditBufferSize int
	AuditQueueURL   string

	RedisURL       string
	ResultCacheTTL time.Duration

	EventsBackend  string // sns, kafka or none
	EventsTopicARN string
	KafkaBrokers   []string
	KafkaTopic     string

	ReconciliationBucket string

	AllowedOrigins  []string
	IPRatePerMinute int
	IPRateBurst     int

	UseSecrets        bool
	CloudWatchEnabled bool
	CloudWatchLogs    string
	MetricsNamespace  string
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:         getEnv("APP_ENV", "development"),
		ServiceName: getEnv("SERVICE_NAME", "checkout-service"),
		Port:        getEnv("PORT", "8090"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "UTC"),

		GatewayBaseURL:   getEnv("GATEWAY_BASE_URL", "https://api.paystack.co"),
		GatewaySecretKey: os.Getenv("GATEWAY_SECRET_KEY"),

		JWTSecret:         os.Getenv("JWT_SECRET"),
		SessionCookieName: getEnv("SESSION_COOKIE_NAME", "token"),

		AuditQueueURL: os.Getenv("AUDIT_QUEUE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),

		EventsBackend:  strings.ToLower(getEnv("EVENTS_BACKEND", "none")),
		EventsTopicARN: os.Getenv("EVENTS_TOPIC_ARN"),
		KafkaBrokers:   splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "checkout-events"),

		ReconciliationBucket: os.Getenv("RECONCILIATION_BUCKET"),
		AllowedOrigins:       splitList(getEnv("ALLOWED_ORIGINS", "*")),

		UseSecrets:        os.Getenv("AWS_USE_SECRETS") == "true",
		CloudWatchEnabled: os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchLogs:    getEnv("CLOUDWATCH_LOG_GROUP", "/marketplace/checkout-service"),
		MetricsNamespace:  getEnv("CLOUDWATCH_NAMESPACE", "Marketplace/Checkout"),
	}

	var err error
	if cfg.DBMaxRetries, err = getInt("DB_MAX_RETRIES", 5); err != nil {
		return nil, err
	}
	if cfg.GatewayTimeout, err = getDuration("GATEWAY_TIMEOUT", 8*time.Second); err != nil {
		return nil, err
	}
	minor, err := getInt("CURRENCY_MINOR_UNIT", 100)
	if err != nil {
		return nil, err
	}
	cfg.CurrencyMinorUnit = int64(minor)
	if cfg.AttemptLimit, err = getInt("VERIFY_ATTEMPT_LIMIT", 5); err != nil {
		return nil, err
	}
	if cfg.AttemptWindow, err = getDuration("VERIFY_ATTEMPT_WINDOW", time.Minute); err != nil {
		return nil, err
	}
	if cfg.AmountTolerance, err = getDecimal("AMOUNT_TOLERANCE", decimal.NewFromInt(1)); err != nil {
		return nil, err
	}
	if cfg.FulfillmentTimeout, err = getDuration("FULFILLMENT_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	node, err := getInt("ORDER_NODE_ID", 1)
	if err != nil {
		return nil, err
	}
	cfg.OrderNodeID = int64(node)
	if cfg.AuditBufferSize, err = getInt("AUDIT_BUFFER_SIZE", 1024); err != nil {
		return nil, err
	}
	if cfg.ResultCacheTTL, err = getDuration("RESULT_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.IPRatePerMinute, err = getInt("IP_RATE_PER_MINUTE", 120); err != nil {
		return nil, err
	}
	if cfg.IPRateBurst, err = getInt("IP_RATE_BURST", 20); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplySecrets overrides credentials with values from Secrets Manager.
// Missing secrets keep the environment value.
func (c *Config) ApplySecrets(ctx context.Context, getter aws_pkg.SecretGetter) error {
	if !c.UseSecrets {
		return nil
	}

	db, err := aws_pkg.GetSecretMap(ctx, getter, "checkout/DB_CREDENTIALS")
	if err != nil {
		return fmt.Errorf("load db credentials: %w", err)
	}
	if v := db["username"]; v != "" {
		c.PostgresUser = v
	}
	if v := db["password"]; v != "" {
		c.PostgresPassword = v
	}
	if v := db["host"]; v != "" {
		c.PostgresHost = v
	}
	if v := db["dbname"]; v != "" {
		c.PostgresDB = v
	}

	if v, err := getter.GetSecret(ctx, "checkout/GATEWAY_SECRET_KEY"); err != nil {
		return fmt.Errorf("load gateway secret: %w", err)
	} else if v != "" {
		c.GatewaySecretKey = v
	}
	if v, err := getter.GetSecret(ctx, "checkout/JWT_SECRET"); err != nil {
		return fmt.Errorf("load jwt secret: %w", err)
	} else if v != "" {
		c.JWTSecret = v
	}
	return nil
}

func (c *Config) Validate() error {
	var missing []string
	if c.PostgresUser == "" {
		missing = append(missing, "POSTGRES_USER")
	}
	if c.PostgresPassword == "" {
		missing = append(missing, "POSTGRES_PASSWORD")
	}
	if c.PostgresDB == "" {
		missing = append(missing, "POSTGRES_DB")
	}
	if c.GatewaySecretKey == "" {
		missing = append(missing, "GATEWAY_SECRET_KEY")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	switch c.EventsBackend {
	case "none":
	case "sns":
		if c.EventsTopicARN == "" {
			return fmt.Errorf("EVENTS_TOPIC_ARN is required when EVENTS_BACKEND=sns")
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when EVENTS_BACKEND=kafka")
		}
	default:
		return fmt.Errorf("unknown EVENTS_BACKEND %q", c.EventsBackend)
	}

	if c.AttemptLimit < 1 {
		return fmt.Errorf("VERIFY_ATTEMPT_LIMIT must be positive")
	}
	if c.AmountTolerance.IsNegative() {
		return fmt.Errorf("AMOUNT_TOLERANCE must not be negative")
	}
	if c.CurrencyMinorUnit < 1 {
		return fmt.Errorf("CURRENCY_MINOR_UNIT must be positive")
	}
	return nil
}

// DSN builds the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getDecimal(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

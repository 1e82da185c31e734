package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Gateway      GatewayConfig
	Checkout     CheckoutConfig
	Poller       PollerConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if _, err := cfg.Checkout.PriceToleranceDecimal(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MARKETPLACE_APP_ENV" required:"true"`
	Port         string `envconfig:"MARKETPLACE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MARKETPLACE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MARKETPLACE_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string `envconfig:"MARKETPLACE_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	MaxWebhookBytes    int64    `envconfig:"MARKETPLACE_MAX_WEBHOOK_BYTES" default:"65536"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MARKETPLACE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MARKETPLACE_DB_DSN"`
	Driver string `envconfig:"MARKETPLACE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MARKETPLACE_DB_HOST"`
	LegacyPort     int    `envconfig:"MARKETPLACE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MARKETPLACE_DB_USER"`
	LegacyPassword string `envconfig:"MARKETPLACE_DB_PASSWORD"`
	LegacyName     string `envconfig:"MARKETPLACE_DB_NAME"`
	LegacySSLMode  string `envconfig:"MARKETPLACE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MARKETPLACE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARKETPLACE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARKETPLACE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARKETPLACE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MARKETPLACE_REDIS_URL"`
	Address      string        `envconfig:"MARKETPLACE_REDIS_ADDR"`
	Password     string        `envconfig:"MARKETPLACE_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARKETPLACE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARKETPLACE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARKETPLACE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARKETPLACE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARKETPLACE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARKETPLACE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"MARKETPLACE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"MARKETPLACE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"MARKETPLACE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MARKETPLACE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MARKETPLACE_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"MARKETPLACE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"MARKETPLACE_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"MARKETPLACE_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"MARKETPLACE_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"MARKETPLACE_PUBSUB_ORDERS_TOPIC" default:"mp-order-events"`
	OrdersSubscription string `envconfig:"MARKETPLACE_PUBSUB_ORDERS_SUBSCRIPTION" default:"mp-order-events-notifications"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MARKETPLACE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MARKETPLACE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MARKETPLACE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type GatewayConfig struct {
	BaseURL            string        `envconfig:"MARKETPLACE_GATEWAY_BASE_URL" default:"https://api.xendit.co"`
	SecretKey          string        `envconfig:"MARKETPLACE_GATEWAY_SECRET_KEY"`
	WebhookSecret      string        `envconfig:"MARKETPLACE_GATEWAY_WEBHOOK_SECRET"`
	SignatureHeader    string        `envconfig:"MARKETPLACE_GATEWAY_SIGNATURE_HEADER" default:"X-Callback-Signature"`
	InvoiceDuration    time.Duration `envconfig:"MARKETPLACE_GATEWAY_INVOICE_DURATION" default:"24h"`
	SuccessRedirectURL string        `envconfig:"MARKETPLACE_GATEWAY_SUCCESS_REDIRECT_URL"`
	FailureRedirectURL string        `envconfig:"MARKETPLACE_GATEWAY_FAILURE_REDIRECT_URL"`
	Timeout            time.Duration `envconfig:"MARKETPLACE_GATEWAY_TIMEOUT" default:"15s"`
}

type CheckoutConfig struct {
	ShippingCost      int64  `envconfig:"MARKETPLACE_CHECKOUT_SHIPPING_COST" default:"15000"`
	ServiceFee        int64  `envconfig:"MARKETPLACE_CHECKOUT_SERVICE_FEE" default:"2500"`
	PriceTolerance    string `envconfig:"MARKETPLACE_CHECKOUT_PRICE_TOLERANCE" default:"0"`
	RestockOnCancel   bool   `envconfig:"MARKETPLACE_CHECKOUT_RESTOCK_ON_CANCEL" default:"false"`
	OrderNumberPrefix string `envconfig:"MARKETPLACE_CHECKOUT_ORDER_NUMBER_PREFIX" default:"ORD"`
}

// PriceToleranceDecimal parses the tolerated relative price drift (0.05 = 5%).
func (c CheckoutConfig) PriceToleranceDecimal() (decimal.Decimal, error) {
	raw := strings.TrimSpace(c.PriceTolerance)
	if raw == "" {
		return decimal.Zero, nil
	}
	tol, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing %s: %w", EnvCheckoutPriceTolerance, err)
	}
	if tol.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must be non-negative", EnvCheckoutPriceTolerance)
	}
	return tol, nil
}

type PollerConfig struct {
	Interval  time.Duration `envconfig:"MARKETPLACE_POLLER_INTERVAL" default:"5s"`
	Heartbeat time.Duration `envconfig:"MARKETPLACE_EVENTS_HEARTBEAT" default:"15s"`
}

type CronConfig struct {
	Interval              time.Duration `envconfig:"MARKETPLACE_CRON_INTERVAL" default:"1m"`
	PaymentSyncMinAge     time.Duration `envconfig:"MARKETPLACE_CRON_PAYMENT_SYNC_MIN_AGE" default:"2m"`
	PaymentSyncBatch      int           `envconfig:"MARKETPLACE_CRON_PAYMENT_SYNC_BATCH" default:"100"`
	PaymentExpiryBatch    int           `envconfig:"MARKETPLACE_CRON_PAYMENT_EXPIRY_BATCH" default:"200"`
	PaymentExpiryGrace    time.Duration `envconfig:"MARKETPLACE_CRON_PAYMENT_EXPIRY_GRACE" default:"10m"`
	OutboxRetention       time.Duration `envconfig:"MARKETPLACE_CRON_OUTBOX_RETENTION" default:"720h"`
	NotificationRetention time.Duration `envconfig:"MARKETPLACE_CRON_NOTIFICATION_RETENTION" default:"2160h"`
}

// RateLimitConfig throttles the endpoints that fan out to the gateway.
type RateLimitConfig struct {
	Window             time.Duration `envconfig:"MARKETPLACE_RATE_LIMIT_WINDOW" default:"1m"`
	PaymentIntentLimit int           `envconfig:"MARKETPLACE_RATE_LIMIT_PAYMENT_INTENT" default:"10"`
	WebhookIPLimit     int           `envconfig:"MARKETPLACE_RATE_LIMIT_WEBHOOK_IP" default:"600"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

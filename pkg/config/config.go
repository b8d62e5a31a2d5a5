package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	HTTP         HTTPConfig
	DB           DBConfig
	Redis        RedisConfig
	ServiceToken ServiceTokenConfig
	Stellar      StellarConfig
	Sweeper      SweeperConfig
	Billing      BillingConfig
	Webhooks     WebhooksConfig
	Provisioning ProvisioningConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Stellar.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LUMENPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"LUMENPAY_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"LUMENPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LUMENPAY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LUMENPAY_SERVICE_KIND" default:"api"`
}

type HTTPConfig struct {
	AllowedOrigins  []string      `envconfig:"LUMENPAY_HTTP_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	VerifyIPLimit   int           `envconfig:"LUMENPAY_HTTP_VERIFY_IP_LIMIT" default:"60"`
	VerifyLimit     int           `envconfig:"LUMENPAY_HTTP_VERIFY_CHECKOUT_LIMIT" default:"20"`
	VerifyWindow    time.Duration `envconfig:"LUMENPAY_HTTP_VERIFY_WINDOW" default:"1m"`
	ShutdownTimeout time.Duration `envconfig:"LUMENPAY_HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

type DBConfig struct {
	DSN    string `envconfig:"LUMENPAY_DB_DSN"`
	Driver string `envconfig:"LUMENPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LUMENPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"LUMENPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LUMENPAY_DB_USER"`
	LegacyPassword string `envconfig:"LUMENPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"LUMENPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"LUMENPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LUMENPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LUMENPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LUMENPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LUMENPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LUMENPAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LUMENPAY_REDIS_ADDR"`
	Password     string        `envconfig:"LUMENPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"LUMENPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LUMENPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LUMENPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LUMENPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LUMENPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LUMENPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// ServiceTokenConfig signs the short-lived tokens used between internal services.
type ServiceTokenConfig struct {
	Secret string        `envconfig:"LUMENPAY_SERVICE_TOKEN_SECRET" required:"true"`
	Issuer string        `envconfig:"LUMENPAY_SERVICE_TOKEN_ISSUER" default:"lumenpay"`
	TTL    time.Duration `envconfig:"LUMENPAY_SERVICE_TOKEN_TTL" default:"30s"`
}

type StellarConfig struct {
	TestnetHorizonURL  string `envconfig:"LUMENPAY_STELLAR_TESTNET_HORIZON_URL" default:"https://horizon-testnet.stellar.org"`
	MainnetHorizonURL  string `envconfig:"LUMENPAY_STELLAR_MAINNET_HORIZON_URL" default:"https://horizon.stellar.org"`
	TestnetRPCURL      string `envconfig:"LUMENPAY_STELLAR_TESTNET_RPC_URL" default:"https://soroban-testnet.stellar.org"`
	MainnetRPCURL      string `envconfig:"LUMENPAY_STELLAR_MAINNET_RPC_URL"`
	TestnetContractID  string `envconfig:"LUMENPAY_STELLAR_TESTNET_CONTRACT_ID"`
	MainnetContractID  string `envconfig:"LUMENPAY_STELLAR_MAINNET_CONTRACT_ID"`
	KeeperSecret       string `envconfig:"LUMENPAY_STELLAR_KEEPER_SECRET"`
	BaseFee            int64  `envconfig:"LUMENPAY_STELLAR_BASE_FEE" default:"100"`
	TxTimeoutSeconds   int64  `envconfig:"LUMENPAY_STELLAR_TX_TIMEOUT_SECONDS" default:"300"`
	PaymentSearchPages int    `envconfig:"LUMENPAY_STELLAR_PAYMENT_SEARCH_PAGES" default:"5"`

	PollInterval time.Duration `envconfig:"LUMENPAY_STELLAR_POLL_INTERVAL" default:"10s"`
	PollAttempts int           `envconfig:"LUMENPAY_STELLAR_POLL_ATTEMPTS" default:"10"`
	HTTPTimeout  time.Duration `envconfig:"LUMENPAY_STELLAR_HTTP_TIMEOUT" default:"30s"`
}

// ContractsConfigured reports whether on-chain subscription calls can be made on any network.
func (s StellarConfig) ContractsConfigured() bool {
	return s.KeeperSecret != "" && (s.TestnetContractID != "" || s.MainnetContractID != "")
}

func (s StellarConfig) validate() error {
	if s.PollAttempts <= 0 {
		return fmt.Errorf("%s must be positive", EnvStellarPollAttempts)
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("%s must be positive", EnvStellarPollInterval)
	}
	if s.MainnetContractID != "" && s.MainnetRPCURL == "" {
		return fmt.Errorf("%s is required when %s is set", EnvStellarMainnetRPCURL, EnvStellarMainnetContract)
	}
	return nil
}

type SweeperConfig struct {
	Interval    time.Duration `envconfig:"LUMENPAY_SWEEP_INTERVAL" default:"1m"`
	Concurrency int           `envconfig:"LUMENPAY_SWEEP_CONCURRENCY" default:"8"`
	BatchLimit  int           `envconfig:"LUMENPAY_SWEEP_BATCH_LIMIT" default:"500"`
}

type BillingConfig struct {
	Interval    time.Duration `envconfig:"LUMENPAY_BILLING_INTERVAL" default:"1h"`
	Concurrency int           `envconfig:"LUMENPAY_BILLING_CONCURRENCY" default:"1"`
	BatchLimit  int           `envconfig:"LUMENPAY_BILLING_BATCH_LIMIT" default:"200"`
	// RetryAfter spaces out charges of a period that already failed.
	RetryAfter  time.Duration `envconfig:"LUMENPAY_BILLING_RETRY_AFTER" default:"6h"`
}

type WebhooksConfig struct {
	Timeout      time.Duration `envconfig:"LUMENPAY_WEBHOOK_TIMEOUT" default:"10s"`
	DefaultQuota int64         `envconfig:"LUMENPAY_WEBHOOK_DEFAULT_QUOTA" default:"10000"`
	UserAgent    string        `envconfig:"LUMENPAY_WEBHOOK_USER_AGENT" default:"LumenPay-Webhooks/1.0"`
}

type ProvisioningConfig struct {
	BaseURL string        `envconfig:"LUMENPAY_PROVISIONING_BASE_URL" default:"http://localhost:8080"`
	Timeout time.Duration `envconfig:"LUMENPAY_PROVISIONING_TIMEOUT" default:"10s"`
}

type FeatureFlagsConfig struct {
	UseSQLite         bool `envconfig:"LUMENPAY_USE_SQLITE" default:"false"`
	AutoMigrate       bool `envconfig:"LUMENPAY_AUTO_MIGRATE" default:"false"`
	AnalyticsEnabled  bool `envconfig:"LUMENPAY_FEATURE_ANALYTICS" default:"false"`
	ExpireOnSweep     bool `envconfig:"LUMENPAY_FEATURE_EXPIRE_ON_SWEEP" default:"true"`
	CancelAtPeriodEnd bool `envconfig:"LUMENPAY_FEATURE_CANCEL_AT_PERIOD_END" default:"true"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"LUMENPAY_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"LUMENPAY_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"LUMENPAY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"LUMENPAY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	SettlementTopic          string `envconfig:"LUMENPAY_PUBSUB_SETTLEMENT_TOPIC" default:"lp-settlement-events"`
	WebhookSubscription      string `envconfig:"LUMENPAY_PUBSUB_WEBHOOK_SUBSCRIPTION" default:"lp-settlement-webhooks"`
	ProvisioningSubscription string `envconfig:"LUMENPAY_PUBSUB_PROVISIONING_SUBSCRIPTION" default:"lp-settlement-provisioning"`
	AnalyticsSubscription    string `envconfig:"LUMENPAY_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"lp-settlement-analytics"`
}

type BigQueryConfig struct {
	Dataset          string `envconfig:"LUMENPAY_BIGQUERY_DATASET" default:"lumenpay"`
	SettlementsTable string `envconfig:"LUMENPAY_BIGQUERY_SETTLEMENTS_TABLE" default:"settlement_events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"LUMENPAY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"LUMENPAY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"LUMENPAY_OUTBOX_MAX_ATTEMPTS" default:"10"`
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

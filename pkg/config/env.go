package config

const (
	EnvPrefix = "LUMENPAY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "LUMENPAY_APP_ENV"
	EnvPort     = "LUMENPAY_APP_PORT"
	EnvLogLevel = "LUMENPAY_LOG_LEVEL"

	EnvDBDSN  = "LUMENPAY_DB_DSN"
	EnvDBHost = "LUMENPAY_DB_HOST"
	EnvDBUser = "LUMENPAY_DB_USER"
	EnvDBName = "LUMENPAY_DB_NAME"

	EnvRedisURL = "LUMENPAY_REDIS_URL"

	EnvServiceTokenSecret = "LUMENPAY_SERVICE_TOKEN_SECRET"
	EnvServiceTokenTTL    = "LUMENPAY_SERVICE_TOKEN_TTL"

	EnvStellarPollInterval    = "LUMENPAY_STELLAR_POLL_INTERVAL"
	EnvStellarPollAttempts    = "LUMENPAY_STELLAR_POLL_ATTEMPTS"
	EnvStellarMainnetRPCURL   = "LUMENPAY_STELLAR_MAINNET_RPC_URL"
	EnvStellarMainnetContract = "LUMENPAY_STELLAR_MAINNET_CONTRACT_ID"
	EnvStellarKeeperSecret    = "LUMENPAY_STELLAR_KEEPER_SECRET"

	EnvSweepInterval       = "LUMENPAY_SWEEP_INTERVAL"
	EnvBillingInterval     = "LUMENPAY_BILLING_INTERVAL"
	EnvWebhookDefaultQuota = "LUMENPAY_WEBHOOK_DEFAULT_QUOTA"

	EnvGCPProjectID = "LUMENPAY_GCP_PROJECT_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

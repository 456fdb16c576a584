package config

const (
	EnvPrefix = "GIROFLOW"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "GIROFLOW_APP_ENV"
	EnvPort     = "GIROFLOW_APP_PORT"
	EnvLogLevel = "GIROFLOW_LOG_LEVEL"

	EnvDBDSN  = "GIROFLOW_DB_DSN"
	EnvDBHost = "GIROFLOW_DB_HOST"
	EnvDBUser = "GIROFLOW_DB_USER"
	EnvDBName = "GIROFLOW_DB_NAME"

	EnvRedisURL = "GIROFLOW_REDIS_URL"

	EnvJWTSecret  = "GIROFLOW_JWT_SECRET"
	EnvJWTIssuer  = "GIROFLOW_JWT_ISSUER"
	EnvJWTExpMins = "GIROFLOW_JWT_EXPIRATION_MINUTES"

	EnvProviderAHost      = "GIROFLOW_PROVIDER_A_SFTP_HOST"
	EnvProviderACustomer  = "GIROFLOW_PROVIDER_A_CUSTOMER_ID"
	EnvProviderBHost      = "GIROFLOW_PROVIDER_B_SFTP_HOST"
	EnvProviderBCustomer  = "GIROFLOW_PROVIDER_B_CUSTOMER_NUMBER"
	EnvProviderBBankgiro  = "GIROFLOW_PROVIDER_B_BANKGIRO"
	EnvWalletClientID     = "GIROFLOW_WALLET_CLIENT_ID"
	EnvWalletClientSecret = "GIROFLOW_WALLET_CLIENT_SECRET"
	EnvWalletSubKey       = "GIROFLOW_WALLET_SUBSCRIPTION_KEY"
	EnvWalletMSN          = "GIROFLOW_WALLET_MERCHANT_SERIAL_NUMBER"
	EnvArchiveBucket      = "GIROFLOW_ARCHIVE_BUCKET"
	EnvPubSubProjectID    = "GIROFLOW_PUBSUB_PROJECT_ID"
	EnvPubSubDomainTopic  = "GIROFLOW_PUBSUB_DOMAIN_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

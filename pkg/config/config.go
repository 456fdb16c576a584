package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App        AppConfig
	Service    ServiceConfig
	DB         DBConfig
	Redis      RedisConfig
	JWT        JWTConfig
	ProviderA  ProviderAConfig
	ProviderB  ProviderBConfig
	Wallet     WalletConfig
	PriceIndex PriceIndexConfig
	Inflation  InflationConfig
	Archive    ArchiveConfig
	Sendgrid   SendgridConfig
	PubSub     PubSubConfig
	Outbox     OutboxConfig
	Cron       CronConfig
	HTTP       HTTPConfig
	Eventing   EventingConfig
	Features   FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"GIROFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"GIROFLOW_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"GIROFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"GIROFLOW_LOG_WARN_STACK" default:"false"`
	PublicURL    string `envconfig:"GIROFLOW_PUBLIC_URL" default:"http://localhost:8080"`
	OperatorMail string `envconfig:"GIROFLOW_OPERATOR_EMAIL"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"GIROFLOW_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"GIROFLOW_DB_DSN"`
	Driver string `envconfig:"GIROFLOW_DB_DRIVER" default:"postgres" validate:"oneof=postgres sqlite"`

	LegacyHost     string `envconfig:"GIROFLOW_DB_HOST"`
	LegacyPort     int    `envconfig:"GIROFLOW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"GIROFLOW_DB_USER"`
	LegacyPassword string `envconfig:"GIROFLOW_DB_PASSWORD"`
	LegacyName     string `envconfig:"GIROFLOW_DB_NAME"`
	LegacySSLMode  string `envconfig:"GIROFLOW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"GIROFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"GIROFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"GIROFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"GIROFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// RetryAttempts bounds reconnect attempts on transient connection loss.
	RetryAttempts int           `envconfig:"GIROFLOW_DB_RETRY_ATTEMPTS" default:"7" validate:"min=1,max=7"`
	RetryBase     time.Duration `envconfig:"GIROFLOW_DB_RETRY_BASE" default:"100ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"GIROFLOW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"GIROFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"GIROFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"GIROFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"GIROFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"GIROFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"GIROFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"GIROFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"GIROFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"GIROFLOW_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"GIROFLOW_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"GIROFLOW_JWT_EXPIRATION_MINUTES" required:"true"`
}

// Expiration returns the admin token lifetime.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

// SFTPConfig describes one clearing partner's managed file transfer endpoint.
type SFTPConfig struct {
	Host           string
	Port           int
	User           string
	PrivateKeyPath string
	HostKey        string
	Timeout        time.Duration
}

type ProviderAConfig struct {
	SFTPHost        string        `envconfig:"GIROFLOW_PROVIDER_A_SFTP_HOST"`
	SFTPPort        int           `envconfig:"GIROFLOW_PROVIDER_A_SFTP_PORT" default:"22"`
	SFTPUser        string        `envconfig:"GIROFLOW_PROVIDER_A_SFTP_USER"`
	SFTPKeyPath     string        `envconfig:"GIROFLOW_PROVIDER_A_SFTP_KEY_PATH"`
	SFTPHostKey     string        `envconfig:"GIROFLOW_PROVIDER_A_SFTP_HOST_KEY"`
	SFTPTimeout     time.Duration `envconfig:"GIROFLOW_PROVIDER_A_SFTP_TIMEOUT" default:"30s"`
	CustomerID      string        `envconfig:"GIROFLOW_PROVIDER_A_CUSTOMER_ID" validate:"omitempty,max=8,numeric"`
	AccountNumber   string        `envconfig:"GIROFLOW_PROVIDER_A_ACCOUNT" default:"15062995960" validate:"len=11,numeric"`
	OutboundDir     string        `envconfig:"GIROFLOW_PROVIDER_A_OUTBOUND_DIR" default:"/Outbound"`
	InboundDir      string        `envconfig:"GIROFLOW_PROVIDER_A_INBOUND_DIR" default:"/Inbound"`
	ReminderMinDays int           `envconfig:"GIROFLOW_PROVIDER_A_REMINDER_DAYS" default:"3"`
}

func (p ProviderAConfig) SFTP() SFTPConfig {
	return SFTPConfig{
		Host:           p.SFTPHost,
		Port:           p.SFTPPort,
		User:           p.SFTPUser,
		PrivateKeyPath: p.SFTPKeyPath,
		HostKey:        p.SFTPHostKey,
		Timeout:        p.SFTPTimeout,
	}
}

type ProviderBConfig struct {
	SFTPHost       string        `envconfig:"GIROFLOW_PROVIDER_B_SFTP_HOST"`
	SFTPPort       int           `envconfig:"GIROFLOW_PROVIDER_B_SFTP_PORT" default:"22"`
	SFTPUser       string        `envconfig:"GIROFLOW_PROVIDER_B_SFTP_USER"`
	SFTPKeyPath    string        `envconfig:"GIROFLOW_PROVIDER_B_SFTP_KEY_PATH"`
	SFTPHostKey    string        `envconfig:"GIROFLOW_PROVIDER_B_SFTP_HOST_KEY"`
	SFTPTimeout    time.Duration `envconfig:"GIROFLOW_PROVIDER_B_SFTP_TIMEOUT" default:"30s"`
	CustomerNumber string        `envconfig:"GIROFLOW_PROVIDER_B_CUSTOMER_NUMBER" validate:"omitempty,max=6,numeric"`
	Bankgiro       string        `envconfig:"GIROFLOW_PROVIDER_B_BANKGIRO" validate:"omitempty,max=10,numeric"`
	OutboundDir    string        `envconfig:"GIROFLOW_PROVIDER_B_OUTBOUND_DIR" default:"/to_bankgirot"`
	InboundDir     string        `envconfig:"GIROFLOW_PROVIDER_B_INBOUND_DIR" default:"/from_bankgirot"`
}

func (p ProviderBConfig) SFTP() SFTPConfig {
	return SFTPConfig{
		Host:           p.SFTPHost,
		Port:           p.SFTPPort,
		User:           p.SFTPUser,
		PrivateKeyPath: p.SFTPKeyPath,
		HostKey:        p.SFTPHostKey,
		Timeout:        p.SFTPTimeout,
	}
}

type WalletConfig struct {
	BaseURL              string        `envconfig:"GIROFLOW_WALLET_BASE_URL" default:"https://api.vipps.no"`
	ClientID             string        `envconfig:"GIROFLOW_WALLET_CLIENT_ID"`
	ClientSecret         string        `envconfig:"GIROFLOW_WALLET_CLIENT_SECRET"`
	SubscriptionKey      string        `envconfig:"GIROFLOW_WALLET_SUBSCRIPTION_KEY"`
	MerchantSerialNumber string        `envconfig:"GIROFLOW_WALLET_MERCHANT_SERIAL_NUMBER"`
	ProductName          string        `envconfig:"GIROFLOW_WALLET_PRODUCT_NAME" default:"Monthly donation"`
	MerchantRedirectURL  string        `envconfig:"GIROFLOW_WALLET_REDIRECT_URL"`
	MerchantAgreementURL string        `envconfig:"GIROFLOW_WALLET_AGREEMENT_URL"`
	CallbackPrefix       string        `envconfig:"GIROFLOW_WALLET_CALLBACK_PREFIX"`
	PollStartDelay       time.Duration `envconfig:"GIROFLOW_WALLET_POLL_START_DELAY" default:"5s"`
	PollInterval         time.Duration `envconfig:"GIROFLOW_WALLET_POLL_INTERVAL" default:"2s"`
	PollBudget           time.Duration `envconfig:"GIROFLOW_WALLET_POLL_BUDGET" default:"10m"`
	ChargeDaysInAdvance  int           `envconfig:"GIROFLOW_WALLET_CHARGE_DAYS_IN_ADVANCE" default:"3" validate:"min=3"`
	HTTPTimeout          time.Duration `envconfig:"GIROFLOW_WALLET_HTTP_TIMEOUT" default:"15s"`
}

type PriceIndexConfig struct {
	BaseURL     string        `envconfig:"GIROFLOW_PRICE_INDEX_BASE_URL" default:"https://www.ssb.no/priser-og-prisindekser/konsumpriser/statistikk/konsumprisindeksen/_/service/mimir/kpi"`
	CacheTTL    time.Duration `envconfig:"GIROFLOW_PRICE_INDEX_CACHE_TTL" default:"24h"`
	MaxAttempts int           `envconfig:"GIROFLOW_PRICE_INDEX_MAX_ATTEMPTS" default:"12" validate:"min=1"`
	HTTPTimeout time.Duration `envconfig:"GIROFLOW_PRICE_INDEX_HTTP_TIMEOUT" default:"10s"`
}

type InflationConfig struct {
	ProposalTemplateID string        `envconfig:"GIROFLOW_INFLATION_TEMPLATE_ID"`
	BatchSize          int           `envconfig:"GIROFLOW_INFLATION_BATCH_SIZE" default:"10" validate:"min=1,max=10"`
	ProposalTTL        time.Duration `envconfig:"GIROFLOW_INFLATION_PROPOSAL_TTL" default:"720h"`
}

type ArchiveConfig struct {
	Bucket string `envconfig:"GIROFLOW_ARCHIVE_BUCKET"`
	Region string `envconfig:"GIROFLOW_ARCHIVE_REGION" default:"eu-north-1"`
	Prefix string `envconfig:"GIROFLOW_ARCHIVE_PREFIX" default:"shipments"`
}

type SendgridConfig struct {
	APIKey             string `envconfig:"GIROFLOW_SENDGRID_API_KEY"`
	DefaultFrom        string `envconfig:"GIROFLOW_SENDGRID_FROM_EMAIL" default:"donasjon@giroflow.no"`
	DefaultFromName    string `envconfig:"GIROFLOW_SENDGRID_FROM_NAME" default:"Giroflow"`
	ReminderTemplateID string `envconfig:"GIROFLOW_SENDGRID_REMINDER_TEMPLATE_ID"`
	OperatorTemplateID string `envconfig:"GIROFLOW_SENDGRID_OPERATOR_TEMPLATE_ID"`
}

type PubSubConfig struct {
	ProjectID       string `envconfig:"GIROFLOW_PUBSUB_PROJECT_ID"`
	CredentialsFile string `envconfig:"GIROFLOW_PUBSUB_CREDENTIALS_FILE"`
	DomainTopic     string `envconfig:"GIROFLOW_PUBSUB_DOMAIN_TOPIC" default:"giroflow-domain-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"GIROFLOW_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"GIROFLOW_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"GIROFLOW_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// CronConfig holds the robfig/cron specs (with seconds) for each scheduled job.
type CronConfig struct {
	LockTTL          time.Duration `envconfig:"GIROFLOW_CRON_LOCK_TTL" default:"10m"`
	ProviderAClaims  string        `envconfig:"GIROFLOW_CRON_PROVIDER_A_CLAIMS" default:"0 0 10 * * *"`
	ProviderAInbound string        `envconfig:"GIROFLOW_CRON_PROVIDER_A_INBOUND" default:"0 30 6 * * *"`
	ProviderARetry   string        `envconfig:"GIROFLOW_CRON_PROVIDER_A_RETRY" default:"0 0 14 * * *"`
	ProviderBClaims  string        `envconfig:"GIROFLOW_CRON_PROVIDER_B_CLAIMS" default:"0 0 9 * * *"`
	ProviderBInbound string        `envconfig:"GIROFLOW_CRON_PROVIDER_B_INBOUND" default:"0 45 6 * * *"`
	WalletCharges    string        `envconfig:"GIROFLOW_CRON_WALLET_CHARGES" default:"0 0 8 * * *"`
	WalletSync       string        `envconfig:"GIROFLOW_CRON_WALLET_SYNC" default:"0 15 * * * *"`
	InflationScan    string        `envconfig:"GIROFLOW_CRON_INFLATION_SCAN" default:"0 0 4 1 * *"`
	InflationSend    string        `envconfig:"GIROFLOW_CRON_INFLATION_SEND" default:"0 0 11 * * 1-5"`
	InflationCleanup string        `envconfig:"GIROFLOW_CRON_INFLATION_CLEANUP" default:"0 0 3 * * *"`
	OutboxRetention  string        `envconfig:"GIROFLOW_CRON_OUTBOX_RETENTION" default:"0 30 3 * * *"`
	Timezone         string        `envconfig:"GIROFLOW_CRON_TIMEZONE" default:"Europe/Oslo"`
}

// HTTPConfig holds the api's CORS and public rate limit settings.
type HTTPConfig struct {
	CORSOrigins     []string      `envconfig:"GIROFLOW_CORS_ORIGINS" default:"http://localhost:3000"`
	PublicWindow    time.Duration `envconfig:"GIROFLOW_PUBLIC_RATE_WINDOW" default:"1m"`
	PublicIPLimit   int           `envconfig:"GIROFLOW_PUBLIC_RATE_IP_LIMIT" default:"30"`
	ShutdownTimeout time.Duration `envconfig:"GIROFLOW_HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

type EventingConfig struct {
	InboundFileIdempotencyTTL time.Duration `envconfig:"GIROFLOW_EVENTING_INBOUND_FILE_TTL" default:"2160h"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"GIROFLOW_AUTO_MIGRATE" default:"false"`
	DryRunSFTP  bool `envconfig:"GIROFLOW_DRY_RUN_SFTP" default:"false"`
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

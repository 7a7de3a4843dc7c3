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
	API          APIConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Square       SquareConfig
	Recovery     RecoveryConfig
	Webhooks     WebhooksConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Recovery.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"KITCHENSHARE_APP_ENV" required:"true"`
	Port         string `envconfig:"KITCHENSHARE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"KITCHENSHARE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"KITCHENSHARE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

// APIConfig tunes the HTTP surface.
type APIConfig struct {
	CORSOrigins         []string      `envconfig:"KITCHENSHARE_API_CORS_ORIGINS"`
	SessionLookupWindow time.Duration `envconfig:"KITCHENSHARE_API_SESSION_LOOKUP_WINDOW" default:"1m"`
	SessionLookupLimit  int           `envconfig:"KITCHENSHARE_API_SESSION_LOOKUP_LIMIT" default:"30"`
	ReadTimeout         time.Duration `envconfig:"KITCHENSHARE_API_READ_TIMEOUT" default:"15s"`
	WriteTimeout        time.Duration `envconfig:"KITCHENSHARE_API_WRITE_TIMEOUT" default:"60s"`
}

type ServiceConfig struct {
	Kind string `envconfig:"KITCHENSHARE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"KITCHENSHARE_DB_DSN"`
	Driver string `envconfig:"KITCHENSHARE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"KITCHENSHARE_DB_HOST"`
	LegacyPort     int    `envconfig:"KITCHENSHARE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"KITCHENSHARE_DB_USER"`
	LegacyPassword string `envconfig:"KITCHENSHARE_DB_PASSWORD"`
	LegacyName     string `envconfig:"KITCHENSHARE_DB_NAME"`
	LegacySSLMode  string `envconfig:"KITCHENSHARE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"KITCHENSHARE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"KITCHENSHARE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"KITCHENSHARE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"KITCHENSHARE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"KITCHENSHARE_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"KITCHENSHARE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"KITCHENSHARE_REDIS_ADDR"`
	Password     string        `envconfig:"KITCHENSHARE_REDIS_PASSWORD"`
	DB           int           `envconfig:"KITCHENSHARE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"KITCHENSHARE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"KITCHENSHARE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"KITCHENSHARE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"KITCHENSHARE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"KITCHENSHARE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies admin bearer tokens minted by the platform auth service.
type JWTConfig struct {
	Secret            string        `envconfig:"KITCHENSHARE_JWT_SECRET" required:"true"`
	Issuer            string        `envconfig:"KITCHENSHARE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int           `envconfig:"KITCHENSHARE_JWT_EXPIRATION_MINUTES" default:"60"`
	Audience          string        `envconfig:"KITCHENSHARE_JWT_AUDIENCE" default:"kitchenshare-recovery"`
	Leeway            time.Duration `envconfig:"KITCHENSHARE_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate        bool `envconfig:"KITCHENSHARE_AUTO_MIGRATE" default:"false"`
	UseLocalLease      bool `envconfig:"KITCHENSHARE_USE_LOCAL_LEASE" default:"false"`
	DisableDispatching bool `envconfig:"KITCHENSHARE_DISABLE_NOTIFICATION_DISPATCH" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"KITCHENSHARE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"KITCHENSHARE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic string        `envconfig:"KITCHENSHARE_PUBSUB_NOTIFICATION_TOPIC" default:"ks-notification-events"`
	PublishTimeout    time.Duration `envconfig:"KITCHENSHARE_PUBSUB_PUBLISH_TIMEOUT" default:"10s"`
}

type SquareConfig struct {
	AccessToken     string `envconfig:"KITCHENSHARE_SQUARE_ACCESS_TOKEN"`
	WebhookSecret   string `envconfig:"KITCHENSHARE_SQUARE_WEBHOOK_SECRET"`
	Env             string `envconfig:"KITCHENSHARE_SQUARE_ENV" default:"sandbox"`
	LocationID      string `envconfig:"KITCHENSHARE_SQUARE_LOCATION_ID"`
	RecoveryBaseURL string `envconfig:"KITCHENSHARE_SQUARE_RECOVERY_BASE_URL" default:"https://pay.kitchenshare.local/recover"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

// RecoveryConfig tunes the off-session recovery policy.
type RecoveryConfig struct {
	MaxDeclines       int           `envconfig:"KITCHENSHARE_RECOVERY_MAX_DECLINES" default:"3"`
	MaxInfraFailures  int           `envconfig:"KITCHENSHARE_RECOVERY_MAX_INFRA_FAILURES" default:"5"`
	Window            time.Duration `envconfig:"KITCHENSHARE_RECOVERY_WINDOW" default:"336h"`
	BackoffBase       time.Duration `envconfig:"KITCHENSHARE_RECOVERY_BACKOFF_BASE" default:"1h"`
	BackoffFactor     int           `envconfig:"KITCHENSHARE_RECOVERY_BACKOFF_FACTOR" default:"4"`
	BackoffMaxStep    time.Duration `envconfig:"KITCHENSHARE_RECOVERY_BACKOFF_MAX_STEP" default:"72h"`
	InfraBackoffBase  time.Duration `envconfig:"KITCHENSHARE_RECOVERY_INFRA_BACKOFF_BASE" default:"5m"`
	InfraBackoffMax   time.Duration `envconfig:"KITCHENSHARE_RECOVERY_INFRA_BACKOFF_MAX" default:"1h"`
	GatewayTimeout    time.Duration `envconfig:"KITCHENSHARE_RECOVERY_GATEWAY_TIMEOUT" default:"20s"`
	LeaseTTL          time.Duration `envconfig:"KITCHENSHARE_RECOVERY_LEASE_TTL" default:"2m"`
	SessionTTL        time.Duration `envconfig:"KITCHENSHARE_RECOVERY_SESSION_TTL" default:"72h"`
	AdminRecipient    string        `envconfig:"KITCHENSHARE_RECOVERY_ADMIN_RECIPIENT" default:"billing-admins"`
	DueBatchSize      int           `envconfig:"KITCHENSHARE_RECOVERY_DUE_BATCH_SIZE" default:"100"`
	ReconcileLookback time.Duration `envconfig:"KITCHENSHARE_RECOVERY_RECONCILE_LOOKBACK" default:"720h"`
}

func (r RecoveryConfig) validate() error {
	if r.MaxDeclines <= 0 {
		return fmt.Errorf("%s must be positive", EnvRecoveryMaxDeclines)
	}
	if r.MaxInfraFailures <= 0 {
		return fmt.Errorf("%s must be positive", EnvRecoveryMaxInfraFailures)
	}
	if r.Window <= 0 {
		return fmt.Errorf("%s must be positive", EnvRecoveryWindow)
	}
	if r.LeaseTTL <= r.GatewayTimeout {
		return fmt.Errorf("%s must exceed %s", EnvRecoveryLeaseTTL, EnvRecoveryGatewayTimeout)
	}
	return nil
}

type WebhooksConfig struct {
	RecoverySecret string        `envconfig:"KITCHENSHARE_WEBHOOK_RECOVERY_SECRET"`
	IdempotencyTTL time.Duration `envconfig:"KITCHENSHARE_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
}

type CronConfig struct {
	Interval   time.Duration `envconfig:"KITCHENSHARE_CRON_INTERVAL" default:"5m"`
	LockTTL    time.Duration `envconfig:"KITCHENSHARE_CRON_LOCK_TTL" default:"10m"`
	Workers    int           `envconfig:"KITCHENSHARE_CRON_WORKERS" default:"4"`
	JobTimeout time.Duration `envconfig:"KITCHENSHARE_CRON_JOB_TIMEOUT" default:"4m"`
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

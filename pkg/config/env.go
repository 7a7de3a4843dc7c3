package config

const (
	EnvPrefix = "KITCHENSHARE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "KITCHENSHARE_APP_ENV"
	EnvPort     = "KITCHENSHARE_APP_PORT"
	EnvLogLevel = "KITCHENSHARE_LOG_LEVEL"

	EnvDBDSN  = "KITCHENSHARE_DB_DSN"
	EnvDBHost = "KITCHENSHARE_DB_HOST"
	EnvDBUser = "KITCHENSHARE_DB_USER"
	EnvDBName = "KITCHENSHARE_DB_NAME"

	EnvRedisURL = "KITCHENSHARE_REDIS_URL"

	EnvJWTSecret = "KITCHENSHARE_JWT_SECRET"
	EnvJWTIssuer = "KITCHENSHARE_JWT_ISSUER"

	EnvRecoveryMaxDeclines      = "KITCHENSHARE_RECOVERY_MAX_DECLINES"
	EnvRecoveryMaxInfraFailures = "KITCHENSHARE_RECOVERY_MAX_INFRA_FAILURES"
	EnvRecoveryWindow           = "KITCHENSHARE_RECOVERY_WINDOW"
	EnvRecoveryLeaseTTL         = "KITCHENSHARE_RECOVERY_LEASE_TTL"
	EnvRecoveryGatewayTimeout   = "KITCHENSHARE_RECOVERY_GATEWAY_TIMEOUT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

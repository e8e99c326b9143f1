package config

const (
	EnvPrefix = "SERVICEREPORT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	EnvAppEnv    = "SERVICEREPORT_APP_ENV"
	EnvPort      = "SERVICEREPORT_APP_PORT"
	EnvLogLevel  = "SERVICEREPORT_LOG_LEVEL"
	EnvDBDSN     = "SERVICEREPORT_DB_DSN"
	EnvDBHost    = "SERVICEREPORT_DB_HOST"
	EnvDBUser    = "SERVICEREPORT_DB_USER"
	EnvDBName    = "SERVICEREPORT_DB_NAME"
	EnvRedisURL  = "SERVICEREPORT_REDIS_URL"
	EnvJWTSecret = "SERVICEREPORT_JWT_SECRET"
	EnvJWTIssuer = "SERVICEREPORT_JWT_ISSUER"
	EnvUseSQLite = "SERVICEREPORT_USE_SQLITE"

	EnvNotifyMaxAttempts     = "SERVICEREPORT_NOTIFY_MAX_ATTEMPTS"
	EnvNotifyReconnectBaseMS = "SERVICEREPORT_NOTIFY_RECONNECT_BASE_MS"
	EnvNotifyReconnectMaxMS  = "SERVICEREPORT_NOTIFY_RECONNECT_MAX_MS"
	EnvNotifyInProcessSweep  = "SERVICEREPORT_NOTIFY_INPROCESS_SWEEP"
)

var dsnPartEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

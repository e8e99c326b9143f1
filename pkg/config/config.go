package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	FeatureFlags  FeatureFlagsConfig
	Notifications NotificationsConfig
	Hierarchy     HierarchyConfig
	Reports       ReportsConfig
	Maintenance   MaintenanceConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Notifications.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SERVICEREPORT_APP_ENV" required:"true"`
	Port         string `envconfig:"SERVICEREPORT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SERVICEREPORT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SERVICEREPORT_LOG_WARN_STACK" default:"false"`

	// CORSOrigins is a comma separated allow list for browser clients.
	CORSOrigins []string `envconfig:"SERVICEREPORT_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"SERVICEREPORT_DB_DSN"`
	Driver string `envconfig:"SERVICEREPORT_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"SERVICEREPORT_DB_HOST"`
	Port     int    `envconfig:"SERVICEREPORT_DB_PORT" default:"5432"`
	User     string `envconfig:"SERVICEREPORT_DB_USER"`
	Password string `envconfig:"SERVICEREPORT_DB_PASSWORD"`
	Name     string `envconfig:"SERVICEREPORT_DB_NAME"`
	SSLMode  string `envconfig:"SERVICEREPORT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SERVICEREPORT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SERVICEREPORT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SERVICEREPORT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SERVICEREPORT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SERVICEREPORT_REDIS_URL"`
	Address      string        `envconfig:"SERVICEREPORT_REDIS_ADDR"`
	Password     string        `envconfig:"SERVICEREPORT_REDIS_PASSWORD"`
	DB           int           `envconfig:"SERVICEREPORT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SERVICEREPORT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SERVICEREPORT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SERVICEREPORT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SERVICEREPORT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SERVICEREPORT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SERVICEREPORT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SERVICEREPORT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SERVICEREPORT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SERVICEREPORT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SERVICEREPORT_AUTO_MIGRATE" default:"false"`
}

type NotificationsConfig struct {
	MaxAttempts      int  `envconfig:"SERVICEREPORT_NOTIFY_MAX_ATTEMPTS" default:"3"`
	SweepIntervalMS  int  `envconfig:"SERVICEREPORT_NOTIFY_SWEEP_INTERVAL_MS" default:"10000"`
	SweepBatchSize   int  `envconfig:"SERVICEREPORT_NOTIFY_SWEEP_BATCH_SIZE" default:"100"`
	RetryBaseDelayMS int  `envconfig:"SERVICEREPORT_NOTIFY_RETRY_BASE_DELAY_MS" default:"5000"`
	AttemptTimeoutMS int  `envconfig:"SERVICEREPORT_NOTIFY_ATTEMPT_TIMEOUT_MS" default:"5000"`
	ReconnectBaseMS  int  `envconfig:"SERVICEREPORT_NOTIFY_RECONNECT_BASE_MS" default:"500"`
	ReconnectMaxMS   int  `envconfig:"SERVICEREPORT_NOTIFY_RECONNECT_MAX_MS" default:"30000"`
	UseDurableQueue  bool `envconfig:"SERVICEREPORT_NOTIFY_DURABLE_QUEUE" default:"true"`
	InProcessSweep   bool `envconfig:"SERVICEREPORT_NOTIFY_INPROCESS_SWEEP" default:"true"`
}

func (n NotificationsConfig) SweepInterval() time.Duration {
	return time.Duration(n.SweepIntervalMS) * time.Millisecond
}

func (n NotificationsConfig) RetryBaseDelay() time.Duration {
	return time.Duration(n.RetryBaseDelayMS) * time.Millisecond
}

func (n NotificationsConfig) AttemptTimeout() time.Duration {
	return time.Duration(n.AttemptTimeoutMS) * time.Millisecond
}

func (n NotificationsConfig) ReconnectBase() time.Duration {
	return time.Duration(n.ReconnectBaseMS) * time.Millisecond
}

func (n NotificationsConfig) ReconnectMax() time.Duration {
	return time.Duration(n.ReconnectMaxMS) * time.Millisecond
}

func (n NotificationsConfig) validate() error {
	if n.MaxAttempts < 1 {
		return fmt.Errorf("%s must be at least 1", EnvNotifyMaxAttempts)
	}
	if n.ReconnectMaxMS < n.ReconnectBaseMS {
		return fmt.Errorf("%s must not be below %s", EnvNotifyReconnectMaxMS, EnvNotifyReconnectBaseMS)
	}
	return nil
}

type HierarchyConfig struct {
	CacheTTLSeconds int `envconfig:"SERVICEREPORT_HIERARCHY_CACHE_TTL_SECONDS" default:"15"`
}

func (h HierarchyConfig) CacheTTL() time.Duration {
	return time.Duration(h.CacheTTLSeconds) * time.Second
}

type ReportsConfig struct {
	DecideTimeoutMS int `envconfig:"SERVICEREPORT_REPORTS_DECIDE_TIMEOUT_MS" default:"8000"`
	ConflictRetries int `envconfig:"SERVICEREPORT_REPORTS_CONFLICT_RETRIES" default:"3"`
	DefaultPageSize int `envconfig:"SERVICEREPORT_REPORTS_PAGE_SIZE" default:"25"`
}

func (r ReportsConfig) DecideTimeout() time.Duration {
	return time.Duration(r.DecideTimeoutMS) * time.Millisecond
}

type MaintenanceConfig struct {
	IntervalMinutes           int `envconfig:"SERVICEREPORT_MAINTENANCE_INTERVAL_MINUTES" default:"1440"`
	NotificationRetentionDays int `envconfig:"SERVICEREPORT_NOTIFICATION_RETENTION_DAYS" default:"90"`
	DeadLetterRetentionDays   int `envconfig:"SERVICEREPORT_DEAD_LETTER_RETENTION_DAYS" default:"30"`
}

func (m MaintenanceConfig) Interval() time.Duration {
	return time.Duration(m.IntervalMinutes) * time.Minute
}

func (m MaintenanceConfig) NotificationRetention() time.Duration {
	return time.Duration(m.NotificationRetentionDays) * 24 * time.Hour
}

func (m MaintenanceConfig) DeadLetterRetention() time.Duration {
	return time.Duration(m.DeadLetterRetentionDays) * 24 * time.Hour
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = DriverSQLite
		if db.DSN == "" {
			db.DSN = "file:servicereport.db?_foreign_keys=on"
		}
		return nil
	}
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	parts := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range dsnPartEnvVars {
		if parts[env] == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

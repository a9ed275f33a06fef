package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Cron         CronConfig
	Entitlements EntitlementsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
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
	if err := cfg.Entitlements.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ENTITLEMENTS_APP_ENV" required:"true"`
	Port         string `envconfig:"ENTITLEMENTS_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"ENTITLEMENTS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ENTITLEMENTS_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"ENTITLEMENTS_LOG_FORMAT" default:"json"`
	// CORSOrigins lists browser origins allowed to call the query API.
	CORSOrigins []string `envconfig:"ENTITLEMENTS_CORS_ORIGINS" default:"http://localhost:3000"`
	// MetricsPort exposes /metrics from the background workers; empty disables it.
	MetricsPort string `envconfig:"ENTITLEMENTS_METRICS_PORT"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ENTITLEMENTS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ENTITLEMENTS_DB_DSN"`
	Driver string `envconfig:"ENTITLEMENTS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ENTITLEMENTS_DB_HOST"`
	LegacyPort     int    `envconfig:"ENTITLEMENTS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ENTITLEMENTS_DB_USER"`
	LegacyPassword string `envconfig:"ENTITLEMENTS_DB_PASSWORD"`
	LegacyName     string `envconfig:"ENTITLEMENTS_DB_NAME"`
	LegacySSLMode  string `envconfig:"ENTITLEMENTS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ENTITLEMENTS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ENTITLEMENTS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ENTITLEMENTS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ENTITLEMENTS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQuery logs statements slower than this as warnings; 0 disables.
	SlowQuery time.Duration `envconfig:"ENTITLEMENTS_DB_SLOW_QUERY" default:"250ms"`
}

// IsSQLite reports whether the sqlite dialector was requested.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), "sqlite")
}

type RedisConfig struct {
	URL          string        `envconfig:"ENTITLEMENTS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ENTITLEMENTS_REDIS_ADDR"`
	Password     string        `envconfig:"ENTITLEMENTS_REDIS_PASSWORD"`
	DB           int           `envconfig:"ENTITLEMENTS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ENTITLEMENTS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ENTITLEMENTS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ENTITLEMENTS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ENTITLEMENTS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ENTITLEMENTS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ENTITLEMENTS_AUTO_MIGRATE" default:"false"`
}

// CronConfig drives the two background sweeps. Schedules are standard
// five-field cron expressions evaluated in UTC.
type CronConfig struct {
	LifecycleSchedule string        `envconfig:"ENTITLEMENTS_CRON_LIFECYCLE_SCHEDULE" default:"0 2 * * *"`
	UsageSchedule     string        `envconfig:"ENTITLEMENTS_CRON_USAGE_SCHEDULE" default:"*/15 * * * *"`
	LifecycleLockTTL  time.Duration `envconfig:"ENTITLEMENTS_CRON_LIFECYCLE_LOCK_TTL" default:"1h"`
	UsageLockTTL      time.Duration `envconfig:"ENTITLEMENTS_CRON_USAGE_LOCK_TTL" default:"14m"`
	Workers           int           `envconfig:"ENTITLEMENTS_CRON_WORKERS" default:"8"`
	RunOnStart        bool          `envconfig:"ENTITLEMENTS_CRON_RUN_ON_START" default:"false"`
}

type EntitlementsConfig struct {
	LimitPolicy      string        `envconfig:"ENTITLEMENTS_LIMIT_POLICY" default:"lenient"`
	FeatureGraphPath string        `envconfig:"ENTITLEMENTS_FEATURE_GRAPH_PATH"`
	PlanCacheTTL     time.Duration `envconfig:"ENTITLEMENTS_PLAN_CACHE_TTL" default:"5m"`
	PlanCacheSize    int           `envconfig:"ENTITLEMENTS_PLAN_CACHE_SIZE" default:"128"`

	// days before the window closes at which a reminder is queued
	RenewalReminderDays []int `envconfig:"ENTITLEMENTS_RENEWAL_REMINDER_DAYS" default:"30,14,7,1"`
	TrialReminderDays   []int `envconfig:"ENTITLEMENTS_TRIAL_REMINDER_DAYS" default:"3,1"`
	GraceReminderDays   []int `envconfig:"ENTITLEMENTS_GRACE_REMINDER_DAYS" default:"7,1"`
}

// Policy returns the parsed limit policy; Load has already validated it.
func (e EntitlementsConfig) Policy() enums.LimitPolicy {
	policy, err := enums.ParseLimitPolicy(e.LimitPolicy)
	if err != nil {
		return enums.LimitPolicyLenient
	}
	return policy
}

func (e EntitlementsConfig) validate() error {
	if _, err := enums.ParseLimitPolicy(e.LimitPolicy); err != nil {
		return fmt.Errorf("%s: %w", EnvLimitPolicy, err)
	}
	for name, offsets := range map[string][]int{
		EnvRenewalReminderDays: e.RenewalReminderDays,
		EnvTrialReminderDays:   e.TrialReminderDays,
		EnvGraceReminderDays:   e.GraceReminderDays,
	} {
		for _, d := range offsets {
			if d <= 0 {
				return fmt.Errorf("%s: reminder offsets must be positive, got %d", name, d)
			}
		}
	}
	return nil
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ENTITLEMENTS_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"ENTITLEMENTS_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ENTITLEMENTS_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"ENTITLEMENTS_PUBSUB_NOTIFICATION_TOPIC" default:"entitlement-notification-events"`
	// the relay blocks on each publish result
	BatchDelayMS int `envconfig:"ENTITLEMENTS_PUBSUB_BATCH_DELAY_MS" default:"10"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ENTITLEMENTS_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ENTITLEMENTS_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ENTITLEMENTS_OUTBOX_MAX_ATTEMPTS" default:"10"`
	// Retention is how long settled rows stay in outbox_events.
	Retention time.Duration `envconfig:"ENTITLEMENTS_OUTBOX_RETENTION" default:"720h"`
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

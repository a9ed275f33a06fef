package config

const (
	EnvPrefix = "ENTITLEMENTS"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "ENTITLEMENTS_APP_ENV"
	EnvPort     = "ENTITLEMENTS_APP_PORT"
	EnvLogLevel = "ENTITLEMENTS_LOG_LEVEL"

	EnvDBDSN    = "ENTITLEMENTS_DB_DSN"
	EnvDBDriver = "ENTITLEMENTS_DB_DRIVER"
	EnvDBHost   = "ENTITLEMENTS_DB_HOST"
	EnvDBUser   = "ENTITLEMENTS_DB_USER"
	EnvDBName   = "ENTITLEMENTS_DB_NAME"

	EnvRedisURL = "ENTITLEMENTS_REDIS_URL"

	EnvLifecycleSchedule = "ENTITLEMENTS_CRON_LIFECYCLE_SCHEDULE"
	EnvUsageSchedule     = "ENTITLEMENTS_CRON_USAGE_SCHEDULE"

	EnvLimitPolicy       = "ENTITLEMENTS_LIMIT_POLICY"
	EnvFeatureGraphPath  = "ENTITLEMENTS_FEATURE_GRAPH_PATH"
	EnvGCPProjectID      = "ENTITLEMENTS_GCP_PROJECT_ID"
	EnvNotificationTopic = "ENTITLEMENTS_PUBSUB_NOTIFICATION_TOPIC"

	EnvRenewalReminderDays = "ENTITLEMENTS_RENEWAL_REMINDER_DAYS"
	EnvTrialReminderDays   = "ENTITLEMENTS_TRIAL_REMINDER_DAYS"
	EnvGraceReminderDays   = "ENTITLEMENTS_GRACE_REMINDER_DAYS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

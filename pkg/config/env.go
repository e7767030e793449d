package config

const EnvPrefix = "MATFLOW"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	SequenceBackendDatabase = "database"
	SequenceBackendRedis    = "redis"
)

const (
	EnvAppEnv   = "MATFLOW_APP_ENV"
	EnvPort     = "MATFLOW_APP_PORT"
	EnvLogLevel = "MATFLOW_LOG_LEVEL"

	EnvDBDSN     = "MATFLOW_DB_DSN"
	EnvDBDriver  = "MATFLOW_DB_DRIVER"
	EnvDBHost    = "MATFLOW_DB_HOST"
	EnvDBUser    = "MATFLOW_DB_USER"
	EnvDBName    = "MATFLOW_DB_NAME"
	EnvUseSQLite = "MATFLOW_USE_SQLITE"

	EnvRedisURL = "MATFLOW_REDIS_URL"

	EnvGCPProjectID         = "MATFLOW_GCP_PROJECT_ID"
	EnvPubSubLifecycleTopic = "MATFLOW_PUBSUB_LIFECYCLE_TOPIC"
	EnvPubSubApprovalsTopic = "MATFLOW_PUBSUB_APPROVALS_TOPIC"

	EnvSequenceBackend    = "MATFLOW_SEQUENCE_BACKEND"
	EnvApprovalChainRoles = "MATFLOW_APPROVAL_CHAIN_ROLES"
	EnvApprovalRaiserRole = "MATFLOW_APPROVAL_RAISER_ROLE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

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
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Sequence     SequenceConfig
	Approval     ApprovalConfig
	CORS         CORSConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DBDriverSQLite
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Sequence.validate(); err != nil {
		return nil, err
	}
	if len(cfg.Approval.ChainRoles) == 0 {
		return nil, fmt.Errorf("%s must list at least one role", EnvApprovalChainRoles)
	}
	if strings.TrimSpace(cfg.Approval.RaiserRole) == "" {
		return nil, fmt.Errorf("%s is required", EnvApprovalRaiserRole)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MATFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"MATFLOW_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"MATFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MATFLOW_LOG_WARN_STACK" default:"false"`
	MetricsPort  string `envconfig:"MATFLOW_METRICS_PORT" default:"9090"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"MATFLOW_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MATFLOW_DB_DSN"`
	Driver string `envconfig:"MATFLOW_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MATFLOW_DB_HOST"`
	LegacyPort     int    `envconfig:"MATFLOW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MATFLOW_DB_USER"`
	LegacyPassword string `envconfig:"MATFLOW_DB_PASSWORD"`
	LegacyName     string `envconfig:"MATFLOW_DB_NAME"`
	LegacySSLMode  string `envconfig:"MATFLOW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MATFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MATFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MATFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MATFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the sqlite driver is selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"MATFLOW_REDIS_URL"`
	Address      string        `envconfig:"MATFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"MATFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"MATFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MATFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MATFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MATFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MATFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MATFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
	Namespace    string        `envconfig:"MATFLOW_REDIS_NAMESPACE" default:"mf"`
}

// Enabled reports whether any redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MATFLOW_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MATFLOW_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"MATFLOW_EVENTING_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MATFLOW_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"MATFLOW_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MATFLOW_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	LifecycleTopic        string `envconfig:"MATFLOW_PUBSUB_LIFECYCLE_TOPIC" default:"mf-lifecycle-events"`
	ApprovalsTopic        string `envconfig:"MATFLOW_PUBSUB_APPROVALS_TOPIC" default:"mf-approval-events"`
	ApprovalsSubscription string `envconfig:"MATFLOW_PUBSUB_APPROVALS_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MATFLOW_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MATFLOW_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MATFLOW_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// SequenceConfig selects where scoped counters live.
type SequenceConfig struct {
	Backend string `envconfig:"MATFLOW_SEQUENCE_BACKEND" default:"database"`
}

func (s SequenceConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(s.Backend)) {
	case SequenceBackendDatabase, SequenceBackendRedis:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", EnvSequenceBackend, SequenceBackendDatabase, SequenceBackendRedis, s.Backend)
	}
}

// UsesRedis reports whether sequences are allocated with redis INCR.
func (s SequenceConfig) UsesRedis() bool {
	return strings.EqualFold(strings.TrimSpace(s.Backend), SequenceBackendRedis)
}

type ApprovalConfig struct {
	ChainRoles []string `envconfig:"MATFLOW_APPROVAL_CHAIN_ROLES" default:"requester,purchase_head,ceo"`
	RaiserRole string   `envconfig:"MATFLOW_APPROVAL_RAISER_ROLE" default:"purchase_head"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"MATFLOW_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	MaxAge         int      `envconfig:"MATFLOW_CORS_MAX_AGE" default:"300"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file:materialflow.db?cache=shared&_foreign_keys=on"
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

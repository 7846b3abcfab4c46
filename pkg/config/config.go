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
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Gate          GateConfig
	RateLimit     RateLimitConfig
	Breaker       BreakerConfig
	Orchestration OrchestrationConfig
	Stripe        StripeConfig
	Billing       BillingConfig
	FeatureFlags  FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DriverSQLite
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Gate.validate(cfg.App); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TISTIS_APP_ENV" required:"true"`
	Port         string `envconfig:"TISTIS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"TISTIS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TISTIS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TISTIS_SERVICE_KIND" default:"gateway"`
}

type DBConfig struct {
	DSN    string `envconfig:"TISTIS_DB_DSN"`
	Driver string `envconfig:"TISTIS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TISTIS_DB_HOST"`
	LegacyPort     int    `envconfig:"TISTIS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TISTIS_DB_USER"`
	LegacyPassword string `envconfig:"TISTIS_DB_PASSWORD"`
	LegacyName     string `envconfig:"TISTIS_DB_NAME"`
	LegacySSLMode  string `envconfig:"TISTIS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TISTIS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TISTIS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TISTIS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TISTIS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TISTIS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TISTIS_REDIS_ADDR"`
	Password     string        `envconfig:"TISTIS_REDIS_PASSWORD"`
	DB           int           `envconfig:"TISTIS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TISTIS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TISTIS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TISTIS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TISTIS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TISTIS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"TISTIS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"TISTIS_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"TISTIS_JWT_EXPIRATION_MINUTES" default:"60"`
}

// GateConfig drives the webhook security gate checks.
type GateConfig struct {
	AllowedCIDRs     []string      `envconfig:"TISTIS_GATE_ALLOWED_CIDRS"`
	AllowLoopback    bool          `envconfig:"TISTIS_GATE_ALLOW_LOOPBACK" default:"false"`
	WebhookSecret    string        `envconfig:"TISTIS_GATE_WEBHOOK_SECRET"`
	RequireSignature bool          `envconfig:"TISTIS_GATE_REQUIRE_SIGNATURE" default:"true"`
	TimestampSkew    time.Duration `envconfig:"TISTIS_GATE_TIMESTAMP_SKEW" default:"5m"`
	MaxBodyBytes     int64         `envconfig:"TISTIS_GATE_MAX_BODY_BYTES" default:"1048576"`
}

// validate enforces the fail-closed rule: a production deployment that
// requires signatures must carry a secret, refusing to boot otherwise.
func (g GateConfig) validate(app AppConfig) error {
	if app.IsProd() && g.RequireSignature && strings.TrimSpace(g.WebhookSecret) == "" {
		return fmt.Errorf("%s is required when signatures are enforced in production", EnvGateWebhookSecret)
	}
	return nil
}

type RateLimitConfig struct {
	Window      time.Duration `envconfig:"TISTIS_RATE_LIMIT_WINDOW" default:"1m"`
	TenantLimit int           `envconfig:"TISTIS_RATE_LIMIT_TENANT" default:"200"`
	GlobalLimit int           `envconfig:"TISTIS_RATE_LIMIT_GLOBAL" default:"1000"`
}

type BreakerConfig struct {
	FailureThreshold    int           `envconfig:"TISTIS_BREAKER_FAILURE_THRESHOLD" default:"5"`
	RecoveryTimeout     time.Duration `envconfig:"TISTIS_BREAKER_RECOVERY_TIMEOUT" default:"30s"`
	MaxLatency          time.Duration `envconfig:"TISTIS_BREAKER_MAX_LATENCY" default:"8s"`
	HalfOpenSuccesses   int           `envconfig:"TISTIS_BREAKER_HALF_OPEN_SUCCESSES" default:"3"`
	JanitorStuckOpenFor time.Duration `envconfig:"TISTIS_BREAKER_JANITOR_STUCK_OPEN" default:"24h"`
}

type OrchestrationConfig struct {
	BaseURL          string        `envconfig:"TISTIS_ORCHESTRATION_URL"`
	RequestTimeout   time.Duration `envconfig:"TISTIS_ORCHESTRATION_TIMEOUT" default:"10s"`
	FallbackText     string        `envconfig:"TISTIS_ORCHESTRATION_FALLBACK_TEXT" default:"Disculpa, estamos teniendo problemas técnicos. Por favor intenta de nuevo en unos minutos."`
	LimitReachedText string        `envconfig:"TISTIS_ORCHESTRATION_LIMIT_TEXT" default:"Esta línea no está disponible por el momento. Por favor comunícate más tarde."`
}

type StripeConfig struct {
	APIKey string `envconfig:"TISTIS_STRIPE_API_KEY"`
	Env    string `envconfig:"TISTIS_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type BillingConfig struct {
	ReconcileInterval time.Duration `envconfig:"TISTIS_BILLING_RECONCILE_INTERVAL" default:"24h"`
	BatchLimit        int           `envconfig:"TISTIS_BILLING_BATCH_LIMIT" default:"250"`
	Currency          string        `envconfig:"TISTIS_BILLING_CURRENCY" default:"mxn"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"TISTIS_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"TISTIS_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	// sqlite is a local-dev convenience; an unset DSN means a file
	// next to the process rather than a connection string.
	if strings.EqualFold(db.Driver, DriverSQLite) {
		db.DSN = "tistis.db"
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

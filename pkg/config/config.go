package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "POSFLOW"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "POSFLOW_APP_ENV"
	EnvPort     = "POSFLOW_APP_PORT"
	EnvLogLevel = "POSFLOW_LOG_LEVEL"

	EnvDBDSN  = "POSFLOW_DB_DSN"
	EnvDBHost = "POSFLOW_DB_HOST"
	EnvDBUser = "POSFLOW_DB_USER"
	EnvDBName = "POSFLOW_DB_NAME"

	EnvRedisURL = "POSFLOW_REDIS_URL"

	EnvJWTSecret  = "POSFLOW_JWT_SECRET"
	EnvJWTIssuer  = "POSFLOW_JWT_ISSUER"
	EnvJWTExpMins = "POSFLOW_JWT_EXPIRATION_MINUTES"

	EnvCaptureTimeout    = "POSFLOW_CAPTURE_TIMEOUT"
	EnvCommitIdemTTL     = "POSFLOW_COMMIT_IDEMPOTENCY_TTL"
	EnvResolverTimeout   = "POSFLOW_RESOLVER_TIMEOUT"
	EnvGatewayURL        = "POSFLOW_GATEWAY_URL"
	EnvGatewayToken      = "POSFLOW_GATEWAY_TOKEN"
	EnvTerminalStatePath = "POSFLOW_TERMINAL_STATE_PATH"
	EnvTerminalProfile   = "POSFLOW_TERMINAL_PROFILE"
	EnvTerminalSession   = "POSFLOW_TERMINAL_SESSION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

// Config is the commit gateway server configuration.
type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Flow         FlowConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// TerminalConfig configures the operator terminal (posctl).
type TerminalConfig struct {
	App      TerminalAppConfig
	Gateway  GatewayConfig
	Terminal TerminalStateConfig
	Flow     FlowConfig
}

// LoadTerminal reads the terminal configuration. It never needs database or
// redis credentials.
func LoadTerminal() (*TerminalConfig, error) {
	var cfg TerminalConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing terminal config: %w", err)
	}
	return &cfg, nil
}

// LoadJWT reads only the token signing settings, for tooling that mints
// operator tokens.
func LoadJWT() (*JWTConfig, error) {
	var cfg JWTConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing jwt config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"POSFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"POSFLOW_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"POSFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"POSFLOW_LOG_WARN_STACK" default:"false"`
	// CORSOrigins is a comma separated list of browser terminal origins.
	CORSOrigins []string `envconfig:"POSFLOW_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type TerminalAppConfig struct {
	LogLevel     string `envconfig:"POSFLOW_LOG_LEVEL" default:"warn"`
	LogWarnStack bool   `envconfig:"POSFLOW_LOG_WARN_STACK" default:"false"`
}

type DBConfig struct {
	DSN    string `envconfig:"POSFLOW_DB_DSN"`
	Driver string `envconfig:"POSFLOW_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"POSFLOW_DB_HOST"`
	LegacyPort     int    `envconfig:"POSFLOW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"POSFLOW_DB_USER"`
	LegacyPassword string `envconfig:"POSFLOW_DB_PASSWORD"`
	LegacyName     string `envconfig:"POSFLOW_DB_NAME"`
	LegacySSLMode  string `envconfig:"POSFLOW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"POSFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"POSFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"POSFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"POSFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"POSFLOW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"POSFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"POSFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"POSFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"POSFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"POSFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"POSFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"POSFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"POSFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"POSFLOW_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"POSFLOW_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"POSFLOW_JWT_EXPIRATION_MINUTES" default:"720"`
}

// FlowConfig tunes the wizard protocol. Shared by the server and the terminal.
type FlowConfig struct {
	CaptureTimeout        time.Duration `envconfig:"POSFLOW_CAPTURE_TIMEOUT" default:"15s"`
	ResolverTimeout       time.Duration `envconfig:"POSFLOW_RESOLVER_TIMEOUT" default:"5s"`
	CommitIdempotencyTTL  time.Duration `envconfig:"POSFLOW_COMMIT_IDEMPOTENCY_TTL" default:"168h"`
	DefaultIdempotencyTTL time.Duration `envconfig:"POSFLOW_DEFAULT_IDEMPOTENCY_TTL" default:"24h"`
	SnapshotTTL           time.Duration `envconfig:"POSFLOW_FLOW_SNAPSHOT_TTL" default:"24h"`

	LookupRateWindow    time.Duration `envconfig:"POSFLOW_LOOKUP_RATE_WINDOW" default:"1m"`
	LookupIPLimit       int           `envconfig:"POSFLOW_LOOKUP_IP_LIMIT" default:"600"`
	LookupTerminalLimit int           `envconfig:"POSFLOW_LOOKUP_TERMINAL_LIMIT" default:"120"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"POSFLOW_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"POSFLOW_AUTO_MIGRATE" default:"false"`
}

type GatewayConfig struct {
	BaseURL string        `envconfig:"POSFLOW_GATEWAY_URL" default:"http://localhost:8080"`
	Token   string        `envconfig:"POSFLOW_GATEWAY_TOKEN"`
	Timeout time.Duration `envconfig:"POSFLOW_GATEWAY_TIMEOUT" default:"10s"`
}

const (
	StateBackendSQLite = "sqlite"
	StateBackendRedis  = "redis"
)

type TerminalStateConfig struct {
	Backend   string `envconfig:"POSFLOW_TERMINAL_STATE_BACKEND" default:"sqlite"`
	StatePath string `envconfig:"POSFLOW_TERMINAL_STATE_PATH" default:"posflow-terminal.db"`
	RedisURL  string `envconfig:"POSFLOW_TERMINAL_REDIS_URL"`
	Profile   string `envconfig:"POSFLOW_TERMINAL_PROFILE" default:"default"`
	Session   string `envconfig:"POSFLOW_TERMINAL_SESSION" default:"main"`

	MetricsFile string `envconfig:"POSFLOW_TERMINAL_METRICS_FILE"`
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

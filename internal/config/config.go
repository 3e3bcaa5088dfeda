package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/joho/godotenv"
)

type Config struct {
	// Queried data store.
	DatabaseURL    string        `validate:"required"`
	DatabaseDriver string        `validate:"oneof=postgres sqlite"`
	ExecTimeout    time.Duration `validate:"gt=0"`
	Schemas        []string      // empty means all non-system schemas

	// Complexity budget and preview.
	MaxRows          int `validate:"gt=0"`
	MaxColumns       int `validate:"gt=0"`
	MaxJoins         int `validate:"gte=0"`
	MaxSubqueryDepth int `validate:"gte=0"`
	PreviewLimit     int `validate:"gt=0"`

	// Per-principal rate limiting.
	RateLimitMax           int           `validate:"gt=0"`
	RateLimitWindow        time.Duration `validate:"gt=0"`
	RateLimitCASAttempts   int           `validate:"gt=0"` // counter update retries per request
	RateLimitCountRejected bool
	RateLimitStore         string `validate:"oneof=memory redis"`
	RedisAddr              string `validate:"required_if=RateLimitStore redis"`
	RedisPassword          string
	RedisDB                int `validate:"gte=0"`

	// Policy.
	TableWhitelist []string
	TablePrefix    string
	PolicyFile     string // optional path to policy YAML
	StrictParse    bool

	// Materialized results; empty keeps them in memory.
	ResultStoreDSN string

	// Logging.
	LogLevel slog.Level

	// Transport.
	Transport       string  `validate:"oneof=stdio http"`
	HTTPAddr        string  `validate:"required_if=Transport http"`
	HTTPBearerToken string  `validate:"required_if=Transport http"`
	StdioPrincipal  string  `validate:"required_if=Transport stdio"`
	IngressRPS      float64 `validate:"gte=0"`
	IngressBurst    int     `validate:"gte=0"`

	// Connection pool.
	PoolMaxConns        int32         `validate:"gt=0"` // default: 5
	PoolMinConns        int32         `validate:"gte=0,ltefield=PoolMaxConns"`
	PoolMaxConnLifetime time.Duration // default: 30m
	PoolMaxConnIdleTime time.Duration // default: 5m

	// Observability.
	OTelEnabled bool // enable OpenTelemetry tracing and metrics

	// Audit sinks. Any combination may be enabled.
	AuditLog    string // path to NDJSON audit log file
	AuditStream string // Redis stream name; needs REDIS_ADDR
	AuditDB     string // DSN for the audit_log table
}

// Budget returns the configured complexity ceilings.
func (c *Config) Budget() domain.ComplexityBudget {
	return domain.ComplexityBudget{
		MaxJoins:         c.MaxJoins,
		MaxSubqueryDepth: c.MaxSubqueryDepth,
		MaxRows:          c.MaxRows,
		MaxColumns:       c.MaxColumns,
	}
}

// Whitelist returns the base whitelist before any policy file is applied.
func (c *Config) Whitelist() domain.TableWhitelist {
	return domain.NewTableWhitelist(c.TablePrefix, c.TableWhitelist...)
}

// Overrides holds CLI flag values that override environment variables.
// Pointer fields distinguish "not set" from zero values.
type Overrides struct {
	DatabaseURL     *string
	DatabaseDriver  *string
	LogLevel        *string
	ExecTimeout     *time.Duration
	MaxRows         *int
	PreviewLimit    *int
	RateLimitMax    *int
	RateLimitWindow *time.Duration
	RateLimitStore  *string
	PolicyFile      *string
	Transport       *string
	HTTPAddr        *string
	HTTPBearerToken *string
	StdioPrincipal  *string
	OTelEnabled     bool
	StrictParse     bool
	AuditLog        string

	// Connection pool overrides.
	PoolMaxConns        *int32
	PoolMinConns        *int32
	PoolMaxConnLifetime *time.Duration
}

// Load reads an optional .env file, builds a Config from environment
// variables, applies CLI overrides, then validates the result.
func Load(overrides Overrides) (*Config, error) {
	// A missing .env is normal; real env vars always win over it.
	_ = godotenv.Load()

	cfg := defaults()

	if err := loadEnvVars(cfg); err != nil {
		return nil, err
	}
	if err := applyOverrides(cfg, overrides); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadForLint builds a Config for offline query linting. Only the policy
// fields (whitelist, prefix, policy file, budget, strict parse) are checked;
// no data store or transport settings are required.
func LoadForLint(overrides Overrides) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if err := loadEnvVars(cfg); err != nil {
		return nil, err
	}
	if err := applyOverrides(cfg, overrides); err != nil {
		return nil, err
	}
	if err := checkPolicyFields(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaults returns a Config populated with default values.
func defaults() *Config {
	b := domain.DefaultBudget()
	return &Config{
		DatabaseDriver:       "postgres",
		ExecTimeout:          30 * time.Second,
		MaxRows:              b.MaxRows,
		MaxColumns:           b.MaxColumns,
		MaxJoins:             b.MaxJoins,
		MaxSubqueryDepth:     b.MaxSubqueryDepth,
		PreviewLimit:         5,
		RateLimitMax:         10,
		RateLimitWindow:      60 * time.Second,
		RateLimitStore:       "memory",
		RateLimitCASAttempts: 16,
		LogLevel:             slog.LevelInfo,
		Transport:            "stdio",
		HTTPAddr:             ":8080",
		StdioPrincipal:       "stdio",
		IngressRPS:           20,
		IngressBurst:         40,
		PoolMaxConns:         5,
		PoolMinConns:         1,
		PoolMaxConnLifetime:  30 * time.Minute,
		PoolMaxConnIdleTime:  5 * time.Minute,
	}
}

// loadEnvVars reads all supported environment variables into cfg.
func loadEnvVars(cfg *Config) error {
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	setString(&cfg.DatabaseDriver, "DATABASE_DRIVER")

	if err := envDuration("EXEC_TIMEOUT", &cfg.ExecTimeout); err != nil {
		return err
	}
	for name, dst := range map[string]*int{
		"MAX_ROWS":                &cfg.MaxRows,
		"MAX_COLUMNS":             &cfg.MaxColumns,
		"MAX_JOINS":               &cfg.MaxJoins,
		"MAX_SUBQUERY_DEPTH":      &cfg.MaxSubqueryDepth,
		"PREVIEW_LIMIT":           &cfg.PreviewLimit,
		"RATE_LIMIT_MAX":          &cfg.RateLimitMax,
		"RATE_LIMIT_CAS_ATTEMPTS": &cfg.RateLimitCASAttempts,
		"REDIS_DB":                &cfg.RedisDB,
		"INGRESS_BURST":           &cfg.IngressBurst,
	} {
		if err := envInt(name, dst); err != nil {
			return err
		}
	}

	if err := envDuration("RATE_LIMIT_WINDOW", &cfg.RateLimitWindow); err != nil {
		return err
	}
	if err := envBool("RATE_LIMIT_COUNT_REJECTED", &cfg.RateLimitCountRejected); err != nil {
		return err
	}
	setString(&cfg.RateLimitStore, "RATE_LIMIT_STORE")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	cfg.TableWhitelist = splitList(os.Getenv("TABLE_WHITELIST"))
	cfg.TablePrefix = strings.TrimSpace(os.Getenv("TABLE_PREFIX"))
	cfg.Schemas = splitList(os.Getenv("SCHEMAS"))
	cfg.PolicyFile = os.Getenv("POLICY_FILE")
	if err := envBool("STRICT_PARSE", &cfg.StrictParse); err != nil {
		return err
	}
	cfg.ResultStoreDSN = os.Getenv("RESULT_STORE_DSN")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}

	setString(&cfg.Transport, "TRANSPORT")
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	cfg.HTTPBearerToken = os.Getenv("HTTP_BEARER_TOKEN")
	setString(&cfg.StdioPrincipal, "STDIO_PRINCIPAL")
	if v := os.Getenv("INGRESS_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid INGRESS_RPS value %q: %w", v, err)
		}
		cfg.IngressRPS = f
	}

	if err := envBool("OTEL_ENABLED", &cfg.OTelEnabled); err != nil {
		return err
	}

	cfg.AuditLog = os.Getenv("AUDIT_LOG")
	cfg.AuditStream = os.Getenv("AUDIT_STREAM")
	cfg.AuditDB = os.Getenv("AUDIT_DB")

	return loadPoolEnvVars(cfg)
}

// loadPoolEnvVars reads connection pool environment variables.
func loadPoolEnvVars(cfg *Config) error {
	if v := os.Getenv("POOL_MAX_CONNS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid POOL_MAX_CONNS value %q: must be a positive integer", v)
		}
		cfg.PoolMaxConns = int32(n)
	}
	if v := os.Getenv("POOL_MIN_CONNS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid POOL_MIN_CONNS value %q: must be a non-negative integer", v)
		}
		cfg.PoolMinConns = int32(n)
	}
	if err := envDuration("POOL_MAX_CONN_LIFETIME", &cfg.PoolMaxConnLifetime); err != nil {
		return err
	}
	return envDuration("POOL_MAX_CONN_IDLE_TIME", &cfg.PoolMaxConnIdleTime)
}

func setString(dst *string, name string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s value %q: must be an integer", name, v)
	}
	*dst = n
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", name, v, err)
	}
	*dst = d
	return nil
}

func envBool(name string, dst *bool) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", name, v, err)
	}
	*dst = b
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// applyOverrides applies CLI flag values on top of the env-loaded config.
func applyOverrides(cfg *Config, o Overrides) error {
	if o.DatabaseURL != nil {
		cfg.DatabaseURL = *o.DatabaseURL
	}
	if o.DatabaseDriver != nil {
		cfg.DatabaseDriver = *o.DatabaseDriver
	}
	if o.LogLevel != nil {
		level, err := parseLogLevel(*o.LogLevel)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}
	if o.ExecTimeout != nil {
		cfg.ExecTimeout = *o.ExecTimeout
	}
	if o.MaxRows != nil {
		cfg.MaxRows = *o.MaxRows
	}
	if o.PreviewLimit != nil {
		cfg.PreviewLimit = *o.PreviewLimit
	}
	if o.RateLimitMax != nil {
		cfg.RateLimitMax = *o.RateLimitMax
	}
	if o.RateLimitWindow != nil {
		cfg.RateLimitWindow = *o.RateLimitWindow
	}
	if o.RateLimitStore != nil {
		cfg.RateLimitStore = *o.RateLimitStore
	}
	if o.PolicyFile != nil {
		cfg.PolicyFile = *o.PolicyFile
	}
	if o.Transport != nil {
		cfg.Transport = *o.Transport
	}
	if o.HTTPAddr != nil {
		cfg.HTTPAddr = *o.HTTPAddr
	}
	if o.HTTPBearerToken != nil {
		cfg.HTTPBearerToken = *o.HTTPBearerToken
	}
	if o.StdioPrincipal != nil {
		cfg.StdioPrincipal = *o.StdioPrincipal
	}
	if o.PoolMaxConns != nil {
		cfg.PoolMaxConns = *o.PoolMaxConns
	}
	if o.PoolMinConns != nil {
		cfg.PoolMinConns = *o.PoolMinConns
	}
	if o.PoolMaxConnLifetime != nil {
		cfg.PoolMaxConnLifetime = *o.PoolMaxConnLifetime
	}
	if o.AuditLog != "" {
		cfg.AuditLog = o.AuditLog
	}

	cfg.OTelEnabled = cfg.OTelEnabled || o.OTelEnabled
	cfg.StrictParse = cfg.StrictParse || o.StrictParse

	return nil
}

// envNames maps struct fields to the env var users actually set, so
// validation errors name something they can fix.
var envNames = map[string]string{
	"DatabaseURL":          "DATABASE_URL",
	"DatabaseDriver":       "DATABASE_DRIVER",
	"ExecTimeout":          "EXEC_TIMEOUT",
	"MaxRows":              "MAX_ROWS",
	"MaxColumns":           "MAX_COLUMNS",
	"MaxJoins":             "MAX_JOINS",
	"MaxSubqueryDepth":     "MAX_SUBQUERY_DEPTH",
	"PreviewLimit":         "PREVIEW_LIMIT",
	"RateLimitMax":         "RATE_LIMIT_MAX",
	"RateLimitWindow":      "RATE_LIMIT_WINDOW",
	"RateLimitStore":       "RATE_LIMIT_STORE",
	"RateLimitCASAttempts": "RATE_LIMIT_CAS_ATTEMPTS",
	"RedisAddr":            "REDIS_ADDR",
	"RedisDB":              "REDIS_DB",
	"Transport":            "TRANSPORT",
	"HTTPAddr":             "HTTP_ADDR",
	"HTTPBearerToken":      "HTTP_BEARER_TOKEN",
	"StdioPrincipal":       "STDIO_PRINCIPAL",
	"IngressRPS":           "INGRESS_RPS",
	"IngressBurst":         "INGRESS_BURST",
	"PoolMaxConns":         "POOL_MAX_CONNS",
	"PoolMinConns":         "POOL_MIN_CONNS",
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// validate checks field bounds and cross-field constraints on the final config.
func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return fmt.Errorf("validating config: %w", err)
		}
		fe := verrs[0]
		name := envNames[fe.Field()]
		if name == "" {
			name = fe.Field()
		}
		switch fe.Field() {
		case "DatabaseURL":
			return fmt.Errorf("DATABASE_URL is required (set via env var or --database-url flag)")
		case "HTTPBearerToken":
			return fmt.Errorf("HTTP_BEARER_TOKEN is required when transport is \"http\" (set via env var or --http-bearer-token flag)")
		}
		return &domain.ConfigurationError{Field: name, Reason: describe(fe)}
	}

	if cfg.AuditStream != "" && cfg.RedisAddr == "" {
		return &domain.ConfigurationError{Field: "AUDIT_STREAM", Reason: "requires REDIS_ADDR"}
	}
	return checkPolicyFields(cfg)
}

func checkPolicyFields(cfg *Config) error {
	if cfg.PolicyFile == "" && cfg.TablePrefix == "" && len(cfg.TableWhitelist) == 0 {
		return &domain.ConfigurationError{
			Field:  "TABLE_WHITELIST",
			Reason: "no tables are queryable; set TABLE_WHITELIST, TABLE_PREFIX or POLICY_FILE",
		}
	}
	return cfg.Budget().Check()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "gt":
		return fmt.Sprintf("must be greater than %s, got %v", fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("must be at least %s, got %v", fe.Param(), fe.Value())
	case "ltefield":
		return fmt.Sprintf("must not exceed %s", envNames[fe.Param()])
	default:
		return fmt.Sprintf("failed %s check", fe.Tag())
	}
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL value %q: must be debug, info, warn, or error", s)
	}
}

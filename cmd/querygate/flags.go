package main

import (
	"time"

	"github.com/guillermoBallester/querygate/internal/config"
	"github.com/spf13/pflag"
)

// flagValues holds raw flag destinations. Whether a flag was actually given
// is read from the FlagSet, so unset flags never override env vars.
type flagValues struct {
	databaseURL     string
	databaseDriver  string
	logLevel        string
	execTimeout     time.Duration
	maxRows         int
	previewLimit    int
	rateLimitMax    int
	rateLimitWindow time.Duration
	rateLimitStore  string
	policyFile      string
	transport       string
	httpAddr        string
	httpBearerToken string
	stdioPrincipal  string
	otel            bool
	strictParse     bool
	auditLog        string

	poolMaxConns        int32
	poolMinConns        int32
	poolMaxConnLifetime time.Duration
}

func newFlagSet() (*pflag.FlagSet, *flagValues) {
	v := &flagValues{}
	fs := pflag.NewFlagSet("querygate", pflag.ContinueOnError)

	fs.StringVar(&v.databaseURL, "database-url", "", "connection URL of the queried database (env DATABASE_URL)")
	fs.StringVar(&v.databaseDriver, "database-driver", "", "postgres or sqlite (env DATABASE_DRIVER)")
	fs.StringVar(&v.logLevel, "log-level", "", "debug, info, warn or error (env LOG_LEVEL)")
	fs.DurationVar(&v.execTimeout, "exec-timeout", 0, "per-query execution timeout (env EXEC_TIMEOUT)")
	fs.IntVar(&v.maxRows, "max-rows", 0, "row ceiling for results (env MAX_ROWS)")
	fs.IntVar(&v.previewLimit, "preview-limit", 0, "rows returned by preview (env PREVIEW_LIMIT)")
	fs.IntVar(&v.rateLimitMax, "rate-limit-max", 0, "requests per principal per window (env RATE_LIMIT_MAX)")
	fs.DurationVar(&v.rateLimitWindow, "rate-limit-window", 0, "rate-limit window length (env RATE_LIMIT_WINDOW)")
	fs.StringVar(&v.rateLimitStore, "rate-limit-store", "", "memory or redis (env RATE_LIMIT_STORE)")
	fs.StringVar(&v.policyFile, "policy-file", "", "path to the policy YAML (env POLICY_FILE)")
	fs.StringVar(&v.transport, "transport", "", "stdio or http (env TRANSPORT)")
	fs.StringVar(&v.httpAddr, "http-addr", "", "listen address for the http transport (env HTTP_ADDR)")
	fs.StringVar(&v.httpBearerToken, "http-bearer-token", "", "bearer token required on /mcp (env HTTP_BEARER_TOKEN)")
	fs.StringVar(&v.stdioPrincipal, "stdio-principal", "", "principal for stdio calls (env STDIO_PRINCIPAL)")
	fs.BoolVar(&v.otel, "otel", false, "enable OpenTelemetry tracing and metrics")
	fs.BoolVar(&v.strictParse, "strict-parse", false, "cross-check queries with the PostgreSQL parser")
	fs.StringVar(&v.auditLog, "audit-log", "", "append NDJSON audit entries to this file")
	fs.Int32Var(&v.poolMaxConns, "pool-max-conns", 0, "maximum pool connections (env POOL_MAX_CONNS)")
	fs.Int32Var(&v.poolMinConns, "pool-min-conns", 0, "minimum pool connections (env POOL_MIN_CONNS)")
	fs.DurationVar(&v.poolMaxConnLifetime, "pool-max-conn-lifetime", 0, "maximum connection lifetime (env POOL_MAX_CONN_LIFETIME)")

	return fs, v
}

// parseFlags parses args on a fresh flag set and returns the overrides.
func parseFlags(args []string) (config.Overrides, error) {
	fs, v := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return config.Overrides{}, err
	}
	return v.overrides(fs), nil
}

func (v *flagValues) overrides(fs *pflag.FlagSet) config.Overrides {
	o := config.Overrides{
		OTelEnabled: v.otel,
		StrictParse: v.strictParse,
		AuditLog:    v.auditLog,
	}
	if fs.Changed("database-url") {
		o.DatabaseURL = &v.databaseURL
	}
	if fs.Changed("database-driver") {
		o.DatabaseDriver = &v.databaseDriver
	}
	if fs.Changed("log-level") {
		o.LogLevel = &v.logLevel
	}
	if fs.Changed("exec-timeout") {
		o.ExecTimeout = &v.execTimeout
	}
	if fs.Changed("max-rows") {
		o.MaxRows = &v.maxRows
	}
	if fs.Changed("preview-limit") {
		o.PreviewLimit = &v.previewLimit
	}
	if fs.Changed("rate-limit-max") {
		o.RateLimitMax = &v.rateLimitMax
	}
	if fs.Changed("rate-limit-window") {
		o.RateLimitWindow = &v.rateLimitWindow
	}
	if fs.Changed("rate-limit-store") {
		o.RateLimitStore = &v.rateLimitStore
	}
	if fs.Changed("policy-file") {
		o.PolicyFile = &v.policyFile
	}
	if fs.Changed("transport") {
		o.Transport = &v.transport
	}
	if fs.Changed("http-addr") {
		o.HTTPAddr = &v.httpAddr
	}
	if fs.Changed("http-bearer-token") {
		o.HTTPBearerToken = &v.httpBearerToken
	}
	if fs.Changed("stdio-principal") {
		o.StdioPrincipal = &v.stdioPrincipal
	}
	if fs.Changed("pool-max-conns") {
		o.PoolMaxConns = &v.poolMaxConns
	}
	if fs.Changed("pool-min-conns") {
		o.PoolMinConns = &v.poolMinConns
	}
	if fs.Changed("pool-max-conn-lifetime") {
		o.PoolMaxConnLifetime = &v.poolMaxConnLifetime
	}
	return o
}

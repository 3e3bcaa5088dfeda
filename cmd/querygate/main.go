package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// errInvalidQuery makes `querygate validate` exit 1 without extra output.
var errInvalidQuery = errors.New("query is invalid")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errInvalidQuery) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	fs, values := newFlagSet()

	root := &cobra.Command{
		Use:   "querygate",
		Short: "Safe query gateway for untrusted SELECT statements",
		Long: `querygate accepts SQL from untrusted principals, validates it against a
table whitelist and complexity budget, rate-limits each principal, and runs
what passes under a read-only transaction with a statement timeout.

Served over MCP (stdio or streamable HTTP) and a JSON HTTP API.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), values.overrides(cmd.Flags()))
		},
	}
	root.PersistentFlags().AddFlagSet(fs)

	root.AddCommand(newServeCmd(values), newValidateCmd(values))
	return root
}

func newServeCmd(values *flagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), values.overrides(cmd.Flags()))
		},
	}
}

func newLogger(level slog.Level) *slog.Logger {
	// Logs go to stderr; stdout is reserved for the MCP stdio transport.
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// redactDSN replaces the password in a connection URL with ***.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

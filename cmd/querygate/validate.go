package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/guillermoBallester/querygate/internal/config"
	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/spf13/cobra"
)

func newValidateCmd(values *flagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [sql]",
		Short: "Check a query against the configured policy without running it",
		Long: `Runs the validation rules offline and prints the outcome as JSON.
The query is read from the argument or, when absent, from stdin. No database
connection is made. Exits 1 when the query is rejected.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readQuery(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			outcome, err := lintQuery(values.overrides(cmd.Flags()), raw)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(outcome); err != nil {
				return err
			}
			if !outcome.Valid {
				return errInvalidQuery
			}
			return nil
		},
	}
}

const maxStdinQuery = 1 << 20

func readQuery(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(io.LimitReader(stdin, maxStdinQuery))
	if err != nil {
		return "", fmt.Errorf("reading query from stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func lintQuery(o config.Overrides, raw string) (domain.ValidationOutcome, error) {
	cfg, err := config.LoadForLint(o)
	if err != nil {
		return domain.ValidationOutcome{}, fmt.Errorf("loading config: %w", err)
	}
	_, sp, err := loadPolicy(cfg)
	if err != nil {
		return domain.ValidationOutcome{}, err
	}

	var opts []domain.ValidatorOption
	if cfg.StrictParse {
		opts = append(opts, domain.WithStrictParse())
	}
	return domain.NewRuleValidator(opts...).Validate(domain.Normalize(raw), sp.Whitelist, sp.Budget), nil
}

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/guillermoBallester/querygate/internal/config"
	"github.com/guillermoBallester/querygate/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLintQuery(t *testing.T) {
	t.Setenv("TABLE_WHITELIST", "posts")

	tests := []struct {
		name      string
		sql       string
		wantValid bool
		wantErr   string
	}{
		{"allowed table", "SELECT id, title FROM posts LIMIT 10", true, ""},
		{"table outside whitelist", "SELECT * FROM secrets LIMIT 10", false, "table not allowed: secrets"},
		{"write statement", "DELETE FROM posts", false, ""},
		{"empty", "   ", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := lintQuery(config.Overrides{}, tt.sql)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, outcome.Valid, outcome.Errors)
			if tt.wantErr != "" {
				assert.Contains(t, outcome.Errors, tt.wantErr)
			}
		})
	}
}

func TestLintQuery_PolicyFileExtendsWhitelist(t *testing.T) {
	t.Setenv("TABLE_WHITELIST", "posts")
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tables: [comments]\n"), 0o600))

	outcome, err := lintQuery(config.Overrides{PolicyFile: &path}, "SELECT id FROM comments LIMIT 5")
	require.NoError(t, err)
	assert.True(t, outcome.Valid, outcome.Errors)
}

func TestLintQuery_NoPolicyIsConfigError(t *testing.T) {
	t.Setenv("TABLE_WHITELIST", "")
	t.Setenv("TABLE_PREFIX", "")
	t.Setenv("POLICY_FILE", "")

	_, err := lintQuery(config.Overrides{}, "SELECT 1")
	assert.Error(t, err)
}

func TestValidateCmd(t *testing.T) {
	t.Setenv("TABLE_WHITELIST", "posts")

	t.Run("valid query from argument", func(t *testing.T) {
		cmd := newRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"validate", "SELECT id FROM posts LIMIT 1"})

		require.NoError(t, cmd.Execute())

		var outcome domain.ValidationOutcome
		require.NoError(t, json.Unmarshal(out.Bytes(), &outcome))
		assert.True(t, outcome.Valid)
	})

	t.Run("rejected query from stdin", func(t *testing.T) {
		cmd := newRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetIn(strings.NewReader("SELECT * FROM secrets LIMIT 1\n"))
		cmd.SetArgs([]string{"validate"})

		err := cmd.Execute()
		require.ErrorIs(t, err, errInvalidQuery)

		var outcome domain.ValidationOutcome
		require.NoError(t, json.Unmarshal(out.Bytes(), &outcome))
		assert.False(t, outcome.Valid)
		assert.Contains(t, outcome.Errors, "table not allowed: secrets")
	})
}

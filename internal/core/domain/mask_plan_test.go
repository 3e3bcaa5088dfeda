package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanMasks(t *testing.T) {
	t.Parallel()
	masks := map[string]MaskType{"email": MaskRedact}

	tests := []struct {
		name    string
		sql     string
		headers []string
		masked  []bool
	}{
		{"plain column", "SELECT id, email FROM users", []string{"id", "email"}, []bool{false, true}},
		{"unrelated columns", "SELECT id, title FROM posts", []string{"id", "title"}, []bool{false, false}},
		{"filter only", "SELECT id FROM users WHERE email LIKE '%@corp.com'", []string{"id"}, []bool{false}},
		{"alias", "SELECT email AS contact FROM users", []string{"contact"}, []bool{true}},
		{"qualified alias", "SELECT u.email AS x FROM users u", []string{"x"}, []bool{true}},
		{"function", "SELECT id, lower(email) FROM users", []string{"id", "lower"}, []bool{false, true}},
		{"function alias", "SELECT lower(email) AS e FROM users", []string{"e"}, []bool{true}},
		{"concatenation", "SELECT name || ' <' || email || '>' AS who FROM users", []string{"who"}, []bool{true}},
		{"cast", "SELECT email::text FROM users", []string{"email"}, []bool{true}},
		{"aggregate", "SELECT count(DISTINCT email) FROM users", []string{"count"}, []bool{true}},
		{"derived table", "SELECT x FROM (SELECT email AS x FROM users) t", []string{"x"}, []bool{true}},
		{"cte", "WITH c AS (SELECT id, upper(email) AS e FROM users) SELECT id, e FROM c", []string{"id", "e"}, []bool{false, true}},
		{"scalar subquery", "SELECT id, (SELECT email FROM users LIMIT 1) AS first FROM posts", []string{"id", "first"}, []bool{false, true}},
		{"whole row", "SELECT row_to_json(u) FROM users u", []string{"row_to_json"}, []bool{true}},
		{"row star", "SELECT to_json(u.*) AS j FROM users u", []string{"j"}, []bool{true}},
		{"star", "SELECT * FROM users", []string{"id", "email"}, []bool{false, true}},
		{"star over derived table", "SELECT * FROM (SELECT id, lower(email) AS e FROM users) t", []string{"id", "e"}, []bool{false, true}},
		{"column alias list", "SELECT c FROM users AS u(a, b, c)", []string{"c"}, []bool{true}},
		{"union arm", "SELECT id FROM posts UNION SELECT email FROM users", []string{"id"}, []bool{true}},
		{"union with star arm", "SELECT id, title FROM posts UNION ALL TABLE users", []string{"id", "title"}, []bool{true, true}},
		{"unparseable", "SELECT id FROM users WHERE", []string{"id"}, []bool{true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			row := make([]any, len(tt.headers))
			for i := range row {
				row[i] = fmt.Sprintf("v%d", i)
			}
			result := NewTabularResult(tt.headers, [][]any{row})

			MaskTable(result, PlanMasks(tt.sql, masks))

			for i, want := range tt.masked {
				if want {
					assert.Equal(t, "***", result.Rows[0][i], "column %s", tt.headers[i])
				} else {
					assert.Equal(t, fmt.Sprintf("v%d", i), result.Rows[0][i], "column %s", tt.headers[i])
				}
			}
		})
	}
}

func TestPlanMasks_StrictestWins(t *testing.T) {
	t.Parallel()
	masks := map[string]MaskType{"email": MaskPartial, "ssn": MaskNull, "phone": MaskRedact}

	result := NewTabularResult([]string{"x", "p"}, [][]any{{"a@b.c123-45-6789", "5551234567"}})
	MaskTable(result, PlanMasks("SELECT email || ssn AS x, phone AS p FROM users", masks))
	assert.Nil(t, result.Rows[0][0])
	assert.Equal(t, "***", result.Rows[0][1])

	// An unanalyzable statement gets the strictest configured mask everywhere.
	result = NewTabularResult([]string{"id"}, [][]any{{1}})
	MaskTable(result, PlanMasks("SELECT id FROM", masks))
	assert.Nil(t, result.Rows[0][0])
}

func TestPlanMasks_NoMasksSkipsParsing(t *testing.T) {
	t.Parallel()
	plan := PlanMasks("not sql at all", map[string]MaskType{"email": ""})
	assert.Empty(t, plan.names)
	assert.Empty(t, plan.all)
}

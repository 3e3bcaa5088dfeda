package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "SELECT id FROM posts", "SELECT id FROM posts"},
		{"collapses whitespace", "  SELECT\tid\n\nFROM   posts  ", "SELECT id FROM posts"},
		{"block comment", "SELECT /* cols */ id FROM posts", "SELECT id FROM posts"},
		{"multi-line block comment", "SELECT id /* a\nb\nc */ FROM posts", "SELECT id FROM posts"},
		{"dash comment", "SELECT id -- trailing\nFROM posts", "SELECT id FROM posts"},
		{"hash comment", "SELECT id # mysql style\nFROM posts", "SELECT id FROM posts"},
		{"comment between tokens", "UNION/**/SELECT", "UNION SELECT"},
		{"only comments", "/* x */ -- y", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()
	once := Normalize("SELECT  /* a */ id --b\n FROM posts")
	assert.Equal(t, once, Normalize(once))
}

func TestHasLimitClause(t *testing.T) {
	t.Parallel()
	assert.True(t, HasLimitClause("SELECT id FROM posts LIMIT 10"))
	assert.True(t, HasLimitClause("select id from posts limit 5 offset 2"))
	assert.False(t, HasLimitClause("SELECT id FROM posts"))
	assert.False(t, HasLimitClause("SELECT rate_limit FROM posts"))

	tests := []struct {
		sql  string
		want bool
	}{
		{"SELECT * FROM posts WHERE id IN (SELECT id FROM posts LIMIT 1)", false},
		{"SELECT * FROM (SELECT * FROM posts LIMIT 1) p", false},
		{"SELECT * FROM posts WHERE title = 'x LIMIT 5'", false},
		{`SELECT "LIMIT 5" FROM posts`, false},
		{"SELECT * FROM posts WHERE title = 'it''s' LIMIT 3", true},
		{"SELECT * FROM (SELECT id FROM posts) p LIMIT 3", true},
		{"SELECT id FROM posts UNION SELECT id FROM users LIMIT 4", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HasLimitClause(tt.sql), tt.sql)
	}
}

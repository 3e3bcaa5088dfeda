package domain

import (
	"regexp"
	"time"
)

// QueryRequest is a single submission from a principal. It is never persisted.
type QueryRequest struct {
	PrincipalID string
	RawText     string
	SubmittedAt time.Time
}

// MaterializeRequest asks for a query result to be executed and handed to the
// result store under a title.
type MaterializeRequest struct {
	QueryRequest
	Title       string
	Description string
}

// ValidatedQuery is normalized query text that passed every validation rule.
// The zero value is not a valid query; only RuleValidator.Validate produces
// non-zero values.
type ValidatedQuery struct {
	text string
}

// SQL returns the normalized query text.
func (q ValidatedQuery) SQL() string {
	return q.text
}

// IsZero reports whether q was constructed outside the validator.
func (q ValidatedQuery) IsZero() bool {
	return q.text == ""
}

var limitClauseRe = regexp.MustCompile(`(?i)\bLIMIT\s+\d+`)

// HasLimitClause reports whether the statement itself carries a numeric
// LIMIT. A LIMIT inside parentheses or inside quotes does not count.
func HasLimitClause(sql string) bool {
	return limitClauseRe.MatchString(topLevelText(sql))
}

// topLevelText blanks quoted text and everything inside parentheses, keeping
// byte offsets. Dollar-quoted strings are not recognized.
func topLevelText(sql string) string {
	out := []byte(sql)
	depth := 0
	var quote byte
	for i, c := range out {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			out[i] = ' '
		case c == '\'' || c == '"' || c == '`':
			quote = c
			out[i] = ' '
		case c == '(':
			depth++
			out[i] = ' '
		case c == ')':
			if depth > 0 {
				depth--
			}
			out[i] = ' '
		case depth > 0:
			out[i] = ' '
		}
	}
	return string(out)
}

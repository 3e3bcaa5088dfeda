package domain

import (
	"fmt"
	"regexp"
)

var (
	joinRe           = regexp.MustCompile(`(?i)\bJOIN\b`)
	selectAfterParen = regexp.MustCompile(`(?i)^\s*SELECT\b`)
	selectStarRe     = regexp.MustCompile(`(?i)^\s*SELECT\s+\*`)
)

func checkComplexity(sql string, _ TableWhitelist, budget ComplexityBudget) []string {
	var errs []string
	if joins := len(joinRe.FindAllStringIndex(sql, -1)); joins > budget.MaxJoins {
		errs = append(errs, fmt.Sprintf("too many joins: %d (max %d)", joins, budget.MaxJoins))
	}
	if depth := SubqueryDepth(sql); depth > budget.MaxSubqueryDepth {
		errs = append(errs, fmt.Sprintf("subquery nesting too deep: %d (max %d)", depth, budget.MaxSubqueryDepth))
	}
	if selectStarRe.MatchString(sql) && !HasLimitClause(sql) {
		errs = append(errs, "SELECT * requires a LIMIT clause")
	}
	return errs
}

// SubqueryDepth returns the deepest nesting of parenthesised SELECTs.
// Parentheses that do not open a SELECT (function calls, IN lists) do not
// count, but SELECTs nested inside them do.
func SubqueryDepth(sql string) int {
	var stack []bool
	depth, maxDepth := 0, 0
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '(':
			sub := selectAfterParen.MatchString(sql[i+1:])
			stack = append(stack, sub)
			if sub {
				depth++
				maxDepth = max(maxDepth, depth)
			}
		case ')':
			n := len(stack)
			if n == 0 {
				continue
			}
			if stack[n-1] {
				depth--
			}
			stack = stack[:n-1]
		}
	}
	return maxDepth
}

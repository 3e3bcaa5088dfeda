package domain

import (
	"regexp"
	"strings"
)

// maxParenNesting is the parenthesis depth treated as a complexity smell ahead
// of the real subquery analysis.
const maxParenNesting = 5

type keywordRule struct {
	name string
	re   *regexp.Regexp
}

// deniedKeywords covers mutation, DDL, permission, execution, file I/O,
// introspection and transaction control. Multi-word entries match any run of
// whitespace between words. Matching is word-bounded, so identifiers such as
// insertedAt or updated_by do not trip INSERT or UPDATE.
var deniedKeywords = compileKeywords(
	"INSERT", "UPDATE", "DELETE", "REPLACE", "TRUNCATE", "DROP", "CREATE", "ALTER",
	"RENAME", "GRANT", "REVOKE", "SET", "EXECUTE", "EXEC", "CALL", "DO",
	"LOAD_FILE", "LOAD DATA", "OUTFILE", "DUMPFILE", "INFORMATION_SCHEMA",
	"SHOW GRANTS", "BENCHMARK", "SLEEP", "WAITFOR", "PREPARE", "DEALLOCATE",
	"START TRANSACTION", "COMMIT", "ROLLBACK",
	// PostgreSQL equivalents.
	"COPY", "PG_SLEEP", "PG_READ_FILE", "PG_READ_BINARY_FILE", "PG_LS_DIR",
	"LO_IMPORT", "LO_EXPORT", "LO_GET", "DBLINK", "PG_CATALOG", "PG_STAT_FILE",
	// Functions that read a table or run a query named by a string, out of
	// reach of FROM/JOIN extraction.
	"TABLE_TO_XML", "TABLE_TO_XMLSCHEMA", "TABLE_TO_XML_AND_XMLSCHEMA",
	"QUERY_TO_XML", "QUERY_TO_XMLSCHEMA", "QUERY_TO_XML_AND_XMLSCHEMA",
	"CURSOR_TO_XML", "CURSOR_TO_XMLSCHEMA",
	"SCHEMA_TO_XML", "SCHEMA_TO_XMLSCHEMA", "SCHEMA_TO_XML_AND_XMLSCHEMA",
	"DATABASE_TO_XML", "DATABASE_TO_XMLSCHEMA", "DATABASE_TO_XML_AND_XMLSCHEMA",
	"TS_STAT",
)

func compileKeywords(names ...string) []keywordRule {
	rules := make([]keywordRule, 0, len(names))
	for _, name := range names {
		words := strings.Fields(name)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		rules = append(rules, keywordRule{
			name: name,
			re:   regexp.MustCompile(`(?i)\b` + strings.Join(words, `\s+`) + `\b`),
		})
	}
	return rules
}

type patternRule struct {
	message string
	re      *regexp.Regexp
}

var injectionPatterns = []patternRule{
	{
		message: "stacked statements are not allowed",
		re:      regexp.MustCompile(`(?i);\s*(SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|REPLACE|EXEC|EXECUTE|CALL|SET|GRANT|REVOKE)\b`),
	},
	{
		message: "UNION SELECT is not allowed",
		re:      regexp.MustCompile(`(?i)\bUNION(\s+ALL)?\s+SELECT\b`),
	},
	{
		message: "hexadecimal literals are not allowed",
		re:      regexp.MustCompile(`(?i)\b0x[0-9a-f]+\b|\bX'[0-9a-f]*'`),
	},
	{
		message: "timing functions are not allowed",
		re:      regexp.MustCompile(`(?i)\b(SLEEP|BENCHMARK|PG_SLEEP|PG_SLEEP_FOR|PG_SLEEP_UNTIL)\s*\(|\bWAITFOR\s+(DELAY|TIME)\b`),
	},
	{
		message: "schema introspection is not allowed",
		re:      regexp.MustCompile(`(?i)\b(INFORMATION_SCHEMA|PERFORMANCE_SCHEMA|PG_CATALOG|PG_SHADOW|PG_AUTHID|SQLITE_MASTER|SQLITE_SCHEMA)\b|\bMYSQL\s*\.\s*USER\b`),
	},
}

// parenDepth returns the deepest parenthesis nesting level in sql.
func parenDepth(sql string) int {
	depth, maxDepth := 0, 0
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '(':
			depth++
			maxDepth = max(maxDepth, depth)
		case ')':
			if depth > 0 {
				depth--
			}
		}
	}
	return maxDepth
}

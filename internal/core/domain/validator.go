package domain

import (
	"regexp"
	"strings"
)

// ValidationOutcome is the result of running every rule over a query. Valid is
// true exactly when Errors is empty.
type ValidationOutcome struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`

	query ValidatedQuery
}

// Query returns the validated query when the outcome is valid.
func (o ValidationOutcome) Query() (ValidatedQuery, bool) {
	return o.query, o.Valid
}

// Err returns nil for a valid outcome and a *ValidationError otherwise.
func (o ValidationOutcome) Err() error {
	if o.Valid {
		return nil
	}
	return &ValidationError{Errors: append([]string(nil), o.Errors...)}
}

// ruleCheck inspects normalized text and returns zero or more violations.
type ruleCheck func(sql string, whitelist TableWhitelist, budget ComplexityBudget) []string

// RuleValidator is the regex-based admission engine. It never touches a data
// store and holds no mutable state, so one instance is safe for concurrent use.
type RuleValidator struct {
	checks []ruleCheck
}

// ValidatorOption configures a RuleValidator.
type ValidatorOption func(*RuleValidator)

// WithStrictParse appends a PostgreSQL parser cross-check after the rule set.
func WithStrictParse() ValidatorOption {
	return func(v *RuleValidator) {
		v.checks = append(v.checks, checkStrictParse)
	}
}

func NewRuleValidator(opts ...ValidatorOption) *RuleValidator {
	v := &RuleValidator{
		checks: []ruleCheck{
			checkEmpty,
			checkStatementType,
			checkSingleStatement,
			checkKeywords,
			checkInjectionPatterns,
			checkTables,
			checkComplexity,
			checkCharset,
		},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs every check and collects all violations; it does not stop at
// the first one. The input is expected to be the output of Normalize.
func (v *RuleValidator) Validate(normalized string, whitelist TableWhitelist, budget ComplexityBudget) ValidationOutcome {
	errs := make([]string, 0)
	for _, check := range v.checks {
		errs = append(errs, check(normalized, whitelist, budget)...)
	}
	if len(errs) > 0 {
		return ValidationOutcome{Valid: false, Errors: errs}
	}
	return ValidationOutcome{
		Valid:  true,
		Errors: errs,
		query:  ValidatedQuery{text: normalized},
	}
}

func checkEmpty(sql string, _ TableWhitelist, _ ComplexityBudget) []string {
	if strings.TrimSpace(sql) == "" {
		return []string{ErrEmptyQuery.Error()}
	}
	return nil
}

var selectPrefixRe = regexp.MustCompile(`(?i)^\s*SELECT\b`)

func checkStatementType(sql string, _ TableWhitelist, _ ComplexityBudget) []string {
	if !selectPrefixRe.MatchString(sql) {
		return []string{"only SELECT statements are allowed"}
	}
	return nil
}

// checkSingleStatement allows at most one trailing semicolon.
func checkSingleStatement(sql string, _ TableWhitelist, _ ComplexityBudget) []string {
	body := strings.TrimSpace(sql)
	body = strings.TrimSpace(strings.TrimSuffix(body, ";"))
	if strings.Contains(body, ";") {
		return []string{"multiple statements are not allowed"}
	}
	return nil
}

func checkKeywords(sql string, _ TableWhitelist, _ ComplexityBudget) []string {
	var errs []string
	for _, kw := range deniedKeywords {
		if kw.re.MatchString(sql) {
			errs = append(errs, "forbidden keyword: "+kw.name)
		}
	}
	return errs
}

func checkInjectionPatterns(sql string, _ TableWhitelist, _ ComplexityBudget) []string {
	var errs []string
	for _, p := range injectionPatterns {
		if p.re.MatchString(sql) {
			errs = append(errs, p.message)
		}
	}
	if parenDepth(sql) >= maxParenNesting {
		errs = append(errs, "parenthesis nesting is too deep")
	}
	return errs
}

func checkTables(sql string, whitelist TableWhitelist, _ ComplexityBudget) []string {
	var errs []string
	for _, t := range ExtractTables(sql) {
		if !whitelist.Contains(t) {
			errs = append(errs, "table not allowed: "+t)
		}
	}
	return errs
}

func checkCharset(sql string, _ TableWhitelist, _ ComplexityBudget) []string {
	for _, r := range sql {
		if r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		if r < 0x20 || r > 0x7e {
			return []string{"query contains characters outside printable ASCII"}
		}
	}
	return nil
}

package domain

import "fmt"

// Default complexity ceilings.
const (
	DefaultMaxJoins         = 3
	DefaultMaxSubqueryDepth = 2
	DefaultMaxRows          = 10000
	DefaultMaxColumns       = 100
)

// ComplexityBudget holds the ceilings used to reject expensive queries before
// execution and oversize results after it.
type ComplexityBudget struct {
	MaxJoins         int `json:"max_joins" yaml:"max_joins"`
	MaxSubqueryDepth int `json:"max_subquery_depth" yaml:"max_subquery_depth"`
	MaxRows          int `json:"max_rows" yaml:"max_rows"`
	MaxColumns       int `json:"max_columns" yaml:"max_columns"`
}

// DefaultBudget returns the budget used when nothing is configured.
func DefaultBudget() ComplexityBudget {
	return ComplexityBudget{
		MaxJoins:         DefaultMaxJoins,
		MaxSubqueryDepth: DefaultMaxSubqueryDepth,
		MaxRows:          DefaultMaxRows,
		MaxColumns:       DefaultMaxColumns,
	}
}

// Check returns a ConfigurationError when a ceiling is out of range.
func (b ComplexityBudget) Check() error {
	switch {
	case b.MaxJoins < 0:
		return &ConfigurationError{Field: "max_joins", Reason: fmt.Sprintf("must not be negative, got %d", b.MaxJoins)}
	case b.MaxSubqueryDepth < 0:
		return &ConfigurationError{Field: "max_subquery_depth", Reason: fmt.Sprintf("must not be negative, got %d", b.MaxSubqueryDepth)}
	case b.MaxRows <= 0:
		return &ConfigurationError{Field: "max_rows", Reason: fmt.Sprintf("must be positive, got %d", b.MaxRows)}
	case b.MaxColumns <= 0:
		return &ConfigurationError{Field: "max_columns", Reason: fmt.Sprintf("must be positive, got %d", b.MaxColumns)}
	}
	return nil
}

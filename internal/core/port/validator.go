package port

import "github.com/guillermoBallester/querygate/internal/core/domain"

// QueryValidator decides whether normalized query text may be executed. It must
// be pure: no I/O, no shared mutable state.
type QueryValidator interface {
	Validate(normalized string, whitelist domain.TableWhitelist, budget domain.ComplexityBudget) domain.ValidationOutcome
}

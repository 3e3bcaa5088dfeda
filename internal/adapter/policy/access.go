package policy

import (
	"context"
	"sync/atomic"

	"github.com/guillermoBallester/querygate/internal/core/domain"
)

// PrincipalChecker admits the principals listed in the policy. An empty list
// admits everyone.
type PrincipalChecker struct {
	allowed atomic.Pointer[map[string]struct{}]
}

func NewPrincipalChecker(pol *Policy) *PrincipalChecker {
	c := &PrincipalChecker{}
	c.SetPolicy(pol)
	return c
}

// SetPolicy swaps the allowlist after a reload.
func (c *PrincipalChecker) SetPolicy(pol *Policy) {
	allowed := make(map[string]struct{})
	if pol != nil {
		for _, p := range pol.Principals {
			allowed[p] = struct{}{}
		}
	}
	c.allowed.Store(&allowed)
}

func (c *PrincipalChecker) CheckAccess(_ context.Context, principalID string) error {
	allowed := *c.allowed.Load()
	if len(allowed) == 0 {
		return nil
	}
	if _, ok := allowed[principalID]; !ok {
		return &domain.AuthError{PrincipalID: principalID}
	}
	return nil
}

package port

import "context"

// AccessChecker answers the only authorization question the gateway asks: may
// this principal call it at all. It returns *domain.AuthError on denial.
type AccessChecker interface {
	CheckAccess(ctx context.Context, principalID string) error
}

// AllowAll admits every principal.
type AllowAll struct{}

func (AllowAll) CheckAccess(context.Context, string) error { return nil }

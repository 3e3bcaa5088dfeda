package audit

import (
	"context"
	"errors"

	"github.com/guillermoBallester/querygate/internal/core/port"
)

// Multi fans every entry out to several auditors in order.
type Multi []port.QueryAuditor

func (m Multi) Record(ctx context.Context, entry port.AuditEntry) {
	for _, a := range m {
		a.Record(ctx, entry)
	}
}

// Close closes every auditor and joins their errors.
func (m Multi) Close() error {
	var errs []error
	for _, a := range m {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

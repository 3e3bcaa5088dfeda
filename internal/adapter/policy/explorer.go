package policy

import (
	"context"
	"sync/atomic"

	"github.com/guillermoBallester/querygate/internal/core/port"
)

// PolicyExplorer decorates a SchemaExplorer, merging business descriptions
// from the policy into its responses.
type PolicyExplorer struct {
	inner  port.SchemaExplorer
	policy atomic.Pointer[Policy]
}

func NewPolicyExplorer(inner port.SchemaExplorer, pol *Policy) *PolicyExplorer {
	p := &PolicyExplorer{inner: inner}
	p.SetPolicy(pol)
	return p
}

// SetPolicy swaps the policy after a reload.
func (p *PolicyExplorer) SetPolicy(pol *Policy) {
	if pol == nil {
		pol = &Policy{}
	}
	p.policy.Store(pol)
}

func (p *PolicyExplorer) ListTables(ctx context.Context) ([]port.TableInfo, error) {
	tables, err := p.inner.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	MergeTableInfoList(tables, p.policy.Load().Context)
	return tables, nil
}

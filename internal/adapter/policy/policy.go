package policy

import (
	"fmt"
	"strings"

	"github.com/guillermoBallester/querygate/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// Policy holds operator-controlled gateway configuration loaded from a YAML
// file: which tables may be queried, who may query them, budget overrides,
// and a data dictionary with column masks.
//
//	table_prefix: wp_
//	tables: [posts, users]
//	principals: [analyst-1, reporting-svc]
//	budget:
//	  max_joins: 2
//	context:
//	  tables:
//	    public.users:
//	      description: "Registered users"
//	      columns:
//	        email: { description: "Login email", mask: redact }
type Policy struct {
	TablePrefix string          `yaml:"table_prefix" validate:"omitempty,max=64,printascii"`
	Tables      []string        `yaml:"tables" validate:"dive,required,max=128,printascii"`
	Principals  []string        `yaml:"principals" validate:"dive,required"`
	Budget      *BudgetOverride `yaml:"budget"`
	Context     ContextConfig   `yaml:"context"`
}

// BudgetOverride replaces individual complexity ceilings. Nil fields keep the
// configured value.
type BudgetOverride struct {
	MaxJoins         *int `yaml:"max_joins" validate:"omitnil,min=0"`
	MaxSubqueryDepth *int `yaml:"max_subquery_depth" validate:"omitnil,min=0"`
	MaxRows          *int `yaml:"max_rows" validate:"omitnil,min=1"`
	MaxColumns       *int `yaml:"max_columns" validate:"omitnil,min=1"`
}

// ContextConfig maps fully-qualified table names (schema.table) to
// business descriptions shown by list_tables.
type ContextConfig struct {
	Tables map[string]TableContext `yaml:"tables" validate:"dive,keys,required,endkeys"`
}

// TableContext provides business descriptions and masking rules for a table and its columns.
type TableContext struct {
	Description string                   `yaml:"description"`
	Columns     map[string]ColumnContext `yaml:"columns" validate:"dive,keys,required,endkeys"`
}

// ColumnContext holds a column's business description and optional mask directive.
type ColumnContext struct {
	Description string          `yaml:"description"`
	Mask        domain.MaskType `yaml:"mask,omitempty" validate:"masktype"`
}

// UnmarshalYAML accepts either a plain description string or a mapping.
//
//	columns:
//	  email: "User email"
//	  ssn:
//	    description: "SSN"
//	    mask: "redact"
func (cc *ColumnContext) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		cc.Description = value.Value
		return nil
	}
	type alias ColumnContext
	var a alias
	if err := value.Decode(&a); err != nil {
		return fmt.Errorf("decoding column context: %w", err)
	}
	*cc = ColumnContext(a)
	return nil
}

// Whitelist merges the policy's tables into base. A policy prefix replaces
// the base prefix.
func (p *Policy) Whitelist(base domain.TableWhitelist) domain.TableWhitelist {
	if p.TablePrefix == "" {
		return base.With(p.Tables...)
	}
	return domain.NewTableWhitelist(p.TablePrefix, append(base.Tables(), p.Tables...)...)
}

// ApplyBudget returns b with the policy's overrides applied.
func (p *Policy) ApplyBudget(b domain.ComplexityBudget) domain.ComplexityBudget {
	if p.Budget == nil {
		return b
	}
	if v := p.Budget.MaxJoins; v != nil {
		b.MaxJoins = *v
	}
	if v := p.Budget.MaxSubqueryDepth; v != nil {
		b.MaxSubqueryDepth = *v
	}
	if v := p.Budget.MaxRows; v != nil {
		b.MaxRows = *v
	}
	if v := p.Budget.MaxColumns; v != nil {
		b.MaxColumns = *v
	}
	return b
}

// Masks returns a lowercase column-name -> mask-type map for query masking.
func (p *Policy) Masks() map[string]domain.MaskType {
	masks := make(map[string]domain.MaskType)
	for _, tc := range p.Context.Tables {
		for col, cc := range tc.Columns {
			if cc.Mask != "" {
				masks[strings.ToLower(col)] = cc.Mask
			}
		}
	}
	return masks
}

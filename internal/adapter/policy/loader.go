package policy

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/guillermoBallester/querygate/internal/core/domain"
	"gopkg.in/yaml.v3"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("masktype", func(fl validator.FieldLevel) bool {
		return domain.MaskType(fl.Field().String()).Valid()
	})
	return v
}

// LoadFromFile reads a YAML policy file and returns a validated Policy.
func LoadFromFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a policy document. Structural problems are
// returned as *domain.ConfigurationError.
func Parse(data []byte) (*Policy, error) {
	var pol Policy
	if err := yaml.Unmarshal(data, &pol); err != nil {
		return nil, fmt.Errorf("parsing policy YAML: %w", err)
	}

	if err := check(&pol); err != nil {
		return nil, fmt.Errorf("validating policy: %w", err)
	}
	return &pol, nil
}

func check(pol *Policy) error {
	if err := validate.Struct(pol); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &domain.ConfigurationError{
				Field:  fieldPath(fe.Namespace()),
				Reason: fmt.Sprintf("failed %q check (value %q)", fe.Tag(), fmt.Sprint(fe.Value())),
			}
		}
		return err
	}
	return checkMaskConflicts(pol)
}

// checkMaskConflicts rejects a column name masked differently in two tables.
// Masks apply by column name across the result, so the two would collide.
func checkMaskConflicts(pol *Policy) error {
	keys := make([]string, 0, len(pol.Context.Tables))
	for k := range pol.Context.Tables {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seen := make(map[string]domain.MaskType)
	owner := make(map[string]string)
	for _, table := range keys {
		for col, cc := range pol.Context.Tables[table].Columns {
			if cc.Mask == "" {
				continue
			}
			lc := strings.ToLower(col)
			if prev, ok := seen[lc]; ok && prev != cc.Mask {
				return &domain.ConfigurationError{
					Field:  "context.tables." + table + ".columns." + col + ".mask",
					Reason: fmt.Sprintf("conflicting masks for column %q: %s in %s, %s in %s", col, prev, owner[lc], cc.Mask, table),
				}
			}
			seen[lc] = cc.Mask
			owner[lc] = table
		}
	}
	return nil
}

// fieldPath turns "Policy.context.tables[public.users].columns[email].mask"
// into a dotted path.
func fieldPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Policy.")
	return strings.NewReplacer("[", ".", "]", "").Replace(ns)
}

package domain

import (
	"sort"
	"strings"
)

// TableWhitelist is the closed set of tables a query may reference. Values are
// immutable; With returns an extended copy.
//
// Deployments commonly prefix physical table names (wp_posts), so a reference
// matches when either its bare or its prefixed form is listed.
type TableWhitelist struct {
	prefix string
	tables map[string]struct{}
}

// NewTableWhitelist builds a whitelist. Names are matched case-insensitively.
func NewTableWhitelist(prefix string, tables ...string) TableWhitelist {
	w := TableWhitelist{
		prefix: strings.ToLower(strings.TrimSpace(prefix)),
		tables: make(map[string]struct{}, len(tables)),
	}
	for _, t := range tables {
		if t = normalizeTableName(t); t != "" {
			w.tables[t] = struct{}{}
		}
	}
	return w
}

// With returns a copy of w extended with tables.
func (w TableWhitelist) With(tables ...string) TableWhitelist {
	return NewTableWhitelist(w.prefix, append(w.Tables(), tables...)...)
}

// Prefix returns the conventional table prefix, if any.
func (w TableWhitelist) Prefix() string {
	return w.prefix
}

// Len returns the number of listed tables.
func (w TableWhitelist) Len() int {
	return len(w.tables)
}

// Tables returns the listed names in sorted order.
func (w TableWhitelist) Tables() []string {
	out := make([]string, 0, len(w.tables))
	for t := range w.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether name, its prefixed form, or its unprefixed form is
// listed.
func (w TableWhitelist) Contains(name string) bool {
	name = normalizeTableName(name)
	if name == "" {
		return false
	}
	if _, ok := w.tables[name]; ok {
		return true
	}
	if w.prefix == "" {
		return false
	}
	if _, ok := w.tables[w.prefix+name]; ok {
		return true
	}
	if bare, ok := strings.CutPrefix(name, w.prefix); ok {
		_, listed := w.tables[bare]
		return listed
	}
	return false
}

// normalizeTableName lowercases and strips identifier quoting from each part
// of a possibly schema-qualified name.
func normalizeTableName(name string) string {
	parts := strings.Split(strings.TrimSpace(name), ".")
	for i, p := range parts {
		parts[i] = strings.Trim(p, "`\"[]")
	}
	return strings.ToLower(strings.Join(parts, "."))
}

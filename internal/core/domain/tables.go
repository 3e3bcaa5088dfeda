package domain

import (
	"regexp"
	"strings"
)

const (
	identPart     = "(?:`[^`]+`|\"[^\"]+\"|\\[[^\\]]+\\]|[A-Za-z_][A-Za-z0-9_$]*)"
	qualifiedName = identPart + `(?:\s*\.\s*` + identPart + `)*`
	aliasSuffix   = `(?:\s+(?:AS\s+)?[A-Za-z_][A-Za-z0-9_]*)?`
)

var (
	fromListRe   = regexp.MustCompile(`(?i)\bFROM\s+(` + qualifiedName + aliasSuffix + `(?:\s*,\s*` + qualifiedName + aliasSuffix + `)*)`)
	joinTargetRe = regexp.MustCompile(`(?i)\bJOIN\s+(` + qualifiedName + `)`)
	// TABLE x is shorthand for SELECT * FROM x; inside a SELECT it can only
	// follow an open paren or a set operator.
	tableCmdRe   = regexp.MustCompile(`(?i)(?:\(|\b(?:UNION|INTERSECT|EXCEPT)(?:\s+(?:ALL|DISTINCT))?)\s*TABLE\s+(?:ONLY\s+)?(` + qualifiedName + `)`)
	quoteGapRe   = regexp.MustCompile("(?i)(^|[^\"`\\w])(FROM|JOIN|TABLE)([\"`\\[])")
	leadingName  = regexp.MustCompile(`^\s*(` + qualifiedName + `)`)
	dotSpaceRe   = regexp.MustCompile(`\s*\.\s*`)
)

// ExtractTables returns the identifiers that follow FROM (including
// comma-separated lists), JOIN and the TABLE shorthand, deduplicated in
// first-seen order. A quoted identifier may follow the keyword with no space
// between them (FROM"t").
//
// This is lexical: FROM inside EXTRACT(... FROM col) or inside a string
// literal is reported as a table reference too.
func ExtractTables(sql string) []string {
	sql = quoteGapRe.ReplaceAllString(sql, "$1$2 $3")

	seen := make(map[string]struct{})
	var tables []string
	add := func(name string) {
		name = dotSpaceRe.ReplaceAllString(strings.TrimSpace(name), ".")
		if name == "" {
			return
		}
		key := normalizeTableName(name)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		tables = append(tables, name)
	}

	type hit struct {
		pos  int
		name string
	}
	var hits []hit
	for _, m := range fromListRe.FindAllStringSubmatchIndex(sql, -1) {
		list := sql[m[2]:m[3]]
		for _, item := range strings.Split(list, ",") {
			if nm := leadingName.FindStringSubmatch(item); nm != nil {
				hits = append(hits, hit{pos: m[2], name: nm[1]})
			}
		}
	}
	for _, re := range []*regexp.Regexp{joinTargetRe, tableCmdRe} {
		for _, m := range re.FindAllStringSubmatchIndex(sql, -1) {
			hits = append(hits, hit{pos: m[2], name: sql[m[2]:m[3]]})
		}
	}

	// Stable by position so FROM-list items keep their list order.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	for _, h := range hits {
		add(h.name)
	}
	return tables
}

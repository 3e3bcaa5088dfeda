package domain

import (
	"encoding/json"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// maskRank orders masks from weakest to strictest.
var maskRank = map[MaskType]int{MaskPartial: 1, MaskHash: 2, MaskRedact: 3, MaskNull: 4}

func stricter(a, b MaskType) MaskType {
	if maskRank[b] > maskRank[a] {
		return b
	}
	return a
}

// MaskPlan records which result columns of one statement carry masked data.
// A column is masked when its header names a masked column, or when the
// select-list expression that produced it reads one, directly or through a
// subquery, a CTE, or a whole-row reference.
type MaskPlan struct {
	names    map[string]MaskType // lowercased column and derived output names
	position []MaskType          // per output column; nil when unknown
	all      MaskType            // applied to every column
}

// PlanMasks analyzes sql against masks keyed by column name. When the
// statement cannot be analyzed every column gets the strictest configured
// mask.
func PlanMasks(sql string, masks map[string]MaskType) MaskPlan {
	plan := MaskPlan{names: make(map[string]MaskType, len(masks))}
	var widest MaskType
	for col, m := range masks {
		if m == "" {
			continue
		}
		plan.names[strings.ToLower(col)] = m
		widest = stricter(widest, m)
	}
	if len(plan.names) == 0 {
		return plan
	}

	tree, ok := parseJSONTree(sql)
	top := topSelect(tree)
	if !ok || top == nil {
		plan.all = widest
		return plan
	}

	a := &maskAnalysis{taint: plan.names, ranges: make(map[string]struct{}), widest: widest}
	a.scope(tree)
	a.propagate(tree)

	arms := selectArms(top)
	pos, known := a.positions(arms)
	switch {
	case known:
		plan.position = pos
	case len(arms) > 1:
		// A star in a set operation moves columns under another arm's headers.
		plan.all = widest
	}
	return plan
}

// MaskTable applies plan to result in place.
func MaskTable(result *TabularResult, plan MaskPlan) {
	if result == nil || len(plan.names) == 0 {
		return
	}

	byCol := make(map[int]MaskType)
	for i, h := range result.Headers {
		m := stricter(plan.all, plan.names[strings.ToLower(h)])
		if len(plan.position) == len(result.Headers) {
			m = stricter(m, plan.position[i])
		}
		if m != "" {
			byCol[i] = m
		}
	}
	if len(byCol) == 0 {
		return
	}

	for _, row := range result.Rows {
		for i, m := range byCol {
			if i < len(row) {
				row[i] = ApplyMask(row[i], m)
			}
		}
	}
}

type maskAnalysis struct {
	taint  map[string]MaskType
	ranges map[string]struct{} // table names and aliases, for whole-row refs
	widest MaskType
}

// scope records range names and taints every positional column alias, since
// t(a, b) can rename a masked column to anything.
func (a *maskAnalysis) scope(tree any) {
	walkJSON(tree, func(kind string, n map[string]any) {
		switch kind {
		case "RangeVar":
			if rel, _ := n["relname"].(string); rel != "" {
				a.ranges[strings.ToLower(rel)] = struct{}{}
			}
		case "alias":
			if name, _ := n["aliasname"].(string); name != "" {
				a.ranges[strings.ToLower(name)] = struct{}{}
			}
			a.taintAll(n["colnames"])
		case "CommonTableExpr":
			if name, _ := n["ctename"].(string); name != "" {
				a.ranges[strings.ToLower(name)] = struct{}{}
			}
			a.taintAll(n["aliascolnames"])
		}
	})
}

func (a *maskAnalysis) taintAll(names any) {
	list, _ := names.([]any)
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			if name := stringNode(m); name != "" {
				a.taint[name] = a.widest
			}
		}
	}
}

// propagate taints every select-list output that reads a tainted name, until
// nothing changes. Names are not scoped, so a collision over-masks.
func (a *maskAnalysis) propagate(tree any) {
	var targets []map[string]any
	walkJSON(tree, func(kind string, n map[string]any) {
		if kind == "ResTarget" {
			targets = append(targets, n)
		}
	})

	for changed := true; changed; {
		changed = false
		for _, rt := range targets {
			name := outputName(rt)
			if name == "" {
				continue
			}
			m := a.reads(rt["val"])
			if m != "" && stricter(a.taint[name], m) != a.taint[name] {
				a.taint[name] = m
				changed = true
			}
		}
	}
}

// reads returns the strictest mask among the columns expr references.
func (a *maskAnalysis) reads(expr any) MaskType {
	var found MaskType
	walkJSON(expr, func(kind string, n map[string]any) {
		if kind == "ColumnRef" {
			found = stricter(found, a.columnRefMask(n))
		}
	})
	return found
}

func (a *maskAnalysis) columnRefMask(cr map[string]any) MaskType {
	fields, _ := cr["fields"].([]any)
	if len(fields) == 0 {
		return ""
	}
	last, _ := fields[len(fields)-1].(map[string]any)
	if _, star := last["A_Star"]; star {
		return a.widest
	}
	name := stringNode(last)
	if m, ok := a.taint[name]; ok {
		return m
	}
	if len(fields) == 1 {
		if _, ok := a.ranges[name]; ok {
			return a.widest
		}
	}
	return ""
}

// positions maps each output column to a mask. It reports false when the
// select list contains a star, since the column count is then unknown.
func (a *maskAnalysis) positions(arms [][]any) ([]MaskType, bool) {
	var out []MaskType
	for _, targets := range arms {
		if len(targets) == 0 || (out != nil && len(out) != len(targets)) {
			return nil, false
		}
		if out == nil {
			out = make([]MaskType, len(targets))
		}
		for i, t := range targets {
			node, _ := t.(map[string]any)
			rt, _ := node["ResTarget"].(map[string]any)
			if rt == nil || isStar(rt["val"]) {
				return nil, false
			}
			out[i] = stricter(out[i], a.reads(rt["val"]))
		}
	}
	return out, out != nil
}

func parseJSONTree(sql string) (map[string]any, bool) {
	if strings.TrimSpace(sql) == "" {
		return nil, false
	}
	out, err := pg_query.ParseToJSON(sql)
	if err != nil {
		return nil, false
	}
	var tree map[string]any
	if err := json.Unmarshal([]byte(out), &tree); err != nil {
		return nil, false
	}
	return tree, true
}

func topSelect(tree map[string]any) map[string]any {
	stmts, _ := tree["stmts"].([]any)
	if len(stmts) != 1 {
		return nil
	}
	raw, _ := stmts[0].(map[string]any)
	stmt, _ := raw["stmt"].(map[string]any)
	sel, _ := stmt["SelectStmt"].(map[string]any)
	return sel
}

// selectArms returns the target list of each arm of a set operation, or the
// single target list of a plain SELECT.
func selectArms(sel map[string]any) [][]any {
	if op, _ := sel["op"].(string); op != "" && op != "SETOP_NONE" {
		l, r := unwrapSelect(sel["larg"]), unwrapSelect(sel["rarg"])
		if l == nil || r == nil {
			return [][]any{nil, nil}
		}
		return append(selectArms(l), selectArms(r)...)
	}
	targets, _ := sel["targetList"].([]any)
	return [][]any{targets}
}

func unwrapSelect(v any) map[string]any {
	m, _ := v.(map[string]any)
	if inner, ok := m["SelectStmt"].(map[string]any); ok {
		return inner
	}
	return m
}

// outputName is the column name PostgreSQL gives a select-list entry.
func outputName(rt map[string]any) string {
	if name, _ := rt["name"].(string); name != "" {
		return strings.ToLower(name)
	}
	return derivedName(rt["val"])
}

func derivedName(val any) string {
	n, _ := val.(map[string]any)
	if cr, ok := n["ColumnRef"].(map[string]any); ok {
		return lastString(cr["fields"])
	}
	if fc, ok := n["FuncCall"].(map[string]any); ok {
		return lastString(fc["funcname"])
	}
	if tc, ok := n["TypeCast"].(map[string]any); ok {
		return derivedName(tc["arg"])
	}
	return "?column?"
}

func isStar(val any) bool {
	n, _ := val.(map[string]any)
	cr, ok := n["ColumnRef"].(map[string]any)
	if !ok {
		return false
	}
	fields, _ := cr["fields"].([]any)
	if len(fields) == 0 {
		return false
	}
	last, _ := fields[len(fields)-1].(map[string]any)
	_, star := last["A_Star"]
	return star
}

func lastString(list any) string {
	items, _ := list.([]any)
	if len(items) == 0 {
		return ""
	}
	last, _ := items[len(items)-1].(map[string]any)
	return stringNode(last)
}

func stringNode(n map[string]any) string {
	s, _ := n["String"].(map[string]any)
	v, _ := s["sval"].(string)
	return strings.ToLower(v)
}

// walkJSON calls visit for every object in a decoded pg_query JSON tree,
// keyed by the field or node name it sits under.
func walkJSON(node any, visit func(kind string, n map[string]any)) {
	switch n := node.(type) {
	case map[string]any:
		for k, v := range n {
			if m, ok := v.(map[string]any); ok {
				visit(k, m)
			}
			walkJSON(v, visit)
		}
	case []any:
		for _, v := range n {
			walkJSON(v, visit)
		}
	}
}

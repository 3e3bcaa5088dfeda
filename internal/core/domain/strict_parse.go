package domain

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// checkStrictParse runs the PostgreSQL parser over the query and rejects
// anything it does not see as exactly one SELECT. Regex rules stay the
// primary gate; this only adds errors. Relations the parser finds that the
// lexical extraction missed are checked against the whitelist here.
func checkStrictParse(sql string, whitelist TableWhitelist, _ ComplexityBudget) []string {
	if strings.TrimSpace(sql) == "" {
		return nil
	}

	tree, err := pg_query.Parse(sql)
	if err != nil {
		return []string{"query could not be parsed: " + err.Error()}
	}
	if len(tree.Stmts) != 1 {
		return []string{"parser found more than one statement"}
	}

	stmt := tree.Stmts[0].Stmt
	if stmt == nil {
		return []string{"parser found no statement"}
	}
	sel, ok := stmt.Node.(*pg_query.Node_SelectStmt)
	if !ok {
		return []string{"parser found a non-SELECT statement"}
	}
	if sel.SelectStmt.IntoClause != nil {
		return []string{"SELECT INTO is not allowed"}
	}
	if len(sel.SelectStmt.LockingClause) > 0 {
		return []string{"row locking clauses are not allowed"}
	}
	return checkParsedTables(sql, whitelist)
}

func checkParsedTables(sql string, whitelist TableWhitelist) []string {
	tree, ok := parseJSONTree(sql)
	if !ok {
		return []string{"query could not be parsed"}
	}

	seen := make(map[string]struct{})
	for _, t := range ExtractTables(sql) {
		seen[normalizeTableName(t)] = struct{}{}
	}
	var errs []string
	for _, name := range rangeVarNames(tree) {
		key := normalizeTableName(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if !whitelist.Contains(name) {
			errs = append(errs, "table not allowed: "+name)
		}
	}
	return errs
}

// rangeVarNames collects every RangeVar in a pg_query JSON tree as
// schema.relname or relname.
func rangeVarNames(tree any) []string {
	var names []string
	walkJSON(tree, func(kind string, rv map[string]any) {
		if kind != "RangeVar" {
			return
		}
		rel, _ := rv["relname"].(string)
		if rel == "" {
			return
		}
		if schema, _ := rv["schemaname"].(string); schema != "" {
			rel = schema + "." + rel
		}
		names = append(names, rel)
	})
	return names
}

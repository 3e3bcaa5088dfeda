package policy

import "github.com/guillermoBallester/querygate/internal/core/port"

// MergeTableInfoList enriches a list of TableInfo with business context.
// YAML descriptions only fill empty comments, so COMMENT ON values set by the
// database owner take precedence.
func MergeTableInfoList(tables []port.TableInfo, ctx ContextConfig) {
	for i, t := range tables {
		key := t.Schema + "." + t.Name
		if tc, ok := ctx.Tables[key]; ok && t.Comment == "" && tc.Description != "" {
			tables[i].Comment = tc.Description
		}
	}
}

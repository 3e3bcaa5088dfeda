package port

import "context"

type TableInfo struct {
	Schema      string `json:"schema"`
	Name        string `json:"name"`
	RowEstimate int64  `json:"row_estimate"`
	ColumnCount int    `json:"column_count"`
	Comment     string `json:"comment,omitempty"`
}

// SchemaExplorer lists the tables a data store exposes.
type SchemaExplorer interface {
	ListTables(ctx context.Context) ([]TableInfo, error)
}

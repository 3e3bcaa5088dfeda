package domain

// RawRows is what a data store hands back before shaping: field names in
// select-list order and row values in store order.
type RawRows struct {
	Columns []string
	Rows    [][]any
}

// TabularResult is the generic shape returned to callers. SQL NULL is a nil
// cell, never a missing one.
type TabularResult struct {
	Headers     []string `json:"headers"`
	Rows        [][]any  `json:"rows"`
	RowCount    int      `json:"row_count"`
	ColumnCount int      `json:"column_count"`
}

// NewTabularResult shapes rows into exactly len(headers) cells each,
// preserving row order.
func NewTabularResult(headers []string, rows [][]any) *TabularResult {
	width := len(headers)
	out := make([][]any, len(rows))
	for i, row := range rows {
		shaped := make([]any, width)
		copy(shaped, row)
		out[i] = shaped
	}
	return &TabularResult{
		Headers:     append([]string(nil), headers...),
		Rows:        out,
		RowCount:    len(out),
		ColumnCount: width,
	}
}

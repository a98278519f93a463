package model

import "strings"

// Row maps a column name to its raw cell value.
type Row map[string]string

// Dataset is a tabular input: column names in source order plus rows.
// A Dataset is treated as immutable once loaded.
type Dataset struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Len returns the number of rows.
func (d Dataset) Len() int {
	return len(d.Rows)
}

// Truncate returns a copy holding at most n leading rows. The second return
// value reports whether rows were cut.
func (d Dataset) Truncate(n int) (Dataset, bool) {
	if n < 0 || len(d.Rows) <= n {
		return d, false
	}
	return Dataset{
		Name:    d.Name,
		Columns: d.Columns,
		Rows:    d.Rows[:n:n],
	}, true
}

// IsBlank reports whether every cell of the row is empty after trimming.
func (r Row) IsBlank() bool {
	for _, v := range r {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Get returns the trimmed value for column, or "" when absent.
func (r Row) Get(column string) string {
	if column == "" {
		return ""
	}
	return strings.TrimSpace(r[column])
}

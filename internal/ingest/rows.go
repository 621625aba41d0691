package ingest

import (
	"context"
	"sort"

	apperrors "ratecal/internal/errors"
)

// RowsSource serves records already decoded from JSON, one object per row.
// The header is the sorted union of keys.
type RowsSource struct {
	Name string
	Rows []map[string]interface{}
}

// Describe implements Source.
func (s *RowsSource) Describe() string {
	if s.Name != "" {
		return "rows:" + s.Name
	}
	return "rows:inline"
}

// Read implements Source.
func (s *RowsSource) Read(ctx context.Context) (*Table, error) {
	if len(s.Rows) == 0 {
		return nil, apperrors.NewDataValidationError("no rows supplied")
	}

	seen := make(map[string]bool)
	var header []string
	for _, row := range s.Rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				header = append(header, k)
			}
		}
	}
	sort.Strings(header)

	rows := make([][]string, 0, len(s.Rows)+1)
	rows = append(rows, header)
	for i, row := range s.Rows {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		cells := make([]string, len(header))
		for j, k := range header {
			cells[j] = formatCell(row[k])
		}
		rows = append(rows, cells)
	}
	return newTable(rows)
}

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"ratecal/internal/calibration"
	apperrors "ratecal/internal/errors"
)

// Source yields a raw table.
type Source interface {
	Read(ctx context.Context) (*Table, error)
	// Describe names the source for logs and reports.
	Describe() string
}

// Table is a header row plus data rows of raw cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// newTable takes the first non-blank row as the header and drops trailing
// blank rows.
func newTable(rows [][]string) (*Table, error) {
	start := -1
	for i, row := range rows {
		if !blank(row) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, apperrors.NewParsingError("input has no header row", nil)
	}

	header := make([]string, len(rows[start]))
	for i, h := range rows[start] {
		header[i] = strings.TrimSpace(h)
	}

	data := rows[start+1:]
	for len(data) > 0 && blank(data[len(data)-1]) {
		data = data[:len(data)-1]
	}
	return &Table{Header: header, Rows: data}, nil
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// columnIndex finds a header case-insensitively.
func (t *Table) columnIndex(name string) (int, bool) {
	for i, h := range t.Header {
		if strings.EqualFold(h, name) {
			return i, true
		}
	}
	return -1, false
}

// ToRecords maps the table onto the dataset layout. Columns it does not name are
// ignored.
func ToRecords(t *Table, spec calibration.DatasetSpec) ([]calibration.Record, error) {
	type column struct {
		name  string
		index int
	}
	lookup := func(name string) (column, error) {
		idx, ok := t.columnIndex(name)
		if !ok {
			return column{}, apperrors.NewDataValidationError(fmt.Sprintf("column %q not found in header", name)).
				WithContext("header", t.Header)
		}
		return column{name: name, index: idx}, nil
	}

	categories := make([]column, 0, len(spec.RatingVariables))
	for _, v := range spec.RatingVariables {
		c, err := lookup(v)
		if err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}

	numericFields := []string{spec.ActualField, spec.ExpectedField}
	if spec.WeightField != "" {
		numericFields = append(numericFields, spec.WeightField)
	}
	numbers := make([]column, 0, len(numericFields))
	for _, f := range numericFields {
		c, err := lookup(f)
		if err != nil {
			return nil, err
		}
		numbers = append(numbers, c)
	}

	records := make([]calibration.Record, 0, len(t.Rows))
	for r, row := range t.Rows {
		if blank(row) {
			continue
		}
		rec := calibration.Record{
			Categories: make(map[string]string, len(categories)),
			Numbers:    make(map[string]float64, len(numbers)),
		}
		for _, c := range categories {
			rec.Categories[c.name] = strings.TrimSpace(cell(row, c.index))
		}
		for _, c := range numbers {
			raw := strings.TrimSpace(cell(row, c.index))
			if raw == "" {
				continue
			}
			v, err := parseNumber(raw)
			if err != nil {
				// +2: one for the header, one for 1-based numbering
				return nil, apperrors.NewParsingError(fmt.Sprintf("row %d column %q", r+2, c.name), err).
					WithContext("value", raw)
			}
			rec.Numbers[c.name] = v
		}
		records = append(records, rec)
	}
	return records, nil
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

// parseNumber accepts thousands separators as spreadsheets export them.
func parseNumber(raw string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
}

// Load reads src and maps it onto spec.
func Load(ctx context.Context, src Source, spec calibration.DatasetSpec, logger *slog.Logger) ([]calibration.Record, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "ingest"), slog.String("source", src.Describe()))

	table, err := src.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src.Describe(), err)
	}
	records, err := ToRecords(table, spec)
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", src.Describe(), err)
	}

	logger.InfoContext(ctx, "Input loaded",
		slog.Int("columns", len(table.Header)),
		slog.Int("records", len(records)))
	return records, nil
}

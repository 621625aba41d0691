package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	apperrors "ratecal/internal/errors"
)

// CSVSource reads a delimited file. Reader takes precedence over Path.
type CSVSource struct {
	Path   string
	Reader io.Reader
	// Comma defaults to ','.
	Comma rune
}

// Describe implements Source.
func (s *CSVSource) Describe() string {
	if s.Reader != nil && s.Path == "" {
		return "csv:stream"
	}
	return "csv:" + s.Path
}

// Read implements Source.
func (s *CSVSource) Read(ctx context.Context) (*Table, error) {
	r := s.Reader
	if r == nil {
		f, err := os.Open(s.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %w", err)
		}
		defer f.Close()
		r = f
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	if s.Comma != 0 {
		reader.Comma = s.Comma
	}

	var rows [][]string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.NewParsingError("read csv", err)
		}
		rows = append(rows, row)
	}
	return newTable(rows)
}

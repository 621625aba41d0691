package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	apperrors "ratecal/internal/errors"
)

// XLSXSource reads one worksheet of a workbook. An empty Sheet picks the
// first sheet whose header contains every Want column, falling back to the
// first sheet.
type XLSXSource struct {
	Path   string
	Reader io.Reader
	Sheet  string
	Want   []string
}

// Describe implements Source.
func (s *XLSXSource) Describe() string {
	name := s.Path
	if name == "" {
		name = "stream"
	}
	if s.Sheet != "" {
		return fmt.Sprintf("xlsx:%s#%s", name, s.Sheet)
	}
	return "xlsx:" + name
}

// Read implements Source.
func (s *XLSXSource) Read(ctx context.Context) (*Table, error) {
	var (
		f   *excelize.File
		err error
	)
	if s.Reader != nil {
		f, err = excelize.OpenReader(s.Reader)
	} else {
		f, err = excelize.OpenFile(s.Path)
	}
	if err != nil {
		return nil, apperrors.NewParsingError("failed to open workbook", err)
	}
	defer f.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sheet, err := s.pickSheet(f)
	if err != nil {
		return nil, err
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, apperrors.NewParsingError(fmt.Sprintf("read sheet %q", sheet), err)
	}
	return newTable(rows)
}

func (s *XLSXSource) pickSheet(f *excelize.File) (string, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", apperrors.NewParsingError("workbook has no sheets", nil)
	}
	if s.Sheet != "" {
		for _, name := range sheets {
			if name == s.Sheet {
				return name, nil
			}
		}
		return "", apperrors.NewNotFoundError(fmt.Sprintf("sheet %q", s.Sheet))
	}
	if len(s.Want) == 0 {
		return sheets[0], nil
	}

	for _, name := range sheets {
		rows, err := f.GetRows(name)
		if err != nil || len(rows) == 0 {
			continue
		}
		t, err := newTable(rows)
		if err != nil {
			continue
		}
		if hasAll(t, s.Want) {
			return name, nil
		}
	}
	return sheets[0], nil
}

func hasAll(t *Table, want []string) bool {
	for _, w := range want {
		if _, ok := t.columnIndex(strings.TrimSpace(w)); !ok {
			return false
		}
	}
	return true
}

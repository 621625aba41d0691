package ingest

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	apperrors "ratecal/internal/errors"
)

// SheetsScheme prefixes Google Sheets locations: gsheet://<id>/<range>.
const SheetsScheme = "gsheet://"

// Open picks a Source for location by scheme or file extension. sheet names
// the worksheet for xlsx inputs and is ignored otherwise.
func Open(ctx context.Context, location, sheet string, want []string, sheetsOpts SheetsOptions) (Source, error) {
	if strings.HasPrefix(location, SheetsScheme) {
		id, rng, ok := strings.Cut(strings.TrimPrefix(location, SheetsScheme), "/")
		if !ok || id == "" || rng == "" {
			return nil, apperrors.NewConfigurationError(
				fmt.Sprintf("sheets location %q must look like %s<id>/<range>", location, SheetsScheme))
		}
		svc, err := NewSheetsService(ctx, sheetsOpts)
		if err != nil {
			return nil, err
		}
		return &SheetsSource{Service: svc, SpreadsheetID: id, Range: rng}, nil
	}

	switch strings.ToLower(filepath.Ext(location)) {
	case ".xlsx", ".xlsm":
		return &XLSXSource{Path: location, Sheet: sheet, Want: want}, nil
	case ".csv", ".txt":
		return &CSVSource{Path: location}, nil
	case ".tsv":
		return &CSVSource{Path: location, Comma: '\t'}, nil
	default:
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("unsupported input %q", location))
	}
}

// OpenReader picks a Source for an uploaded stream by the extension of name.
func OpenReader(name string, r io.Reader, sheet string, want []string) (Source, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return &XLSXSource{Path: name, Reader: r, Sheet: sheet, Want: want}, nil
	case ".csv", ".txt":
		return &CSVSource{Path: name, Reader: r}, nil
	case ".tsv":
		return &CSVSource{Path: name, Reader: r, Comma: '\t'}, nil
	default:
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("unsupported upload %q", name))
	}
}

// Columns lists every column spec-driven mapping needs, for sheet detection.
func Columns(ratingVariables []string, actual, expected, weight string) []string {
	cols := append([]string(nil), ratingVariables...)
	cols = append(cols, actual, expected)
	if weight != "" {
		cols = append(cols, weight)
	}
	return cols
}

package ingest

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	apperrors "ratecal/internal/errors"
)

// SheetsSource reads a range from a Google spreadsheet.
type SheetsSource struct {
	Service       *sheets.Service
	SpreadsheetID string
	// Range is A1 notation, e.g. "Experience!A:F". A bare sheet name reads
	// the whole sheet.
	Range string
}

// SheetsOptions selects how the Sheets client authenticates.
type SheetsOptions struct {
	CredentialsFile string
	APIKey          string
	// Endpoint overrides the API base URL.
	Endpoint string
}

// NewSheetsService builds a Sheets client from a service account file or an
// API key. Extra client options are appended last.
func NewSheetsService(ctx context.Context, opts SheetsOptions, extra ...option.ClientOption) (*sheets.Service, error) {
	var clientOpts []option.ClientOption
	switch {
	case opts.CredentialsFile != "":
		clientOpts = append(clientOpts,
			option.WithCredentialsFile(opts.CredentialsFile),
			option.WithScopes(sheets.SpreadsheetsReadonlyScope))
	case opts.APIKey != "":
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	clientOpts = append(clientOpts, extra...)

	svc, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return svc, nil
}

// Describe implements Source.
func (s *SheetsSource) Describe() string {
	return fmt.Sprintf("gsheet:%s/%s", s.SpreadsheetID, s.Range)
}

// Read implements Source.
func (s *SheetsSource) Read(ctx context.Context) (*Table, error) {
	if s.Service == nil {
		return nil, apperrors.NewConfigurationError("sheets service is not configured")
	}
	if s.SpreadsheetID == "" || s.Range == "" {
		return nil, apperrors.NewConfigurationError("spreadsheet id and range are required")
	}

	resp, err := s.Service.Spreadsheets.Values.Get(s.SpreadsheetID, s.Range).
		ValueRenderOption("UNFORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read from sheets: %w", err)
	}

	rows := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = formatCell(v)
		}
		rows[i] = cells
	}
	return newTable(rows)
}

// formatCell renders an unformatted value. Numbers arrive as float64 from
// the JSON decoder.
func formatCell(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return fmt.Sprintf("%v", val)
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprint(val)
	}
}

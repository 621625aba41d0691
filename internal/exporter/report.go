package exporter

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/xuri/excelize/v2"

	"ratecal/internal/calibration"
	"ratecal/internal/config"
)

// Report file names inside a run directory.
const (
	FactorsFile  = "factors.csv"
	StagesFile   = "stages.csv"
	ResultFile   = "result.json"
	WorkbookFile = "calibration.xlsx"
	SummaryFile  = "summary.txt"
)

// Report is everything known about a finished run.
type Report struct {
	RunID  string                  `json:"run_id,omitempty"`
	Source string                  `json:"source,omitempty"`
	Rows   int                     `json:"rows"`
	Spec   calibration.DatasetSpec `json:"dataset"`
	Result *calibration.Result     `json:"result"`
	Bounds *calibration.BoundSet   `json:"-"`
}

// FactorRow is one line of the factor table, bounds included when known.
type FactorRow struct {
	Variable    string
	Level       string
	Factor      float64
	Lower       float64
	Upper       float64
	Credibility float64
	Target      float64
	HasBounds   bool
	HasCred     bool
}

// ReportExporter writes run reports in every supported format.
type ReportExporter struct {
	csvWriter *CSVWriter
	places    int32
	logger    *slog.Logger
}

// NewReportExporter creates a report exporter. places is the decimal
// precision of factors and ratios.
func NewReportExporter(paths *config.Paths, places int32, logger *slog.Logger) *ReportExporter {
	if logger == nil {
		logger = slog.Default()
	}
	if places < 0 {
		places = DefaultPrecision
	}
	return &ReportExporter{
		csvWriter: NewCSVWriter(paths, logger),
		places:    places,
		logger:    logger.With(slog.String("component", "exporter")),
	}
}

// FactorRows flattens the fitted factors in layout order.
func FactorRows(r *Report) []FactorRow {
	var rows []FactorRow
	for _, vf := range r.Result.Factors {
		for j, lf := range vf.Levels {
			row := FactorRow{Variable: vf.Variable, Level: lf.Level, Factor: lf.Factor}
			if r.Bounds != nil {
				if seg, ok := r.Bounds.Layout.Segment(vf.Variable); ok && j < len(seg.Levels) && seg.Levels[j] == lf.Level {
					slot := seg.Offset + j
					iv := r.Bounds.Intervals[slot]
					row.Lower, row.Upper, row.HasBounds = iv.Lower, iv.Upper, true
					if len(r.Bounds.Credibility) > slot {
						row.Credibility, row.Target, row.HasCred = r.Bounds.Credibility[slot], r.Bounds.Target[slot], true
					}
				}
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// ExportAll writes every report format into dir and returns the files
// written.
func (e *ReportExporter) ExportAll(r *Report, dir string) ([]string, error) {
	if r == nil || r.Result == nil {
		return nil, fmt.Errorf("report has no result")
	}

	steps := []struct {
		name  string
		write func(*Report, string) error
	}{
		{FactorsFile, e.ExportFactors},
		{StagesFile, e.ExportStages},
		{ResultFile, e.ExportJSON},
		{WorkbookFile, e.ExportXLSX},
		{SummaryFile, e.ExportSummary},
	}

	files := make([]string, 0, len(steps))
	for _, step := range steps {
		path := filepath.Join(dir, step.name)
		if err := step.write(r, path); err != nil {
			return files, fmt.Errorf("write %s: %w", step.name, err)
		}
		files = append(files, e.csvWriter.resolvePath(path))
	}

	e.logger.Info("Reports written",
		slog.String("run_id", r.RunID),
		slog.String("dir", dir),
		slog.Int("files", len(files)))
	return files, nil
}

func factorHeaders() []string {
	return []string{"variable", "level", "factor", "lower", "upper", "credibility", "target"}
}

func (e *ReportExporter) factorRecord(row FactorRow) []string {
	rec := []string{row.Variable, row.Level, formatDecimal(row.Factor, e.places), "", "", "", ""}
	if row.HasBounds {
		rec[3] = formatDecimal(row.Lower, e.places)
		rec[4] = formatDecimal(row.Upper, e.places)
	}
	if row.HasCred {
		rec[5] = formatDecimal(row.Credibility, e.places)
		rec[6] = formatDecimal(row.Target, e.places)
	}
	return rec
}

// ExportFactors writes the factor table as CSV.
func (e *ReportExporter) ExportFactors(r *Report, path string) error {
	stream, err := e.csvWriter.CreateStreamWriter(path, factorHeaders())
	if err != nil {
		return err
	}
	for _, row := range FactorRows(r) {
		if err := stream.WriteRecord(e.factorRecord(row)); err != nil {
			stream.Close()
			return fmt.Errorf("failed to write factor %s/%s: %w", row.Variable, row.Level, err)
		}
	}
	return stream.Close()
}

func stageHeaders() []string {
	return []string{"stage", "variables", "deviation_before", "deviation_after", "ratio_after",
		"converged", "iterations", "evaluations", "objective_evaluations", "duration_seconds", "message"}
}

func (e *ReportExporter) stageRecords(r *Report) [][]string {
	records := make([][]string, 0, len(r.Result.Stages))
	for _, st := range r.Result.Stages {
		records = append(records, []string{
			formatInt(int64(st.Index)),
			strings.Join(st.Variables, "+"),
			formatDecimal(st.DeviationBefore, e.places),
			formatDecimal(st.DeviationAfter, e.places),
			formatDecimal(st.RatioAfter, e.places),
			formatBool(st.Converged),
			formatInt(int64(st.Iterations)),
			formatInt(int64(st.Evaluations)),
			formatInt(st.ObjectiveEvaluations),
			formatSeconds(st.Duration),
			st.Message,
		})
	}
	return records
}

// ExportStages writes one CSV line per optimizer stage.
func (e *ReportExporter) ExportStages(r *Report, path string) error {
	return e.csvWriter.WriteSimpleCSV(path, stageHeaders(), e.stageRecords(r))
}

// ExportJSON writes the report as indented JSON.
func (e *ReportExporter) ExportJSON(r *Report, path string) error {
	full := e.csvWriter.resolvePath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := e.WriteJSON(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteJSON encodes r to w.
func (e *ReportExporter) WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// ExportXLSX writes a workbook with Summary, Factors and Stages sheets.
func (e *ReportExporter) ExportXLSX(r *Report, path string) error {
	full := e.csvWriter.resolvePath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", "Summary"); err != nil {
		return err
	}
	for i, kv := range e.summaryPairs(r) {
		row := []interface{}{kv[0], kv[1]}
		if err := f.SetSheetRow("Summary", cellName(1, i+1), &row); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet("Factors"); err != nil {
		return err
	}
	if err := writeSheetRow(f, "Factors", 1, stringsToCells(factorHeaders())); err != nil {
		return err
	}
	for i, fr := range FactorRows(r) {
		cells := []interface{}{fr.Variable, fr.Level, roundedFloat(fr.Factor, e.places), nil, nil, nil, nil}
		if fr.HasBounds {
			cells[3], cells[4] = fr.Lower, fr.Upper
		}
		if fr.HasCred {
			cells[5], cells[6] = roundedFloat(fr.Credibility, e.places), roundedFloat(fr.Target, e.places)
		}
		if err := writeSheetRow(f, "Factors", i+2, cells); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet("Stages"); err != nil {
		return err
	}
	if err := writeSheetRow(f, "Stages", 1, stringsToCells(stageHeaders())); err != nil {
		return err
	}
	for i, st := range r.Result.Stages {
		cells := []interface{}{
			st.Index, strings.Join(st.Variables, "+"),
			roundedFloat(st.DeviationBefore, e.places), roundedFloat(st.DeviationAfter, e.places),
			roundedFloat(st.RatioAfter, e.places), st.Converged, st.Iterations, st.Evaluations,
			st.ObjectiveEvaluations, st.Duration.Seconds(), st.Message,
		}
		if err := writeSheetRow(f, "Stages", i+2, cells); err != nil {
			return err
		}
	}

	if err := f.SaveAs(full); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func writeSheetRow(f *excelize.File, sheet string, row int, cells []interface{}) error {
	return f.SetSheetRow(sheet, cellName(1, row), &cells)
}

func cellName(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func stringsToCells(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// ExportSummary writes the plain text summary.
func (e *ReportExporter) ExportSummary(r *Report, path string) error {
	full := e.csvWriter.resolvePath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := e.WriteSummary(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (e *ReportExporter) summaryPairs(r *Report) [][2]string {
	res := r.Result
	pairs := [][2]string{
		{"run_id", r.RunID},
		{"source", r.Source},
		{"rows", formatInt(int64(r.Rows))},
		{"mode", string(res.Mode)},
		{"grouped", formatBool(res.Grouped)},
		{"credibility", formatBool(res.Credibility)},
		{"initial_ratio", formatDecimal(res.InitialRatio, e.places)},
		{"starting_ratio", formatDecimal(res.StartingRatio, e.places)},
		{"starting_deviation", formatDecimal(res.StartingDeviation, e.places)},
		{"ending_ratio", formatDecimal(res.EndingRatio, e.places)},
		{"ending_deviation", formatDecimal(res.EndingDeviation, e.places)},
		{"converged", formatBool(res.Converged)},
		{"stages", formatInt(int64(len(res.Stages)))},
		{"started_at", res.StartedAt.UTC().Format(time.RFC3339)},
		{"finished_at", res.FinishedAt.UTC().Format(time.RFC3339)},
		{"duration_seconds", formatSeconds(res.Duration())},
	}
	return pairs
}

// WriteSummary prints the run summary followed by the factor table.
func (e *ReportExporter) WriteSummary(w io.Writer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, kv := range e.summaryPairs(r) {
		if kv[1] == "" {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\n", kv[0], kv[1])
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "variable\tlevel\tfactor\tbounds")
	for _, row := range FactorRows(r) {
		bounds := ""
		if row.HasBounds {
			bounds = fmt.Sprintf("[%s, %s]", formatDecimal(row.Lower, e.places), formatDecimal(row.Upper, e.places))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", row.Variable, row.Level, formatDecimal(row.Factor, e.places), bounds)
	}
	return tw.Flush()
}

// Package exporter writes calibration reports.
//
// This package contains two main components:
//
// CSVWriter: Core CSV writing functionality with support for headers, streaming,
// and UTF-8 BOM for Excel compatibility.
//
// ReportExporter: Writes the fitted factor table, the per-stage log, a JSON
// document of the whole run, an Excel workbook and a plain text summary.
// Numbers are rounded half away from zero with shopspring/decimal so the
// files agree with each other digit for digit.
//
// Example usage:
//
//	reports := exporter.NewReportExporter(paths, exporter.DefaultPrecision, logger)
//	files, err := reports.ExportAll(report, paths.RunReportDir(runID, started))
package exporter

// Package ingest reads experience tables from CSV files, Excel workbooks and
// Google Sheets and turns them into calibration records.
//
// Every source yields a Table: a header row plus string cells. ToRecords maps
// the header onto a calibration.DatasetSpec, putting rating variables into
// Record.Categories and the actual, expected and weight columns into
// Record.Numbers. Empty numeric cells are left out so the dataset reports
// them as missing with the row number.
package ingest

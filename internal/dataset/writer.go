package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"review-insights-go/internal/types"
)

const resultSheet = "results"

// Write stores records under OutputHeader as .csv or .xlsx, creating parent
// directories as needed. Rows are written in the order given.
func Write(path string, records []types.ResultRecord) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return writeXLSX(path, records)
	case ".csv", "":
		return writeCSV(path, records)
	default:
		return fmt.Errorf("write %q: unsupported output format", path)
	}
}

func writeCSV(path string, records []types.ResultRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %q: %w", path, err)
	}
	if err := WriteCSV(file, records); err != nil {
		file.Close()
		return fmt.Errorf("write %q: %w", path, err)
	}
	return file.Close()
}

// WriteCSV writes the header and one row per record.
func WriteCSV(w io.Writer, records []types.ResultRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(types.OutputHeader); err != nil {
		return err
	}
	for _, rec := range records {
		if err := cw.Write(rec.Row()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX(path string, records []types.ResultRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := setRow(f, 1, types.OutputHeader); err != nil {
		return err
	}
	for i, rec := range records {
		if err := setRow(f, i+2, rec.Row()); err != nil {
			return err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %q: %w", path, err)
	}
	return nil
}

func setRow(f *excelize.File, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	if err := f.SetSheetRow(resultSheet, cell, &cells); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}

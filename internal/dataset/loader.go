package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"review-insights-go/internal/types"
)

const utf8BOM = "\ufeff"

// Load reads reviews from the first column of a .csv or .xlsx table.
// The header row is skipped, as are rows whose review cell is blank.
func Load(path string) ([]types.Review, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return loadXLSX(path)
	case ".csv", "":
		return loadCSV(path)
	default:
		return nil, fmt.Errorf("load %q: unsupported input format", path)
	}
}

func loadCSV(path string) ([]types.Review, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	defer file.Close()
	return ReadCSV(file)
}

// ReadCSV parses reviews from CSV data with a header row.
func ReadCSV(r io.Reader) ([]types.Review, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty csv")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	var out []types.Review
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read row %d: %w", len(out)+2, err)
		}
		if review, ok := firstCell(record); ok {
			out = append(out, review)
		}
	}
	return out, nil
}

func loadXLSX(path string) ([]types.Review, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty sheet %q", sheets[0])
	}

	var out []types.Review
	for _, r := range rows[1:] {
		if review, ok := firstCell(r); ok {
			out = append(out, review)
		}
	}
	return out, nil
}

func firstCell(record []string) (types.Review, bool) {
	if len(record) == 0 {
		return "", false
	}
	cell := strings.TrimPrefix(record[0], utf8BOM)
	if strings.TrimSpace(cell) == "" {
		return "", false
	}
	return types.Review(cell), true
}

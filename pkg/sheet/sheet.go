// Package sheet reads spreadsheet files into ordered rows of cell text.
package sheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/recera/scattershare/pkg/point"
)

// ErrNoSheets is returned for workbooks without any worksheet.
var ErrNoSheets = errors.New("sheet: workbook has no sheets")

// Format is a supported input format.
type Format string

const (
	CSV  Format = "csv"
	TSV  Format = "tsv"
	XLSX Format = "xlsx"
)

// FormatOf guesses the format from a file name. Unknown extensions are read
// as CSV.
func FormatOf(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm", ".xltx":
		return XLSX
	case ".tsv", ".tab":
		return TSV
	default:
		return CSV
	}
}

// Read returns the rows of r. For workbooks only the first sheet is read.
// Rows may have different lengths.
func Read(r io.Reader, name string) ([][]string, error) {
	switch FormatOf(name) {
	case XLSX:
		return readXLSX(r)
	case TSV:
		return readDelimited(r, '\t')
	default:
		return readDelimited(r, ',')
	}
}

func readDelimited(r io.Reader, comma rune) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("sheet: %w", err)
	}
	return trimBOM(rows), nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("sheet: open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoSheets
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("sheet: read %q: %w", sheets[0], err)
	}
	return rows, nil
}

// trimBOM drops a UTF-8 byte order mark that spreadsheet exports put in
// front of the first cell.
func trimBOM(rows [][]string) [][]string {
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return rows
}

// ReadDataset reads r and converts its rows to points.
func ReadDataset(r io.Reader, name string, opts point.RowOptions) (point.Dataset, point.Report, error) {
	rows, err := Read(r, name)
	if err != nil {
		return nil, point.Report{}, err
	}
	d, rep := point.FromRows(rows, opts)
	return d, rep, nil
}

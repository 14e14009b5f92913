package sheet

import (
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/recera/scattershare/pkg/point"
)

func TestFormatOf(t *testing.T) {
	tests := map[string]Format{
		"data.csv":      CSV,
		"DATA.XLSX":     XLSX,
		"export.tsv":    TSV,
		"noextension":   CSV,
		"dir/book.xlsm": XLSX,
	}
	for name, want := range tests {
		if got := FormatOf(name); got != want {
			t.Errorf("FormatOf(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestRead_CSV(t *testing.T) {
	in := "\ufeffx,y,z,name\n1,2,3,a\n4, 5,6\n7,8,9,\"b, c\",red\n"
	rows, err := Read(strings.NewReader(in), "points.csv")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want 4", len(rows))
	}
	if rows[0][0] != "x" {
		t.Errorf("BOM not stripped: %q", rows[0][0])
	}
	if len(rows[2]) != 3 || rows[2][1] != "5" {
		t.Errorf("ragged row = %q", rows[2])
	}
	if rows[3][3] != "b, c" || rows[3][4] != "red" {
		t.Errorf("quoted row = %q", rows[3])
	}
}

func TestRead_TSV(t *testing.T) {
	rows, err := Read(strings.NewReader("x\ty\tz\tname\n1\t2\t3\ta b\n"), "points.tsv")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[1][3] != "a b" {
		t.Errorf("rows = %q", rows)
	}
}

func TestRead_XLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, row := range [][]interface{}{
		{"x", "y", "z", "name"},
		{1, 2, 3, "a"},
		{4.5, 5, 6, "b"},
	} {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	// A second sheet is ignored.
	if _, err := f.NewSheet("Other"); err != nil {
		t.Fatal(err)
	}
	if err := f.SetCellValue("Other", "A1", "ignored"); err != nil {
		t.Fatal(err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	d, rep, err := ReadDataset(buf, "book.xlsx", point.DefaultRowOptions())
	if err != nil {
		t.Fatal(err)
	}
	want := point.Dataset{
		{X: 1, Y: 2, Z: 3, Label: "a"},
		{X: 4.5, Y: 5, Z: 6, Label: "b"},
	}
	if !d.Equal(want) {
		t.Errorf("dataset = %v, want %v", d, want)
	}
	if rep.Rows != 2 {
		t.Errorf("report = %+v", rep)
	}
}

func TestRead_BadWorkbook(t *testing.T) {
	if _, err := Read(strings.NewReader("not a zip"), "book.xlsx"); err == nil {
		t.Error("expected an error for a corrupt workbook")
	}
}

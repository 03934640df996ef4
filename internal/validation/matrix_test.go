package validation

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"
)

func matrixWorkbook(t *testing.T, rows [][]interface{}) *bytes.Reader {
	t.Helper()
	f := excelize.NewFile()
	for i := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &rows[i]); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return bytes.NewReader(buf.Bytes())
}

func TestImportMatrix(t *testing.T) {
	r := matrixWorkbook(t, [][]interface{}{
		{"Site", "10/2025", "11/2025"},
		{"SITE-A", "5, 12", "3"},
		{"SITE-B", "31", ""},
	})
	rows, err := ImportMatrix(r)
	if err != nil {
		t.Fatalf("ImportMatrix: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want 4: %+v", len(rows), rows)
	}
	// sorted by date then site
	want := []struct {
		site, date string
	}{
		{"SITE-A", "2025-10-05"},
		{"SITE-A", "2025-10-12"},
		{"SITE-B", "2025-10-31"},
		{"SITE-A", "2025-11-03"},
	}
	for i, w := range want {
		if rows[i].SiteName != w.site || rows[i].Date.Format("2006-01-02") != w.date {
			t.Errorf("row %d = %s %s, want %s %s",
				i, rows[i].SiteName, rows[i].Date.Format("2006-01-02"), w.site, w.date)
		}
		if rows[i].Status != StatusPending {
			t.Errorf("row %d status = %q", i, rows[i].Status)
		}
	}
}

func TestImportMatrixDropsInvalidDays(t *testing.T) {
	r := matrixWorkbook(t, [][]interface{}{
		{"Site", "02/2025"},
		{"SITE-A", "28, 30, x"},
	})
	rows, err := ImportMatrix(r)
	if err != nil {
		t.Fatalf("ImportMatrix: %v", err)
	}
	if len(rows) != 1 || rows[0].Date.Format("2006-01-02") != "2025-02-28" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestImportMatrixNoMonthColumns(t *testing.T) {
	r := matrixWorkbook(t, [][]interface{}{
		{"Site", "Notas"},
		{"SITE-A", "abc"},
	})
	if _, err := ImportMatrix(r); err == nil {
		t.Fatal("expected error for matrix without month columns")
	}
}

package validation

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const snapshotSheet = "validacao"

var snapshotColumns = []string{"site_name", "date", "status", "observacao", "validador", "data_validacao"}

// EncodeSnapshot serializes the table to xlsx bytes: dates as YYYY-MM-DD,
// timestamps as YYYY-MM-DD HH:MM:SS, everything as text with blanks for
// missing values.
func EncodeSnapshot(rows []Row) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetSheetName("Sheet1", snapshotSheet)

	header := make([]interface{}, len(snapshotColumns))
	for i, c := range snapshotColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(snapshotSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for i, r := range rows {
		line := []interface{}{
			r.SiteName,
			r.Date.Format(dateLayout),
			string(r.Status),
			r.Observacao,
			r.Validador,
			r.DataValidacao,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(snapshotSheet, cell, &line); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot parses snapshot bytes back into rows. Columns are matched
// by header name so older snapshots with reordered columns still load.
func DecodeSnapshot(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("snapshot has no sheets")
	}
	cells, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if len(cells) == 0 {
		return nil, nil
	}

	col := make(map[string]int)
	for i, h := range cells[0] {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"site_name", "date", "status"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("snapshot missing column %q", required)
		}
	}

	cellAt := func(line []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(line) {
			return ""
		}
		return strings.TrimSpace(line[i])
	}

	var rows []Row
	for n, line := range cells[1:] {
		site := cellAt(line, "site_name")
		if site == "" {
			continue
		}
		date, err := time.Parse(dateLayout, cellAt(line, "date"))
		if err != nil {
			return nil, fmt.Errorf("snapshot row %d: bad date %q", n+2, cellAt(line, "date"))
		}
		status, err := ParseStatus(cellAt(line, "status"))
		if err != nil {
			return nil, fmt.Errorf("snapshot row %d: %w", n+2, err)
		}
		rows = append(rows, Row{
			SiteName:      site,
			Date:          date,
			Status:        status,
			Observacao:    cellAt(line, "observacao"),
			Validador:     cellAt(line, "validador"),
			DataValidacao: cellAt(line, "data_validacao"),
		})
	}
	return rows, nil
}

// Package sheet parses geoportal workbooks. Each worksheet is one monitored
// site: the first column names parameters, the columns from the "Data" marker
// onward are measurement dates, and the first data row carries each column's
// calendar date.
package sheet

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Point is one (date, value) sample of a parameter series.
type Point struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Workbook holds every site sheet of a parsed .xlsx file, in sheet order.
type Workbook struct {
	Sites []*Site

	byName map[string]*Site
}

// Site is one worksheet. Columns are sorted chronologically (dated columns
// first, undated ones after in original order); parameter rows keep their
// sheet order including rows the application does not recognize.
type Site struct {
	Name      string
	Columns   []Column
	Latitude  *float64
	Longitude *float64

	rows  []paramRow
	byKey map[string]int
}

type paramRow struct {
	name  string
	cells map[string]string
}

// Load parses workbook bytes. Sheets with no data rows are skipped rather
// than failing the whole upload.
func Load(r io.Reader) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	wb := &Workbook{byName: make(map[string]*Site)}
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		site, err := parseSite(name, rows)
		if err != nil {
			return nil, err
		}
		if site == nil {
			continue
		}
		wb.Sites = append(wb.Sites, site)
		wb.byName[site.Name] = site
	}
	if len(wb.Sites) == 0 {
		return nil, fmt.Errorf("workbook has no usable sheets")
	}
	return wb, nil
}

// Site returns the sheet with the given name.
func (w *Workbook) Site(name string) (*Site, bool) {
	s, ok := w.byName[name]
	return s, ok
}

// SiteNames lists sheets in workbook order.
func (w *Workbook) SiteNames() []string {
	names := make([]string, 0, len(w.Sites))
	for _, s := range w.Sites {
		names = append(names, s.Name)
	}
	return names
}

func parseSite(name string, rows [][]string) (*Site, error) {
	if len(rows) < 2 {
		return nil, nil
	}
	headers := normalizeHeaders(rows[0])
	firstRow := rows[1]

	site := &Site{Name: name, byKey: make(map[string]int)}

	// Columns before the "Data" marker are metadata (parameter name,
	// coordinates); everything from the marker on is a dated column.
	dataIdx := -1
	for i, h := range headers {
		if h == "Data" {
			dataIdx = i
			break
		}
	}
	if dataIdx < 0 {
		if len(headers) > 3 {
			dataIdx = 3
		} else {
			dataIdx = 0
		}
	}

	for i := dataIdx; i < len(headers); i++ {
		site.Columns = append(site.Columns, parseColumn(headers[i], cellAt(firstRow, i)))
	}
	sort.SliceStable(site.Columns, func(a, b int) bool {
		ca, cb := site.Columns[a], site.Columns[b]
		if ca.Dated() != cb.Dated() {
			return ca.Dated()
		}
		if !ca.Dated() {
			return false
		}
		return ca.Time.Before(cb.Time)
	})

	site.Latitude = firstFloatInColumn(headers, rows, "Lat")
	site.Longitude = firstFloatInColumn(headers, rows, "Long")

	for _, row := range rows[1:] {
		pname := strings.TrimSpace(cellAt(row, 0))
		pr := paramRow{name: pname, cells: make(map[string]string)}
		for i := dataIdx; i < len(headers); i++ {
			pr.cells[headers[i]] = strings.TrimSpace(cellAt(row, i))
		}
		site.rows = append(site.rows, pr)
		key := Fold(pname)
		if key != "" {
			if _, dup := site.byKey[key]; !dup {
				site.byKey[key] = len(site.rows) - 1
			}
		}
	}
	return site, nil
}

// normalizeHeaders forces column 0 to the Parametro marker and canonicalizes
// coordinate column aliases.
func normalizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	for i, h := range raw {
		s := strings.TrimSpace(h)
		switch strings.ToLower(s) {
		case "lat", "latitude":
			s = "Lat"
		case "long", "lon", "longitude":
			s = "Long"
		}
		headers[i] = s
	}
	if len(headers) > 0 {
		headers[0] = "Parametro"
	}
	return headers
}

func cellAt(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func firstFloatInColumn(headers []string, rows [][]string, header string) *float64 {
	col := -1
	for i, h := range headers {
		if h == header {
			col = i
			break
		}
	}
	if col < 0 {
		return nil
	}
	for _, row := range rows[1:] {
		v, err := parseFloat(cellAt(row, col))
		if err == nil {
			return &v
		}
	}
	return nil
}

// parseFloat accepts both dot and Brazilian comma decimal separators.
func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty cell")
	}
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", ".")
	}
	return strconv.ParseFloat(s, 64)
}

// lookup resolves a parameter row by folded name: exact match against the
// canonical name and aliases first, then any row whose folded name starts
// with one of the keys.
func (s *Site) lookup(keys []string) (paramRow, bool) {
	for _, k := range keys {
		if idx, ok := s.byKey[k]; ok {
			return s.rows[idx], true
		}
	}
	for _, row := range s.rows {
		nk := Fold(row.name)
		if nk == "" {
			continue
		}
		for _, k := range keys {
			if k != "" && strings.HasPrefix(nk, k) {
				return row, true
			}
		}
	}
	return paramRow{}, false
}

// Value returns the raw cell of a known parameter at the given column header.
func (s *Site) Value(header string, p Param) (string, bool) {
	row, ok := s.lookup(p.lookupKeys())
	if !ok {
		return "", false
	}
	v, ok := row.cells[header]
	return v, ok && v != ""
}

// Series extracts the (date, value) samples of a parameter across all dated
// columns, in chronological order. Cells that do not parse as numbers and
// columns without a resolved date are dropped.
func (s *Site) Series(p Param) []Point {
	row, ok := s.lookup(p.lookupKeys())
	if !ok {
		return nil
	}
	var pts []Point
	for _, col := range s.Columns {
		if !col.Dated() {
			continue
		}
		v, err := parseFloat(row.cells[col.Header])
		if err != nil {
			continue
		}
		pts = append(pts, Point{Date: col.Time, Value: v})
	}
	return pts
}

// Record returns every parameter row's cell for one column, keyed by the row
// name as written in the sheet. Used for the per-date metric panel.
func (s *Site) Record(header string) map[string]string {
	rec := make(map[string]string)
	for _, row := range s.rows {
		if row.name == "" {
			continue
		}
		if v := row.cells[header]; v != "" {
			rec[row.name] = v
		}
	}
	return rec
}

// ColumnByLabel finds a column by its canonical label.
func (s *Site) ColumnByLabel(label string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Label == label {
			return c, true
		}
	}
	return Column{}, false
}

// ResolveImageURL turns an Imagem cell into a fetchable URL. Absolute URLs
// pass through; repo-relative paths are joined onto the asset base.
func ResolveImageURL(raw, baseURL string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, `\`, "/")
	s = strings.TrimPrefix(s, "./")
	low := strings.ToLower(s)
	if strings.HasPrefix(low, "http://") || strings.HasPrefix(low, "https://") {
		return s
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(s, "/")
}

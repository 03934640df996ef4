package validation

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

var monthLayouts = []string{"01/2006", "1/2006", "2006-01", "Jan/2006", "Jan-2006"}

func parseMonthHeader(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range monthLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// ImportMatrix explodes a scheduling matrix into validation rows. The first
// sheet holds one row per site with month-labelled columns whose cells carry
// comma-separated day numbers; every (site, day) pair becomes a Pendente
// row. Day numbers that do not exist in the month are dropped.
func ImportMatrix(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open matrix: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("matrix workbook has no sheets")
	}
	cells, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read matrix: %w", err)
	}
	if len(cells) < 2 {
		return nil, fmt.Errorf("matrix has no data rows")
	}

	type monthCol struct {
		idx   int
		month time.Time
	}
	var months []monthCol
	for i, h := range cells[0] {
		if i == 0 {
			continue
		}
		if m, ok := parseMonthHeader(h); ok {
			months = append(months, monthCol{idx: i, month: m})
		}
	}
	if len(months) == 0 {
		return nil, fmt.Errorf("matrix has no month columns")
	}

	var rows []Row
	for _, line := range cells[1:] {
		if len(line) == 0 {
			continue
		}
		site := strings.TrimSpace(line[0])
		if site == "" {
			continue
		}
		for _, mc := range months {
			if mc.idx >= len(line) {
				continue
			}
			for _, part := range strings.Split(line[mc.idx], ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				dayNum, err := strconv.Atoi(part)
				if err != nil {
					continue
				}
				date := time.Date(mc.month.Year(), mc.month.Month(), dayNum, 0, 0, 0, 0, time.UTC)
				if date.Month() != mc.month.Month() || dayNum < 1 {
					continue
				}
				rows = append(rows, Row{
					SiteName: site,
					Date:     date,
					Status:   StatusPending,
				})
			}
		}
	}
	SortRows(rows)
	return rows, nil
}

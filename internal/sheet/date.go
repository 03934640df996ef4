package sheet

import (
	"strings"
	"time"
)

// Column is one date-labelled workbook column. Label is the canonical form
// shown to users ("2025-10-05", "2025-10", or the raw header when nothing
// parsed); Time is zero when the header carried no recognizable date.
type Column struct {
	Header string
	Label  string
	Time   time.Time
}

// Dated reports whether the column resolved to a concrete timestamp.
func (c Column) Dated() bool {
	return !c.Time.IsZero()
}

// Spreadsheets arrive with Brazilian day-first dates, but month-first files
// show up too, so ambiguous cells are tried day-first and then month-first.
var dayFirstLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"02.01.2006",
	"2006-01-02",
	"2006-01-02 15:04:05",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"01/2006",
	"1/2006",
	"2006-01",
}

var monthFirstLayouts = []string{
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"01/02/2006 15:04:05",
}

func parseAnyDate(s string, layouts []string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseColumn assigns a column its canonical label and timestamp. The cell
// from the sheet's first data row wins when it parses as a date (day-first,
// then month-first). Otherwise the column header itself is parsed at month
// granularity; a header that parses yields a "YYYY-MM" label, anything else
// keeps the raw header with no timestamp.
func parseColumn(header, firstRowCell string) Column {
	if t, ok := parseAnyDate(firstRowCell, dayFirstLayouts); ok {
		return Column{Header: header, Label: t.Format("2006-01-02"), Time: t}
	}
	if t, ok := parseAnyDate(firstRowCell, monthFirstLayouts); ok {
		return Column{Header: header, Label: t.Format("2006-01-02"), Time: t}
	}
	if t, ok := parseAnyDate(header, dayFirstLayouts); ok {
		return Column{
			Header: header,
			Label:  t.Format("2006-01"),
			Time:   time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC),
		}
	}
	return Column{Header: header, Label: strings.TrimSpace(header)}
}

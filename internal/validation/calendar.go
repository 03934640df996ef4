package validation

import (
	"sort"
	"time"
)

// DayColor classifies a calendar day by its rows' statuses.
type DayColor string

const (
	// ColorRejected marks days with at least one rejected pass.
	ColorRejected DayColor = "red"
	// ColorPending marks days still waiting on a decision with nothing
	// approved yet.
	ColorPending DayColor = "gray"
	// ColorApproved marks fully decided days.
	ColorApproved DayColor = "green"
	// ColorNone marks days without scheduled passes.
	ColorNone DayColor = ""
)

// DayCell is one cell of the month grid.
type DayCell struct {
	Day      int      `json:"day"`
	InMonth  bool     `json:"in_month"`
	Color    DayColor `json:"color,omitempty"`
	Pending  int      `json:"pending,omitempty"`
	Approved int      `json:"approved,omitempty"`
	Rejected int      `json:"rejected,omitempty"`
	Sites    []string `json:"sites,omitempty"`
}

// MonthGrid lays the month out Sunday-first in the fixed 6x7 shape the
// calendar page draws. Days carrying rows get a color: red when anything
// was rejected, gray while something is pending and nothing approved,
// green otherwise.
func MonthGrid(rows []Row, year int, month time.Month) [6][7]DayCell {
	type tally struct {
		pending, approved, rejected int
		sites                       map[string]bool
	}
	byDay := make(map[int]*tally)
	for _, r := range rows {
		if r.Date.Year() != year || r.Date.Month() != month {
			continue
		}
		d := r.Date.Day()
		t := byDay[d]
		if t == nil {
			t = &tally{sites: make(map[string]bool)}
			byDay[d] = t
		}
		switch r.Status {
		case StatusApproved:
			t.approved++
		case StatusRejected:
			t.rejected++
		default:
			t.pending++
		}
		t.sites[r.SiteName] = true
	}

	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	daysInMonth := first.AddDate(0, 1, -1).Day()
	// time.Weekday is already Sunday-based, so the first day's weekday is
	// its column.
	startCol := int(first.Weekday())

	var grid [6][7]DayCell
	day := 1
	for cell := startCol; day <= daysInMonth && cell < 42; cell++ {
		c := DayCell{Day: day, InMonth: true}
		if t := byDay[day]; t != nil {
			c.Pending, c.Approved, c.Rejected = t.pending, t.approved, t.rejected
			c.Color = dayColor(t.pending, t.approved, t.rejected)
			for s := range t.sites {
				c.Sites = append(c.Sites, s)
			}
			sort.Strings(c.Sites)
		}
		grid[cell/7][cell%7] = c
		day++
	}
	return grid
}

func dayColor(pending, approved, rejected int) DayColor {
	switch {
	case rejected > 0:
		return ColorRejected
	case pending > 0 && approved == 0:
		return ColorPending
	default:
		return ColorApproved
	}
}

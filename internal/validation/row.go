// Package validation implements the satellite-pass approval workflow: a
// table of (site, date) rows moving from Pendente to Aprovada or Rejeitada,
// persisted as immutable timestamped snapshots with a latest.json pointer.
package validation

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status is the decision state of one scheduled pass.
type Status string

const (
	StatusPending  Status = "Pendente"
	StatusApproved Status = "Aprovada"
	StatusRejected Status = "Rejeitada"
)

func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pendente":
		return StatusPending, nil
	case "aprovada", "aprovado":
		return StatusApproved, nil
	case "rejeitada", "rejeitado":
		return StatusRejected, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// timeLayout is the naive UTC format of the data_validacao column.
const timeLayout = "2006-01-02 15:04:05"

// dateLayout is the format of the date column.
const dateLayout = "2006-01-02"

// Row is one satellite pass awaiting or holding a decision. DataValidacao
// is stamped the first time the row leaves Pendente and never changes
// afterwards; empty means the row was never decided.
type Row struct {
	SiteName      string    `json:"site_name"`
	Date          time.Time `json:"date"`
	Status        Status    `json:"status"`
	Observacao    string    `json:"observacao"`
	Validador     string    `json:"validador"`
	DataValidacao string    `json:"data_validacao"`
}

// Key identifies a row by its (site, date) pair.
type Key struct {
	Site string
	Date string
}

func (r Row) Key() Key {
	return Key{Site: r.SiteName, Date: r.Date.Format(dateLayout)}
}

// SortRows orders rows by date then site, the order snapshots are written in.
func SortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.Before(rows[j].Date)
		}
		return rows[i].SiteName < rows[j].SiteName
	})
}

// Decision carries a validator's edits for one row. Nil fields are left
// untouched on merge, so rows filtered out of the editing grid survive a
// save unchanged.
type Decision struct {
	Status     *Status `json:"status"`
	Observacao *string `json:"observacao"`
	Validador  *string `json:"validador"`
}

// Merge applies edited decisions onto the baseline table by (site, date)
// key. A row whose merged status is no longer Pendente gets data_validacao
// stamped with now (naive UTC) unless it already carries one.
func Merge(baseline []Row, edits map[Key]Decision, now time.Time) []Row {
	out := make([]Row, len(baseline))
	copy(out, baseline)
	stamp := now.UTC().Format(timeLayout)
	for i := range out {
		d, ok := edits[out[i].Key()]
		if !ok {
			continue
		}
		if d.Status != nil {
			out[i].Status = *d.Status
		}
		if d.Observacao != nil {
			out[i].Observacao = *d.Observacao
		}
		if d.Validador != nil {
			out[i].Validador = *d.Validador
		}
		if out[i].Status != StatusPending && out[i].DataValidacao == "" {
			out[i].DataValidacao = stamp
		}
	}
	return out
}

// BatchDecide applies one status to every row on the given calendar date,
// optionally restricted to a set of sites. All touched rows share the same
// validation timestamp; already-stamped rows keep their original one. A
// non-nil observacao overwrites the note on every touched row.
func BatchDecide(rows []Row, date time.Time, sites []string, status Status, observacao *string, validador string, now time.Time) []Row {
	siteSet := make(map[string]bool, len(sites))
	for _, s := range sites {
		siteSet[s] = true
	}
	day := date.Format(dateLayout)
	stamp := now.UTC().Format(timeLayout)

	out := make([]Row, len(rows))
	copy(out, rows)
	for i := range out {
		if out[i].Date.Format(dateLayout) != day {
			continue
		}
		if len(siteSet) > 0 && !siteSet[out[i].SiteName] {
			continue
		}
		out[i].Status = status
		out[i].Validador = validador
		if observacao != nil {
			out[i].Observacao = *observacao
		}
		if status != StatusPending && out[i].DataValidacao == "" {
			out[i].DataValidacao = stamp
		}
	}
	return out
}

// Package report renders per-site PDF reports: a header band with the site
// and date, the selected date's metrics, the site image and the current
// charts, stamped with a UTC generation time.
package report

import (
	"errors"
	"html/template"
	"time"
)

// Metric is one labelled value in the report's metric row.
type Metric struct {
	Label string
	Value string
}

// Data holds everything the report template needs.
type Data struct {
	Site        string
	DateLabel   string
	GeneratedAt time.Time
	Metrics     []Metric
	Latitude    *float64
	Longitude   *float64
	ImageURL    string
	ImageData   []byte
	ChartsHTML  template.HTML
}

// Result contains the generated document.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates no PDF renderer is available at runtime.
var ErrPDFDependencyMissing = errors.New("report pdf dependency missing")

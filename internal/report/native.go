package report

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-pdf/fpdf"
)

// A4 in mm.
const (
	pageWidth  = 210.0
	pageHeight = 297.0
	margin     = 14.0
)

// exportNativePDF draws the report directly with fpdf. It is the last
// renderer in the chain and carries no charts, only the header band,
// metrics, coordinates and the site image.
func exportNativePDF(data Data, title string) (*Result, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.AddPage()

	// Header band
	pdf.SetFillColor(0x15, 0x5E, 0x75)
	pdf.Rect(0, 0, pageWidth, 34, "F")
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 20)
	pdf.Text(margin, 16, data.Site)
	pdf.SetTextColor(0xF5, 0x9E, 0x0B)
	pdf.SetFont("Helvetica", "", 11)
	pdf.Text(margin, 26, "Monitoramento de Metano - "+data.DateLabel)

	y := 44.0
	pdf.SetTextColor(0x6B, 0x72, 0x80)
	pdf.SetFont("Helvetica", "", 8)
	pdf.Text(margin, y, "Gerado em "+data.GeneratedAt.Format("2006-01-02 15:04:05")+" UTC")
	y += 8

	if data.Latitude != nil || data.Longitude != nil {
		coords := ""
		if data.Latitude != nil {
			coords += fmt.Sprintf("Lat %.5f", *data.Latitude)
		}
		if data.Longitude != nil {
			if coords != "" {
				coords += "  "
			}
			coords += fmt.Sprintf("Long %.5f", *data.Longitude)
		}
		pdf.Text(margin, y, coords)
		y += 8
	}

	pdf.SetTextColor(0, 0, 0)
	for _, m := range data.Metrics {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.Text(margin, y, m.Label+":")
		pdf.SetFont("Helvetica", "", 10)
		v := m.Value
		if v == "" {
			v = "-"
		}
		pdf.Text(margin+45, y, v)
		y += 7
	}

	if len(data.ImageData) > 0 {
		if imgType := sniffImageType(data.ImageData); imgType != "" {
			opts := fpdf.ImageOptions{ImageType: imgType}
			pdf.RegisterImageOptionsReader("site-image", opts, bytes.NewReader(data.ImageData))
			y += 4
			pdf.ImageOptions("site-image", margin, y, pageWidth-2*margin, 0, false, opts, 0, "")
		}
	}

	pdf.SetTextColor(0x6B, 0x72, 0x80)
	pdf.SetFont("Helvetica", "", 8)
	pdf.Text(margin, pageHeight-10, "Geoportal DAP")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("fpdf output: %w", err)
	}
	return &Result{
		Data:     buf.Bytes(),
		Filename: sanitizeFilename(title) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}

func sniffImageType(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/png":
		return "PNG"
	case "image/jpeg":
		return "JPG"
	case "image/gif":
		return "GIF"
	}
	return ""
}

package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/components"

	"geoportal/api/internal/chart"
)

// Service turns report data and charts into a PDF, trying headless Chrome
// first, then wkhtmltopdf, then the native renderer.
type Service struct {
	client *http.Client
	now    func() time.Time
}

func NewService() *Service {
	return &Service{
		client: &http.Client{Timeout: 20 * time.Second},
		now:    time.Now,
	}
}

// Generate renders the report HTML with the given charts inlined and
// converts it to a PDF.
func (s *Service) Generate(ctx context.Context, data Data, charters ...components.Charter) (*Result, error) {
	data.GeneratedAt = s.now().UTC()

	if len(charters) > 0 {
		pageHTML, err := chart.Page(charters...)
		if err != nil {
			return nil, fmt.Errorf("render charts: %w", err)
		}
		data.ChartsHTML = chartBody(pageHTML)
	}

	if data.ImageURL != "" {
		// Fetched up front so the native fallback can embed it too.
		if img, err := s.fetchImage(ctx, data.ImageURL); err == nil {
			data.ImageData = img
		}
	}

	html, err := RenderHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	title := fmt.Sprintf("Relatorio %s %s", data.Site, data.DateLabel)

	result, err := exportChromePDF(html, title)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, ErrPDFDependencyMissing) {
		return nil, err
	}

	result, err = exportWkhtmltopdf(html, title)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, ErrPDFDependencyMissing) {
		return nil, err
	}

	return exportNativePDF(data, title)
}

func (s *Service) fetchImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image fetch status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}

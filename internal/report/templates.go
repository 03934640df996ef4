package report

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"deref": func(f *float64) float64 {
			if f == nil {
				return 0
			}
			return *f
		},
	}

	content, err := templateFS.ReadFile("templates/report.html")
	if err != nil {
		// Fallback to built-in template if file not found
		reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}
	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(string(content)))
}

// RenderHTML renders the report template with provided data.
func RenderHTML(data Data) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// chartBody extracts the <body> contents of a rendered chart page so the
// figures can be inlined into the report document.
func chartBody(page []byte) template.HTML {
	s := string(page)
	start := strings.Index(s, "<body>")
	end := strings.LastIndex(s, "</body>")
	if start < 0 || end < 0 || end <= start {
		return ""
	}
	return template.HTML(s[start+len("<body>") : end])
}

const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Site}}</title>
  <style>
    body { font-family: Helvetica, Arial, sans-serif; margin: 2rem; }
    h1 { background: #155E75; color: #fff; padding: 1rem; }
    .meta { color: #6B7280; font-size: 0.9em; }
  </style>
</head>
<body>
  <h1>{{.Site}} — {{.DateLabel}}</h1>
  <div class="meta">Gerado em {{.GeneratedAt.Format "2006-01-02 15:04:05"}} UTC</div>
  {{range .Metrics}}<p><b>{{.Label}}:</b> {{.Value}}</p>{{end}}
  {{if .ImageURL}}<img src="{{.ImageURL}}" style="max-width:100%">{{end}}
  {{.ChartsHTML}}
</body>
</html>`

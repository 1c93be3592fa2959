package output

import (
	"bytes"
	_ "embed"
	"html/template"

	"github.com/rgehrsitz/annuity/internal/quote"
)

// HTMLFormatter produces a standalone HTML quote.
type HTMLFormatter struct{}

func (h HTMLFormatter) Name() string      { return "html" }
func (h HTMLFormatter) Extension() string { return "html" }

//go:embed templates/report.html.tmpl
var htmlTemplateSource string

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"uf":     FormatUF,
	"clp":    FormatCLP,
	"pct":    FormatPercentage,
	"factor": FormatFactor,
}).Parse(htmlTemplateSource))

func (h HTMLFormatter) Format(report *quote.Report) ([]byte, error) {
	var buf bytes.Buffer
	data := struct {
		*quote.Report
		Rows        []row
		Assumptions []string
	}{report, rows(report), DefaultAssumptions}
	if err := htmlTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package output

import (
	"bytes"
	"encoding/csv"

	"github.com/rgehrsitz/annuity/internal/quote"
)

// CSVFormatter writes one row per pay-slip line, in scenario order.
type CSVFormatter struct{}

func (c CSVFormatter) Name() string      { return "csv" }
func (c CSVFormatter) Extension() string { return "csv" }

func (c CSVFormatter) Format(report *quote.Report) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	header := []string{"Scenario", "Kind", "Line", "Factor", "Temporal", "Deferred", "PensionUF", "AFPCommissionCLP", "GrossCLP", "HealthCLP", "NetCLP"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, r := range rows(report) {
		record := []string{
			r.Scenario,
			r.Kind,
			r.Line.Label,
			FormatFactor(r.Factor),
			FormatFactor(r.Temporal),
			FormatFactor(r.Deferred),
			r.Line.Payslip.PensionUF.StringFixed(4),
			r.Line.AFPCommissionCLP.StringFixed(0),
			r.Line.Payslip.GrossCLP.StringFixed(0),
			r.Line.Payslip.HealthCLP.StringFixed(0),
			r.Line.Payslip.NetCLP.StringFixed(0),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

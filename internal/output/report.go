package output

import (
	"strings"

	"github.com/rgehrsitz/annuity/internal/quote"
	"github.com/shopspring/decimal"
)

// FormatUF formats an amount in UF with two decimals.
func FormatUF(amount decimal.Decimal) string {
	return "UF " + amount.StringFixed(2)
}

// FormatCLP formats a peso amount rounded to the unit with dot thousands
// separators, e.g. $1.234.567.
func FormatCLP(amount decimal.Decimal) string {
	s := amount.Round(0).Abs().StringFixed(0)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if amount.Round(0).IsNegative() {
		return "-$" + b.String()
	}
	return "$" + b.String()
}

// FormatPercentage formats a fraction as a percentage.
func FormatPercentage(fraction decimal.Decimal) string {
	return fraction.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

// FormatFactor formats an annuity factor.
func FormatFactor(f float64) string {
	return decimal.NewFromFloat(f).StringFixed(6)
}

// row is one flattened pay-slip line shared by the tabular formatters.
type row struct {
	Scenario string
	Kind     string
	Factor   float64
	Temporal float64
	Deferred float64
	Line     quote.Line
}

// rows flattens the scenario and survivor results of a report in order.
func rows(report *quote.Report) []row {
	var out []row
	for _, res := range report.Results {
		for _, l := range res.Lines {
			out = append(out, row{
				Scenario: res.Scenario,
				Kind:     string(res.Kind),
				Factor:   res.Factor,
				Temporal: res.Factors.Temporal,
				Deferred: res.Factors.Deferred,
				Line:     l,
			})
		}
	}
	if s := report.Survivor; s != nil {
		for _, l := range s.Lines {
			out = append(out, row{
				Scenario: "survivor",
				Kind:     "survivor",
				Factor:   s.Factor,
				Deferred: s.Factor,
				Line:     l,
			})
		}
	}
	return out
}

package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/rgehrsitz/annuity/internal/quote"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	labelStyle   = lipgloss.NewStyle().Width(26)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	numberStyle  = cellStyle.Align(lipgloss.Right)
)

// ConsoleFormatter renders the report as styled text tables.
type ConsoleFormatter struct{}

func (c ConsoleFormatter) Name() string      { return "console" }
func (c ConsoleFormatter) Extension() string { return "txt" }

func (c ConsoleFormatter) Format(report *quote.Report) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(titleStyle.Render("PENSION QUOTE "+strings.ToUpper(strings.ReplaceAll(string(report.PensionType), "_", " "))) + "\n")
	fmt.Fprintf(&buf, "Quote %s, valued %s\n\n", report.ID, report.ValuationDate.Format("2006-01-02"))

	buf.WriteString(sectionStyle.Render("Affiliate") + "\n")
	kv(&buf, "Age / sex", fmt.Sprintf("%d / %s", report.Affiliate.Age, report.Affiliate.Sex))
	if report.Affiliate.Disabled {
		kv(&buf, "Mortality table", "invalidity")
	}
	kv(&buf, "Balance", FormatUF(report.BalanceUF))
	kv(&buf, "Annuity premium", FormatUF(report.Premiums.Annuity))
	kv(&buf, "UF value", FormatCLP(report.UFValueCLP))
	kv(&buf, "Programmed rate", report.Discounts.ProgrammedWithdrawal)
	kv(&buf, "Annuity discount", report.Discounts.Annuity)
	for i, d := range report.Dependents {
		role := "Spouse"
		if !d.IsSpouse() {
			role = fmt.Sprintf("Child (until %d)", d.AgeLimit)
		}
		kv(&buf, fmt.Sprintf("Beneficiary %d", i+1), fmt.Sprintf("%s, %d / %s, share %.0f%%", role, d.Age, d.Sex, d.Share*100))
	}
	if e := report.Eligibility; e != nil {
		kv(&buf, "Early retirement check", fmt.Sprintf("%s vs required %s", FormatUF(e.MonthlyUF), FormatUF(e.RequiredUF)))
	}
	buf.WriteString("\n")

	if len(report.Results) > 0 {
		buf.WriteString(sectionStyle.Render("Scenarios") + "\n")
		t := newTable("Scenario", "Line", "Factor", "Pension UF", "AFP", "Gross", "Health", "Net")
		for _, r := range rows(report) {
			if r.Kind == "survivor" {
				continue
			}
			t.Row(r.Scenario, r.Line.Label, FormatFactor(r.Factor), r.Line.Payslip.PensionUF.StringFixed(2),
				FormatCLP(r.Line.AFPCommissionCLP), FormatCLP(r.Line.Payslip.GrossCLP),
				FormatCLP(r.Line.Payslip.HealthCLP), FormatCLP(r.Line.Payslip.NetCLP))
		}
		buf.WriteString(t.Render() + "\n\n")
	}

	if s := report.Survivor; s != nil {
		buf.WriteString(sectionStyle.Render("Survivor pension") + "\n")
		kv(&buf, "Survivor factor", FormatFactor(s.Factor))
		kv(&buf, "Financiable reference", FormatUF(s.FinanciableUF))
		kv(&buf, "Legal reference", FormatUF(s.LegalUF))
		kv(&buf, "Reference paid", FormatUF(s.ReferenceUF))
		t := newTable("Beneficiary", "Rate", "Pension UF", "Gross", "Health", "Net")
		for _, l := range s.Lines {
			t.Row(l.Label, s.Discount, l.Payslip.PensionUF.StringFixed(2), FormatCLP(l.Payslip.GrossCLP),
				FormatCLP(l.Payslip.HealthCLP), FormatCLP(l.Payslip.NetCLP))
		}
		buf.WriteString(t.Render() + "\n\n")
	}

	for _, w := range report.Warnings {
		buf.WriteString(warnStyle.Render("WARNING: "+w) + "\n")
	}

	buf.WriteString(sectionStyle.Render("Assumptions") + "\n")
	for _, a := range DefaultAssumptions {
		buf.WriteString("  - " + a + "\n")
	}
	return buf.Bytes(), nil
}

func kv(buf *bytes.Buffer, label, value string) {
	buf.WriteString("  " + labelStyle.Render(label+":") + value + "\n")
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col >= 2:
				return numberStyle
			default:
				return cellStyle
			}
		})
}

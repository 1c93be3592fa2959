package output

import (
	"fmt"
	"strconv"

	"github.com/rgehrsitz/annuity/internal/actuarial"
)

// FormatSchedule renders a factor walk as a table followed by the temporal,
// deferred and total sums.
func FormatSchedule(periods []actuarial.Period) string {
	t := newTable("t", "Window", "Primary", "Survivor", "Benefit", "Discount", "PV")
	var temporal, deferred float64
	for _, p := range periods {
		window := "deferred"
		if p.Temporal {
			window = "temporal"
			temporal += p.PresentValue
		} else {
			deferred += p.PresentValue
		}
		t.Row(strconv.Itoa(p.T), window, FormatFactor(p.PrimarySurvival), FormatFactor(p.SurvivorBenefit),
			FormatFactor(p.Benefit), FormatFactor(p.Discount), FormatFactor(p.PresentValue))
	}
	return t.Render() + "\n" + fmt.Sprintf("temporal %s  deferred %s  total %s\n",
		FormatFactor(temporal), FormatFactor(deferred), FormatFactor(temporal+deferred))
}

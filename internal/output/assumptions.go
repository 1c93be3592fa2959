package output

// DefaultAssumptions lists key modeling assumptions rendered in detailed outputs.
var DefaultAssumptions = []string{
	"Mortality: one-year survival 1 - qx from the loaded tables; no survival past age 110",
	"Payments: one unit per year in advance, first payment at the valuation date",
	"Survivor shares: spouse 60%, each child 15% until age 18 (24 if studying), capped at 100% in total",
	"Guaranteed years pay the full benefit whether or not the pensioner is alive",
	"Health contribution withheld from every pension; AFP commission only during programmed withdrawal",
}

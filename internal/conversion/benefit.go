// Package conversion turns annuity factors into monthly pension amounts and
// pay slips. Money is carried as decimal.Decimal; factors stay float64.
package conversion

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rgehrsitz/annuity/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrDegenerateFactor is returned when a premium would be divided by a factor
// that is zero or negative. No dependent or no survival means there is no
// benefit to price.
var ErrDegenerateFactor = errors.New("degenerate annuity factor")

var (
	twelve = decimal.NewFromInt(12)
	one    = decimal.NewFromInt(1)
)

// DefaultHealthRate is the statutory health contribution withheld from a
// pension.
var DefaultHealthRate = decimal.NewFromFloat(0.07)

// EarlyRetirementThreshold is the fraction of the ten-year average taxable
// income an early old-age pension must reach.
var EarlyRetirementThreshold = decimal.NewFromFloat(0.80)

// Premiums are the amounts available to each modality.
type Premiums struct {
	// ProgrammedWithdrawal stays in the individual account in full.
	ProgrammedWithdrawal decimal.Decimal `json:"programmed_withdrawal"`
	// Annuity is the balance net of the intermediation commission.
	Annuity decimal.Decimal `json:"annuity"`
}

// NetPremiums splits a balance into the premium of each modality.
func NetPremiums(balance, commission decimal.Decimal) (Premiums, error) {
	if balance.IsNegative() {
		return Premiums{}, fmt.Errorf("balance %s cannot be negative", balance)
	}
	if err := checkCommission(commission); err != nil {
		return Premiums{}, err
	}
	return Premiums{
		ProgrammedWithdrawal: balance,
		Annuity:              balance.Mul(one.Sub(commission)),
	}, nil
}

// MonthlyBenefit converts a premium into a monthly benefit: the factor prices
// one unit per year.
func MonthlyBenefit(premium decimal.Decimal, factor float64) (decimal.Decimal, error) {
	if !(factor > 0) {
		return decimal.Zero, fmt.Errorf("%w: factor %v", ErrDegenerateFactor, factor)
	}
	return premium.Div(decimal.NewFromFloat(factor)).Div(twelve), nil
}

// Increase is the monthly benefit of an annuity with a temporary increase.
type Increase struct {
	Base      decimal.Decimal `json:"base"`
	Increased decimal.Decimal `json:"increased"`
}

// IncreasedBenefit prices an annuity that pays (1+pct) times the base benefit
// during the temporal window and the base benefit afterwards.
func IncreasedBenefit(premium decimal.Decimal, f domain.Factors, pct decimal.Decimal) (Increase, error) {
	if pct.IsNegative() {
		return Increase{}, fmt.Errorf("increase percentage %s cannot be negative", pct)
	}
	uplift := one.Add(pct)
	denominator := decimal.NewFromFloat(f.Temporal).Mul(uplift).Add(decimal.NewFromFloat(f.Deferred))
	if !denominator.IsPositive() {
		return Increase{}, fmt.Errorf("%w: temporal %v deferred %v", ErrDegenerateFactor, f.Temporal, f.Deferred)
	}
	base := premium.Div(denominator).Div(twelve)
	return Increase{Base: base, Increased: base.Mul(uplift)}, nil
}

// HybridFactor combines the temporal factor of a programmed withdrawal with
// the deferred factor of an annuity bought later. The annuity part is grossed
// up by the intermediation commission.
func HybridFactor(rpTemporal, annuityDeferred float64, commission decimal.Decimal) (float64, error) {
	if err := checkCommission(commission); err != nil {
		return 0, err
	}
	keep, _ := one.Sub(commission).Float64()
	factor := rpTemporal + annuityDeferred/keep
	if !(factor > 0) {
		return 0, fmt.Errorf("%w: hybrid factor %v", ErrDegenerateFactor, factor)
	}
	return factor, nil
}

// DeductAFPCommission withholds the fund administrator's commission from a
// programmed-withdrawal payment.
func DeductAFPCommission(monthly, rate decimal.Decimal) (net, commission decimal.Decimal) {
	commission = monthly.Mul(rate)
	return monthly.Sub(commission), commission
}

// PayslipLine is a monthly pension expressed in UF and in pesos.
type PayslipLine struct {
	PensionUF decimal.Decimal `json:"pension_uf"`
	GrossCLP  decimal.Decimal `json:"gross_clp"`
	HealthCLP decimal.Decimal `json:"health_clp"`
	NetCLP    decimal.Decimal `json:"net_clp"`
}

// Payslip converts a monthly pension in UF into pesos and withholds the
// health contribution.
func Payslip(monthlyUF, ufValue, healthRate decimal.Decimal) PayslipLine {
	gross := monthlyUF.Mul(ufValue)
	health := gross.Mul(healthRate)
	return PayslipLine{
		PensionUF: monthlyUF,
		GrossCLP:  gross,
		HealthCLP: health,
		NetCLP:    gross.Sub(health),
	}
}

// SurvivorReference returns the reference pension actually paid to
// survivors: what the premium can finance, capped at the legal reference
// pension when one is given. insufficient reports that the balance could not
// finance the legal amount.
func SurvivorReference(financiable, legal decimal.Decimal) (reference decimal.Decimal, insufficient bool) {
	if !legal.IsPositive() {
		return financiable, false
	}
	if financiable.LessThan(legal) {
		return financiable, true
	}
	return legal, false
}

// SurvivorSplit divides the reference pension among beneficiaries by share.
func SurvivorSplit(reference decimal.Decimal, shares []float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(shares))
	for i, s := range shares {
		out[i] = reference.Mul(decimal.NewFromFloat(s))
	}
	return out
}

// QualifiesForEarlyRetirement reports whether a monthly pension reaches the
// required fraction of the ten-year average income.
func QualifiesForEarlyRetirement(monthly, averageIncome decimal.Decimal) bool {
	return monthly.GreaterThanOrEqual(averageIncome.Mul(EarlyRetirementThreshold))
}

// AFPCommissions lists the fund administrators' commission on programmed
// withdrawal payments, in percent.
var AFPCommissions = map[string]decimal.Decimal{
	"CAPITAL":   decimal.RequireFromString("1.25"),
	"CUPRUM":    decimal.RequireFromString("1.25"),
	"HABITAT":   decimal.RequireFromString("0.95"),
	"MODELO":    decimal.RequireFromString("1.20"),
	"PLANVITAL": decimal.RequireFromString("0.00"),
	"PROVIDA":   decimal.RequireFromString("1.25"),
	"UNO":       decimal.RequireFromString("1.20"),
}

// AFPCommissionRate returns the commission of the named administrator as a
// fraction.
func AFPCommissionRate(name string) (decimal.Decimal, bool) {
	pct, ok := AFPCommissions[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return decimal.Zero, false
	}
	return pct.Div(decimal.NewFromInt(100)), true
}

func checkCommission(c decimal.Decimal) error {
	if c.IsNegative() || c.GreaterThanOrEqual(one) {
		return fmt.Errorf("commission %s must be in [0, 1)", c)
	}
	return nil
}

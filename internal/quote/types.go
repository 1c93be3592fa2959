package quote

import (
	"errors"
	"time"

	"github.com/rgehrsitz/annuity/internal/conversion"
	"github.com/rgehrsitz/annuity/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	// ErrNoBeneficiaries is returned for a survivor quote without a spouse
	// or a child.
	ErrNoBeneficiaries = errors.New("survivor pension requires at least one beneficiary")
	// ErrNotEligible is returned when an early old-age pension does not reach
	// the required fraction of the average income.
	ErrNotEligible = errors.New("affiliate does not qualify for the requested pension")
	// ErrCurveUnavailable is returned when curve discounting is requested but
	// no curve was loaded.
	ErrCurveUnavailable = errors.New("no discount curve loaded")
	// ErrSalesRatesUnavailable is returned when sales-rate discounting is
	// requested but no sales-rate report was loaded.
	ErrSalesRatesUnavailable = errors.New("no sales-rate report loaded")
)

// Report is the outcome of one quote request.
type Report struct {
	ID            string                `json:"id"`
	GeneratedAt   time.Time             `json:"generated_at"`
	ValuationDate time.Time             `json:"valuation_date"`
	PensionType   domain.PensionType    `json:"pension_type"`
	Affiliate     domain.Person         `json:"affiliate"`
	Dependents    []domain.Dependent    `json:"dependents,omitempty"`
	BalanceUF     decimal.Decimal       `json:"balance_uf"`
	Premiums      conversion.Premiums   `json:"premiums"`
	UFValueCLP    decimal.Decimal       `json:"uf_value_clp"`
	Discounts     DiscountSummary       `json:"discounts"`
	Eligibility   *EarlyRetirementCheck `json:"eligibility,omitempty"`
	Results       []Result              `json:"results,omitempty"`
	Survivor      *SurvivorResult       `json:"survivor,omitempty"`
	Warnings      []string              `json:"warnings,omitempty"`
}

// DiscountSummary names the discount modes a report was priced with.
type DiscountSummary struct {
	ProgrammedWithdrawal string `json:"programmed_withdrawal"`
	Annuity              string `json:"annuity"`
}

// EarlyRetirementCheck records the gate applied to early old-age pensions.
type EarlyRetirementCheck struct {
	MonthlyUF  decimal.Decimal `json:"monthly_uf"`
	RequiredUF decimal.Decimal `json:"required_uf"`
	Qualifies  bool            `json:"qualifies"`
}

// Result is the priced outcome of one scenario.
type Result struct {
	ID            string              `json:"id"`
	Scenario      string              `json:"scenario"`
	Kind          domain.ScenarioKind `json:"kind"`
	Shape         domain.PayoutShape  `json:"shape"`
	DeferralYears int                 `json:"deferral_years,omitempty"`
	IncreasePct   decimal.Decimal     `json:"increase_pct"`
	Factors       domain.Factors      `json:"factors"`
	// Factor is the divisor actually applied to the premium.
	Factor float64 `json:"factor"`
	Lines  []Line  `json:"lines"`
}

// SurvivorResult is the priced outcome of a survivor quote.
type SurvivorResult struct {
	ID            string          `json:"id"`
	Factor        float64         `json:"factor"`
	FinanciableUF decimal.Decimal `json:"financiable_uf"`
	LegalUF       decimal.Decimal `json:"legal_uf"`
	ReferenceUF   decimal.Decimal `json:"reference_uf"`
	Insufficient  bool            `json:"insufficient"`
	// Discount names the annuity rate the factor was priced at.
	Discount string `json:"discount"`
	Lines    []Line `json:"lines"`
}

// Line is one row of a pay slip.
type Line struct {
	Label            string                 `json:"label"`
	Payslip          conversion.PayslipLine `json:"payslip"`
	AFPCommissionUF  decimal.Decimal        `json:"afp_commission_uf"`
	AFPCommissionCLP decimal.Decimal        `json:"afp_commission_clp"`
}

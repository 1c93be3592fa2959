package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PensionType selects which engine and which gates a quote goes through.
type PensionType string

const (
	PensionOldAge      PensionType = "old_age"
	PensionEarlyOldAge PensionType = "early_old_age"
	PensionDisability  PensionType = "disability"
	PensionSurvivor    PensionType = "survivor"
)

// ScenarioKind identifies a payout modality.
type ScenarioKind string

const (
	// KindProgrammedWithdrawal is paid from the individual account at the
	// flat programmed-withdrawal rate.
	KindProgrammedWithdrawal ScenarioKind = "programmed_withdrawal"
	// KindAnnuity is an immediate life annuity, optionally with a guarantee
	// period and a temporary increase.
	KindAnnuity ScenarioKind = "annuity"
	// KindDeferred is a programmed withdrawal for DeferralYears followed by a
	// deferred life annuity.
	KindDeferred ScenarioKind = "deferred"
)

// Discount modes accepted in DiscountSetting.Mode.
const (
	DiscountModeFlat      = "flat"
	DiscountModeCurve     = "curve"
	DiscountModeSalesRate = "sales_rate"
)

// DefaultInsurer is the sales-rate row used when a request names none.
const DefaultInsurer = "Media Mercado"

// Configuration is a complete quote request.
type Configuration struct {
	ValuationDate *time.Time    `yaml:"valuation_date" json:"valuation_date,omitempty"`
	Tables        TableFiles    `yaml:"tables" json:"tables,omitempty"`
	Affiliate     Affiliate     `yaml:"affiliate" json:"affiliate"`
	Spouse        *Beneficiary  `yaml:"spouse" json:"spouse,omitempty"`
	Children      []Beneficiary `yaml:"children" json:"children,omitempty"`
	Pricing       Pricing       `yaml:"pricing" json:"pricing"`
	Scenarios     []Scenario    `yaml:"scenarios" json:"scenarios"`
}

// TableFiles points at the CSV sources of the mortality and discount tables.
// Relative paths are resolved against DataPath.
type TableFiles struct {
	DataPath      string         `yaml:"data_path" json:"data_path,omitempty"`
	Mortality     MortalityFiles `yaml:"mortality" json:"mortality"`
	DiscountCurve string         `yaml:"discount_curve" json:"discount_curve,omitempty"`
	SalesRates    string         `yaml:"sales_rates" json:"sales_rates,omitempty"`
}

// MortalityFiles lists the four published tables.
type MortalityFiles struct {
	Normal   SexFiles `yaml:"normal" json:"normal"`
	Disabled SexFiles `yaml:"disabled" json:"disabled"`
}

// SexFiles holds one file per sex.
type SexFiles struct {
	Male   string `yaml:"male" json:"male"`
	Female string `yaml:"female" json:"female"`
}

// Affiliate describes the primary beneficiary, or the deceased affiliate
// (causante) in a survivor quote.
type Affiliate struct {
	PensionType        PensionType     `yaml:"pension_type" json:"pension_type"`
	Age                int             `yaml:"age" json:"age"`
	BirthDate          *time.Time      `yaml:"birth_date" json:"birth_date,omitempty"`
	Sex                Sex             `yaml:"sex" json:"sex"`
	BalanceUF          decimal.Decimal `yaml:"balance_uf" json:"balance_uf"`
	AverageIncomeUF    decimal.Decimal `yaml:"average_income_uf" json:"average_income_uf"`
	ReferencePensionUF decimal.Decimal `yaml:"reference_pension_uf" json:"reference_pension_uf"`
}

// AgeAt returns the affiliate's age at the given date, preferring the birth
// date when one was supplied.
func (a Affiliate) AgeAt(at time.Time) int {
	if a.BirthDate == nil {
		return a.Age
	}
	return ageAt(*a.BirthDate, at)
}

// Person converts the affiliate into the engine's primary beneficiary.
func (a Affiliate) Person(at time.Time) Person {
	return Person{
		Age:      a.AgeAt(at),
		Sex:      a.Sex,
		Disabled: a.PensionType == PensionDisability,
	}
}

// Beneficiary is a spouse or child as written in a request file. Share is
// optional and defaults to the statutory share for the role.
type Beneficiary struct {
	Age       int        `yaml:"age" json:"age"`
	BirthDate *time.Time `yaml:"birth_date" json:"birth_date,omitempty"`
	Sex       Sex        `yaml:"sex" json:"sex"`
	Share     *float64   `yaml:"share" json:"share,omitempty"`
	AgeLimit  int        `yaml:"age_limit" json:"age_limit,omitempty"`
	Disabled  bool       `yaml:"disabled" json:"disabled,omitempty"`
}

// AgeAt returns the beneficiary's age at the given date.
func (b Beneficiary) AgeAt(at time.Time) int {
	if b.BirthDate == nil {
		return b.Age
	}
	return ageAt(*b.BirthDate, at)
}

// AsSpouse converts the beneficiary into a spouse dependent.
func (b Beneficiary) AsSpouse(at time.Time) Dependent {
	d := NewSpouse(b.AgeAt(at), b.Sex, b.Disabled)
	if b.Share != nil {
		d.Share = *b.Share
	}
	return d
}

// AsChild converts the beneficiary into a child dependent. Children are
// never priced on the invalidity table.
func (b Beneficiary) AsChild(at time.Time) Dependent {
	limit := b.AgeLimit
	if limit == NoAgeLimit {
		limit = ChildAgeLimitStudent
	}
	d := NewChild(b.AgeAt(at), b.Sex, limit)
	if b.Share != nil {
		d.Share = *b.Share
	}
	return d
}

// Pricing holds the market inputs of a quote.
type Pricing struct {
	// ProgrammedRate is the flat rate used for programmed withdrawals.
	ProgrammedRate decimal.Decimal `yaml:"programmed_rate" json:"programmed_rate"`
	// AnnuityDiscount selects how annuity cash flows are discounted.
	AnnuityDiscount DiscountSetting `yaml:"annuity_discount" json:"annuity_discount"`
	// IntermediationCommission is deducted from the balance before an
	// annuity premium is priced.
	IntermediationCommission decimal.Decimal `yaml:"intermediation_commission" json:"intermediation_commission"`
	// AFP names the fund administrator; its commission applies to
	// programmed-withdrawal payments. AFPCommission overrides the lookup.
	AFP           string           `yaml:"afp" json:"afp,omitempty"`
	AFPCommission *decimal.Decimal `yaml:"afp_commission" json:"afp_commission,omitempty"`
	UFValueCLP    decimal.Decimal  `yaml:"uf_value_clp" json:"uf_value_clp"`
	HealthRate    *decimal.Decimal `yaml:"health_rate" json:"health_rate,omitempty"`
}

// DiscountSetting chooses between a flat annuity rate, the loaded curve and
// the flat rate an insurer sold at. Insurer applies to sales_rate only.
type DiscountSetting struct {
	Mode    string          `yaml:"mode" json:"mode"`
	Rate    decimal.Decimal `yaml:"rate" json:"rate"`
	Insurer string          `yaml:"insurer" json:"insurer,omitempty"`
}

// Scenario is one payout modality to be quoted.
type Scenario struct {
	Name           string          `yaml:"name" json:"name"`
	Kind           ScenarioKind    `yaml:"kind" json:"kind"`
	GuaranteeYears int             `yaml:"guarantee_years" json:"guarantee_years,omitempty"`
	IncreaseYears  int             `yaml:"increase_years" json:"increase_years,omitempty"`
	IncreasePct    decimal.Decimal `yaml:"increase_pct" json:"increase_pct"`
	DeferralYears  int             `yaml:"deferral_years" json:"deferral_years,omitempty"`
}

// Shape returns the payout shape of the scenario.
func (s Scenario) Shape() PayoutShape {
	return PayoutShape{GuaranteeYears: s.GuaranteeYears, IncreaseYears: s.IncreaseYears}
}

// ageAt returns completed years between birth and at.
func ageAt(birth, at time.Time) int {
	age := at.Year() - birth.Year()
	if at.Month() < birth.Month() || (at.Month() == birth.Month() && at.Day() < birth.Day()) {
		age--
	}
	return age
}

package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/rgehrsitz/annuity/internal/conversion"
	"github.com/rgehrsitz/annuity/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ValidationError reports one invalid field of a request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err carries a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// InputParser handles parsing of quote request files
type InputParser struct{}

// NewInputParser creates a new input parser
func NewInputParser() *InputParser {
	return &InputParser{}
}

// LoadFromFile loads a request from a YAML (or JSON) file and validates it.
func (ip *InputParser) LoadFromFile(filename string) (*domain.Configuration, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return ip.Parse(data)
}

// Parse decodes and validates a request document.
func (ip *InputParser) Parse(data []byte) (*domain.Configuration, error) {
	var config domain.Configuration
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	ip.ApplyDefaults(&config)
	if err := ip.ValidateConfiguration(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

// ApplyDefaults fills optional settings left empty in a request.
func (ip *InputParser) ApplyDefaults(config *domain.Configuration) {
	d := &config.Pricing.AnnuityDiscount
	if d.Mode == "" {
		d.Mode = domain.DiscountModeFlat
		switch {
		case !d.Rate.IsZero():
		case config.Tables.DiscountCurve != "":
			d.Mode = domain.DiscountModeCurve
		case config.Tables.SalesRates != "":
			d.Mode = domain.DiscountModeSalesRate
		}
	}
	if d.Mode == domain.DiscountModeSalesRate && d.Insurer == "" {
		d.Insurer = domain.DefaultInsurer
	}
	if config.Pricing.HealthRate == nil {
		rate := conversion.DefaultHealthRate
		config.Pricing.HealthRate = &rate
	}
	for i := range config.Scenarios {
		if config.Scenarios[i].Name == "" {
			config.Scenarios[i].Name = fmt.Sprintf("%s-%d", config.Scenarios[i].Kind, i+1)
		}
	}
}

// ValidateConfiguration validates a decoded request. Table files are checked
// separately by ValidateTables since a server supplies them itself.
func (ip *InputParser) ValidateConfiguration(config *domain.Configuration) error {
	if err := ip.validateAffiliate(config); err != nil {
		return err
	}
	if err := ip.validateBeneficiaries(config); err != nil {
		return err
	}
	if err := ip.validatePricing(&config.Pricing); err != nil {
		return err
	}
	if config.Affiliate.PensionType == domain.PensionSurvivor {
		return nil
	}
	if len(config.Scenarios) == 0 {
		return invalid("scenarios", "no scenarios provided")
	}
	seen := make(map[string]bool, len(config.Scenarios))
	for i, scenario := range config.Scenarios {
		if seen[scenario.Name] {
			return invalid(fmt.Sprintf("scenarios[%d].name", i), "duplicate scenario name %q", scenario.Name)
		}
		seen[scenario.Name] = true
		if err := ip.validateScenario(i, &scenario); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTables checks that every table file needed by the request is named.
func (ip *InputParser) ValidateTables(config *domain.Configuration) error {
	m := config.Tables.Mortality
	for _, f := range []struct{ field, file string }{
		{"tables.mortality.normal.male", m.Normal.Male},
		{"tables.mortality.normal.female", m.Normal.Female},
		{"tables.mortality.disabled.male", m.Disabled.Male},
		{"tables.mortality.disabled.female", m.Disabled.Female},
	} {
		if f.file == "" {
			return invalid(f.field, "mortality table file is required")
		}
	}
	if config.Pricing.AnnuityDiscount.Mode == domain.DiscountModeCurve && config.Tables.DiscountCurve == "" {
		return invalid("tables.discount_curve", "curve discounting requires a discount curve file")
	}
	if config.Pricing.AnnuityDiscount.Mode == domain.DiscountModeSalesRate && config.Tables.SalesRates == "" {
		return invalid("tables.sales_rates", "sales-rate discounting requires a sales-rate report")
	}
	return nil
}

func (ip *InputParser) validateAffiliate(config *domain.Configuration) error {
	a := config.Affiliate
	switch a.PensionType {
	case domain.PensionOldAge, domain.PensionEarlyOldAge, domain.PensionDisability, domain.PensionSurvivor:
	case "":
		return invalid("affiliate.pension_type", "pension type is required")
	default:
		return invalid("affiliate.pension_type", "unknown pension type %q", a.PensionType)
	}

	if a.BirthDate != nil {
		if config.ValuationDate != nil && a.BirthDate.After(*config.ValuationDate) {
			return invalid("affiliate.birth_date", "birth date is after the valuation date")
		}
	} else if a.PensionType != domain.PensionSurvivor && (a.Age <= 0 || a.Age > domain.MaxTabledAge) {
		return invalid("affiliate.age", "age %d must be between 1 and %d", a.Age, domain.MaxTabledAge)
	}

	if !a.BalanceUF.IsPositive() {
		return invalid("affiliate.balance_uf", "balance must be positive")
	}
	if a.PensionType == domain.PensionEarlyOldAge && !a.AverageIncomeUF.IsPositive() {
		return invalid("affiliate.average_income_uf", "early old-age pensions require the ten-year average income")
	}
	if a.ReferencePensionUF.IsNegative() {
		return invalid("affiliate.reference_pension_uf", "reference pension cannot be negative")
	}
	return nil
}

func (ip *InputParser) validateBeneficiaries(config *domain.Configuration) error {
	if config.Affiliate.PensionType == domain.PensionSurvivor && config.Spouse == nil && len(config.Children) == 0 {
		return invalid("spouse", "a survivor pension requires at least one beneficiary")
	}
	if config.Spouse != nil {
		if err := validateBeneficiary("spouse", *config.Spouse); err != nil {
			return err
		}
	}
	for i, child := range config.Children {
		field := fmt.Sprintf("children[%d]", i)
		if err := validateBeneficiary(field, child); err != nil {
			return err
		}
		switch child.AgeLimit {
		case domain.NoAgeLimit, domain.ChildAgeLimitMinor, domain.ChildAgeLimitStudent:
		default:
			return invalid(field+".age_limit", "age limit %d must be %d or %d", child.AgeLimit, domain.ChildAgeLimitMinor, domain.ChildAgeLimitStudent)
		}
	}
	return nil
}

func validateBeneficiary(field string, b domain.Beneficiary) error {
	if b.BirthDate == nil && (b.Age < 0 || b.Age > domain.MaxTabledAge) {
		return invalid(field+".age", "age %d must be between 0 and %d", b.Age, domain.MaxTabledAge)
	}
	if b.Share != nil && (*b.Share < 0 || *b.Share > 1) {
		return invalid(field+".share", "share %v must be between 0 and 1", *b.Share)
	}
	return nil
}

func (ip *InputParser) validatePricing(p *domain.Pricing) error {
	minusOne := decimal.NewFromInt(-1)
	if p.ProgrammedRate.LessThanOrEqual(minusOne) {
		return invalid("pricing.programmed_rate", "rate must be greater than -1")
	}

	switch p.AnnuityDiscount.Mode {
	case domain.DiscountModeFlat:
		if p.AnnuityDiscount.Rate.LessThanOrEqual(minusOne) {
			return invalid("pricing.annuity_discount.rate", "rate must be greater than -1")
		}
	case domain.DiscountModeCurve, domain.DiscountModeSalesRate:
	default:
		return invalid("pricing.annuity_discount.mode", "unknown discount mode %q (valid: flat, curve, sales_rate)", p.AnnuityDiscount.Mode)
	}

	if p.IntermediationCommission.IsNegative() || p.IntermediationCommission.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return invalid("pricing.intermediation_commission", "commission must be in [0, 1)")
	}
	if p.AFPCommission != nil {
		if p.AFPCommission.IsNegative() || p.AFPCommission.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return invalid("pricing.afp_commission", "commission must be in [0, 1)")
		}
	} else if p.AFP != "" {
		if _, ok := conversion.AFPCommissionRate(p.AFP); !ok {
			return invalid("pricing.afp", "unknown fund administrator %q", p.AFP)
		}
	}
	if !p.UFValueCLP.IsPositive() {
		return invalid("pricing.uf_value_clp", "UF value must be positive")
	}
	if p.HealthRate != nil && (p.HealthRate.IsNegative() || p.HealthRate.GreaterThan(decimal.NewFromInt(1))) {
		return invalid("pricing.health_rate", "health rate must be between 0 and 1")
	}
	return nil
}

func (ip *InputParser) validateScenario(index int, s *domain.Scenario) error {
	field := fmt.Sprintf("scenarios[%d]", index)
	if s.GuaranteeYears < 0 {
		return invalid(field+".guarantee_years", "cannot be negative")
	}
	if s.IncreaseYears < 0 {
		return invalid(field+".increase_years", "cannot be negative")
	}
	if s.DeferralYears < 0 {
		return invalid(field+".deferral_years", "cannot be negative")
	}
	if s.IncreasePct.IsNegative() {
		return invalid(field+".increase_pct", "cannot be negative")
	}

	switch s.Kind {
	case domain.KindProgrammedWithdrawal:
		if s.GuaranteeYears > 0 || s.IncreaseYears > 0 || s.DeferralYears > 0 {
			return invalid(field, "a programmed withdrawal has no guarantee, increase or deferral")
		}
	case domain.KindAnnuity:
		if s.IncreaseYears > 0 && s.IncreasePct.IsZero() {
			return invalid(field+".increase_pct", "an increase window needs an increase percentage")
		}
	case domain.KindDeferred:
		if s.DeferralYears == 0 {
			return invalid(field+".deferral_years", "a deferred annuity needs at least one year of deferral")
		}
		if s.GuaranteeYears > 0 || s.IncreaseYears > 0 {
			return invalid(field, "a deferred annuity has no guarantee or increase")
		}
	case "":
		return invalid(field+".kind", "scenario kind is required")
	default:
		return invalid(field+".kind", "unknown scenario kind %q", s.Kind)
	}
	return nil
}

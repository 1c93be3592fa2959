package quote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rgehrsitz/annuity/internal/actuarial"
	"github.com/rgehrsitz/annuity/internal/conversion"
	"github.com/rgehrsitz/annuity/internal/discount"
	"github.com/rgehrsitz/annuity/internal/domain"
	"github.com/rgehrsitz/annuity/internal/mortality"
	"github.com/rgehrsitz/annuity/internal/tables"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(t *testing.T, withCurve bool) *tables.Snapshot {
	t.Helper()
	series := func(p float64) mortality.Series {
		s := mortality.Series{}
		for age := 0; age < domain.MaxTabledAge; age++ {
			s[age] = p
		}
		return s
	}
	table, err := mortality.NewTable(map[mortality.Key]mortality.Series{
		{Category: domain.Normal, Sex: domain.Male}:     series(0.95),
		{Category: domain.Normal, Sex: domain.Female}:   series(0.97),
		{Category: domain.Disabled, Sex: domain.Male}:   series(0.90),
		{Category: domain.Disabled, Sex: domain.Female}: series(0.92),
	})
	require.NoError(t, err)

	snap := &tables.Snapshot{Mortality: table}
	if withCurve {
		curve, err := discount.NewCurve(map[int]float64{1: 0.025, 5: 0.03, 20: 0.0341})
		require.NoError(t, err)
		snap.Curve = curve.ExtendFlat(domain.MaxTabledAge)
	}
	return snap
}

func testEngine(t *testing.T, withCurve bool) *Engine {
	t.Helper()
	e := NewEngine(testSnapshot(t, withCurve))
	e.now = func() time.Time { return time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC) }
	return e
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func oldAgeConfig() *domain.Configuration {
	return &domain.Configuration{
		Affiliate: domain.Affiliate{
			PensionType: domain.PensionOldAge,
			Age:         65,
			Sex:         domain.Male,
			BalanceUF:   decimal.NewFromInt(3000),
		},
		Spouse: &domain.Beneficiary{Age: 62, Sex: domain.Female},
		Pricing: domain.Pricing{
			ProgrammedRate:           dec(0.0391),
			AnnuityDiscount:          domain.DiscountSetting{Mode: domain.DiscountModeFlat, Rate: dec(0.0341)},
			IntermediationCommission: dec(0.02),
			AFP:                      "habitat",
			UFValueCLP:               decimal.NewFromInt(39000),
		},
		Scenarios: []domain.Scenario{
			{Name: "rp", Kind: domain.KindProgrammedWithdrawal},
			{Name: "simple", Kind: domain.KindAnnuity},
			{Name: "guaranteed", Kind: domain.KindAnnuity, GuaranteeYears: 10},
			{Name: "increase", Kind: domain.KindAnnuity, IncreaseYears: 3, IncreasePct: dec(0.5)},
			{Name: "rp-rvd", Kind: domain.KindDeferred, DeferralYears: 2},
		},
	}
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

type recordingMetrics struct {
	mu    sync.Mutex
	kinds []string
}

func (m *recordingMetrics) ObserveScenario(kind string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kinds = append(m.kinds, kind)
}

func TestRun_OldAgeScenarios(t *testing.T) {
	e := testEngine(t, false)
	metrics := &recordingMetrics{}
	e.SetMetrics(metrics)
	cfg := oldAgeConfig()

	report, err := e.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, domain.PensionOldAge, report.PensionType)
	assert.Equal(t, 65, report.Affiliate.Age)
	require.Len(t, report.Dependents, 1)
	assert.Equal(t, domain.DefaultSpouseShare, report.Dependents[0].Share)
	assert.InDelta(t, 2940, toFloat(report.Premiums.Annuity), 1e-9)
	assert.Equal(t, "flat 3.4100%", report.Discounts.Annuity)
	assert.Len(t, metrics.kinds, len(cfg.Scenarios))

	require.Len(t, report.Results, len(cfg.Scenarios))
	ids := map[string]bool{}
	for i, res := range report.Results {
		assert.Equal(t, cfg.Scenarios[i].Name, res.Scenario, "results keep scenario order")
		assert.NotEmpty(t, res.ID)
		assert.False(t, ids[res.ID])
		ids[res.ID] = true
		assert.Greater(t, res.Factor, 0.0)
	}

	// The simple annuity matches a direct engine call.
	spouse := domain.NewSpouse(62, domain.Female, false)
	direct, err := e.Actuarial().JointLife(actuarial.JointLifeInput{
		Primary:  &domain.Person{Age: 65, Sex: domain.Male},
		Spouse:   &spouse,
		Discount: discount.Flat{Rate: 0.0341},
	})
	require.NoError(t, err)
	simple := report.Results[1]
	assert.Equal(t, direct, simple.Factors)
	require.Len(t, simple.Lines, 1)
	assert.InDelta(t, 2940/direct.Total()/12, toFloat(simple.Lines[0].Payslip.PensionUF), 1e-9)
	assert.True(t, simple.Lines[0].AFPCommissionUF.IsZero(), "annuities pay no AFP commission")

	guaranteed := report.Results[2]
	assert.GreaterOrEqual(t, guaranteed.Factor, simple.Factor)

	increase := report.Results[3]
	require.Len(t, increase.Lines, 2)
	assert.Equal(t, "increased pension (months 1-36)", increase.Lines[0].Label)
	assert.Greater(t, increase.Factors.Temporal, 0.0)
	assert.InDelta(t, toFloat(increase.Lines[1].Payslip.PensionUF)*1.5, toFloat(increase.Lines[0].Payslip.PensionUF), 1e-9)

	rp := report.Results[0]
	require.Len(t, rp.Lines, 1)
	rate, _ := conversion.AFPCommissionRate("habitat")
	gross := 3000 / rp.Factor / 12
	assert.InDelta(t, gross*toFloat(rate), toFloat(rp.Lines[0].AFPCommissionUF), 1e-9)
	assert.InDelta(t, gross*(1-toFloat(rate)), toFloat(rp.Lines[0].Payslip.PensionUF), 1e-9)
	assert.InDelta(t, toFloat(rp.Lines[0].AFPCommissionUF)*39000, toFloat(rp.Lines[0].AFPCommissionCLP), 1e-6)
}

func TestRun_DeferredUsesHybridFactor(t *testing.T) {
	e := testEngine(t, false)
	report, err := e.Run(context.Background(), oldAgeConfig())
	require.NoError(t, err)

	res := report.Results[4]
	hybrid, err := conversion.HybridFactor(res.Factors.Temporal, res.Factors.Deferred, dec(0.02))
	require.NoError(t, err)
	assert.Equal(t, hybrid, res.Factor)

	require.Len(t, res.Lines, 2)
	assert.Equal(t, "programmed withdrawal (years 1-2)", res.Lines[0].Label)
	assert.Equal(t, "deferred annuity (from year 3)", res.Lines[1].Label)
	assert.True(t, res.Lines[0].AFPCommissionUF.IsPositive())
	assert.True(t, res.Lines[1].AFPCommissionUF.IsZero())
	assert.InDelta(t, 3000/hybrid/12, toFloat(res.Lines[1].Payslip.PensionUF), 1e-9)
}

func TestRun_CurveDiscount(t *testing.T) {
	cfg := oldAgeConfig()
	cfg.Pricing.AnnuityDiscount = domain.DiscountSetting{Mode: domain.DiscountModeCurve}

	_, err := testEngine(t, false).Run(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrCurveUnavailable)

	report, err := testEngine(t, true).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Contains(t, report.Discounts.Annuity, "curve")
}

func withSalesRates(t *testing.T, e *Engine) *Engine {
	t.Helper()
	rates, err := tables.NewSalesRates([]tables.SalesRate{
		{Insurer: domain.DefaultInsurer, OldAge: 0.0325, Disability: 0.0307},
		{Insurer: "Penta", OldAge: 0.0330, Disability: 0.0311},
	})
	require.NoError(t, err)
	e.snapshot.SalesRates = rates
	return e
}

func TestDiscountMode_SalesRate(t *testing.T) {
	e := withSalesRates(t, testEngine(t, false))

	tests := []struct {
		name    string
		insurer string
		pension domain.PensionType
		rate    float64
		label   string
	}{
		{"default insurer old age", "", domain.PensionOldAge, 0.0325, "Media Mercado, old-age"},
		{"early old age uses old-age column", "Media Mercado", domain.PensionEarlyOldAge, 0.0325, "old-age"},
		{"survivor uses old-age column", "penta", domain.PensionSurvivor, 0.0330, "Penta, old-age"},
		{"disability column", "Penta", domain.PensionDisability, 0.0311, "Penta, disability"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, err := e.DiscountMode(domain.DiscountSetting{Mode: domain.DiscountModeSalesRate, Insurer: tt.insurer}, tt.pension)
			require.NoError(t, err)
			assert.InDelta(t, 1/(1+tt.rate), mode.Factor(1), 1e-12)
			assert.Contains(t, mode.Name(), tt.label)
		})
	}
}

func TestDiscountMode_SalesRateErrors(t *testing.T) {
	setting := domain.DiscountSetting{Mode: domain.DiscountModeSalesRate, Insurer: "Penta"}
	_, err := testEngine(t, false).DiscountMode(setting, domain.PensionOldAge)
	assert.ErrorIs(t, err, ErrSalesRatesUnavailable)

	setting.Insurer = "Nowhere Life"
	_, err = withSalesRates(t, testEngine(t, false)).DiscountMode(setting, domain.PensionOldAge)
	require.ErrorIs(t, err, actuarial.ErrInvalidInput)
	assert.Contains(t, err.Error(), "Nowhere Life")
	assert.Contains(t, err.Error(), "Penta")
}

func TestRun_SalesRateDiscount(t *testing.T) {
	e := withSalesRates(t, testEngine(t, false))
	flat := oldAgeConfig()
	flat.Pricing.AnnuityDiscount = domain.DiscountSetting{Mode: domain.DiscountModeFlat, Rate: dec(0.0311)}
	sales := oldAgeConfig()
	sales.Affiliate.PensionType = domain.PensionDisability
	flat.Affiliate.PensionType = domain.PensionDisability
	sales.Pricing.AnnuityDiscount = domain.DiscountSetting{Mode: domain.DiscountModeSalesRate, Insurer: "Penta"}

	want, err := e.Run(context.Background(), flat)
	require.NoError(t, err)
	got, err := e.Run(context.Background(), sales)
	require.NoError(t, err)
	assert.Contains(t, got.Discounts.Annuity, "Penta, disability sales rate")
	assert.InDelta(t, want.Results[1].Factor, got.Results[1].Factor, 1e-12)

	cfg := survivorConfig()
	cfg.Affiliate.ReferencePensionUF = decimal.NewFromInt(1)
	cfg.Pricing.AnnuityDiscount = domain.DiscountSetting{Mode: domain.DiscountModeSalesRate}
	report, err := e.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "flat 3.2500% (Media Mercado, old-age sales rate)", report.Survivor.Discount)
}

func TestRun_EarlyOldAgeGate(t *testing.T) {
	e := testEngine(t, false)

	cfg := oldAgeConfig()
	cfg.Affiliate.PensionType = domain.PensionEarlyOldAge
	cfg.Affiliate.AverageIncomeUF = decimal.NewFromInt(10)
	report, err := e.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, report.Eligibility)
	assert.True(t, report.Eligibility.Qualifies)
	assert.InDelta(t, 8, toFloat(report.Eligibility.RequiredUF), 1e-12)

	cfg.Affiliate.AverageIncomeUF = decimal.NewFromInt(100)
	_, err = e.Run(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotEligible))
}

func TestRun_DisabilityUsesInvalidityTable(t *testing.T) {
	e := testEngine(t, false)
	oldAge, err := e.Run(context.Background(), oldAgeConfig())
	require.NoError(t, err)

	cfg := oldAgeConfig()
	cfg.Affiliate.PensionType = domain.PensionDisability
	disability, err := e.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.True(t, disability.Affiliate.Disabled)
	assert.Less(t, disability.Results[1].Factor, oldAge.Results[1].Factor)
}

func survivorConfig() *domain.Configuration {
	cfg := oldAgeConfig()
	cfg.Affiliate.PensionType = domain.PensionSurvivor
	cfg.Scenarios = nil
	cfg.Children = []domain.Beneficiary{{Age: 10, Sex: domain.Male, AgeLimit: 18}}
	return cfg
}

func TestRun_Survivor(t *testing.T) {
	e := testEngine(t, false)
	cfg := survivorConfig()
	cfg.Affiliate.ReferencePensionUF = decimal.NewFromInt(1)

	report, err := e.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, report.Survivor)
	assert.Empty(t, report.Results)

	s := report.Survivor
	assert.Greater(t, s.Factor, 0.0)
	assert.False(t, s.Insufficient)
	assert.True(t, s.ReferenceUF.Equal(decimal.NewFromInt(1)), "legal pension caps the reference")
	assert.InDelta(t, 2940/s.Factor/12, toFloat(s.FinanciableUF), 1e-9)

	require.Len(t, s.Lines, 2)
	assert.Equal(t, "spouse (60%)", s.Lines[0].Label)
	assert.Equal(t, "child 1 (15%)", s.Lines[1].Label)
	assert.InDelta(t, 0.60, toFloat(s.Lines[0].Payslip.PensionUF), 1e-12)
	assert.InDelta(t, 0.15, toFloat(s.Lines[1].Payslip.PensionUF), 1e-12)
	assert.Equal(t, "flat 3.4100%", s.Discount)
	assert.Empty(t, report.Warnings)
}

func TestRun_SurvivorInsufficientBalance(t *testing.T) {
	e := testEngine(t, false)
	cfg := survivorConfig()
	cfg.Affiliate.ReferencePensionUF = decimal.NewFromInt(1000)

	report, err := e.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, report.Survivor.Insufficient)
	assert.True(t, report.Survivor.ReferenceUF.Equal(report.Survivor.FinanciableUF))
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "insufficient balance")
}

func TestRun_SurvivorWithoutBeneficiaries(t *testing.T) {
	cfg := survivorConfig()
	cfg.Spouse, cfg.Children = nil, nil

	_, err := testEngine(t, false).Run(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrNoBeneficiaries)
}

func TestRun_SurvivorWithNoEligibleDependent(t *testing.T) {
	cfg := survivorConfig()
	cfg.Spouse = nil
	cfg.Children = []domain.Beneficiary{{Age: 20, Sex: domain.Female, AgeLimit: 18}}

	_, err := testEngine(t, false).Run(context.Background(), cfg)
	assert.ErrorIs(t, err, conversion.ErrDegenerateFactor)
}

func TestRun_UsesValuationDate(t *testing.T) {
	cfg := oldAgeConfig()
	birth := time.Date(1950, 6, 30, 0, 0, 0, 0, time.UTC)
	valuation := time.Date(2020, 6, 29, 0, 0, 0, 0, time.UTC)
	cfg.Affiliate.BirthDate = &birth
	cfg.ValuationDate = &valuation

	report, err := testEngine(t, false).Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 69, report.Affiliate.Age)
	assert.Equal(t, valuation, report.ValuationDate)
}

func TestEvaluateBatch_PreservesOrder(t *testing.T) {
	e := testEngine(t, false)
	var candidates []Candidate
	for age := 50; age <= 100; age += 5 {
		candidates = append(candidates, Candidate{
			Name: "age",
			JointLife: &actuarial.JointLifeInput{
				Primary:  &domain.Person{Age: age, Sex: domain.Female},
				Discount: discount.Flat{Rate: 0.03},
			},
		})
	}
	candidates = append(candidates, Candidate{
		Name:     "survivor",
		Survivor: &actuarial.SurvivorInput{Spouse: &domain.Dependent{Age: 60, Share: 0.6}, Discount: discount.Flat{Rate: 0.03}},
	})

	out, err := e.EvaluateBatch(context.Background(), candidates)
	require.NoError(t, err)
	require.Len(t, out, len(candidates))

	for i := 1; i < len(out)-1; i++ {
		assert.Less(t, out[i].Factors.Total(), out[i-1].Factors.Total(), "older primaries have smaller factors")
	}
	last := out[len(out)-1]
	assert.Equal(t, "survivor", last.Name)
	assert.Equal(t, 0.0, last.Factors.Temporal)
	assert.Greater(t, last.Factors.Deferred, 0.0)
}

func TestEvaluateBatch_Errors(t *testing.T) {
	e := testEngine(t, false)

	_, err := e.EvaluateBatch(context.Background(), []Candidate{{Name: "empty"}})
	assert.ErrorIs(t, err, actuarial.ErrInvalidInput)

	_, err = e.EvaluateBatch(context.Background(), []Candidate{{
		Name:      "no primary",
		JointLife: &actuarial.JointLifeInput{Discount: discount.Flat{Rate: 0.03}},
	}})
	assert.ErrorIs(t, err, actuarial.ErrInvalidInput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.EvaluateBatch(ctx, []Candidate{{
		Name:      "cancelled",
		JointLife: &actuarial.JointLifeInput{Primary: &domain.Person{Age: 65}, Discount: discount.Flat{Rate: 0.03}},
	}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_SetLogger(t *testing.T) {
	e := testEngine(t, false)
	e.SetLogger(nil)
	assert.IsType(t, actuarial.NopLogger{}, e.logger)
	assert.IsType(t, actuarial.NopLogger{}, e.Actuarial().Logger)
}

func TestSchedule_MatchesPricedFactors(t *testing.T) {
	e := testEngine(t, false)
	cfg := oldAgeConfig()
	report, err := e.Run(context.Background(), cfg)
	require.NoError(t, err)

	for _, res := range report.Results {
		if res.Kind == domain.KindDeferred {
			continue
		}
		periods, err := e.Schedule(cfg, res.Scenario)
		require.NoError(t, err, res.Scenario)

		var temporal, deferred float64
		for _, p := range periods {
			if p.Temporal {
				temporal += p.PresentValue
			} else {
				deferred += p.PresentValue
			}
		}
		assert.InDelta(t, res.Factors.Temporal, temporal, 1e-9, res.Scenario)
		assert.InDelta(t, res.Factors.Deferred, deferred, 1e-9, res.Scenario)
	}
}

func TestSchedule_DeferredWalksAnnuityLeg(t *testing.T) {
	e := testEngine(t, false)
	periods, err := e.Schedule(oldAgeConfig(), "rp-rvd")
	require.NoError(t, err)
	require.NotEmpty(t, periods)
	assert.True(t, periods[0].Temporal)
	assert.True(t, periods[1].Temporal)
	assert.False(t, periods[2].Temporal)
	assert.InDelta(t, 1/1.0341, periods[1].Discount, 1e-12)
}

func TestSchedule_Survivor(t *testing.T) {
	e := testEngine(t, false)
	cfg := survivorConfig()
	periods, err := e.Schedule(cfg, "")
	require.NoError(t, err)
	assert.Len(t, periods, domain.MaxTabledAge+1)

	report, err := e.Run(context.Background(), cfg)
	require.NoError(t, err)
	var sum float64
	for _, p := range periods {
		sum += p.PresentValue
	}
	assert.InDelta(t, report.Survivor.Factor, sum, 1e-9)
}

func TestSchedule_UnknownScenario(t *testing.T) {
	_, err := testEngine(t, false).Schedule(oldAgeConfig(), "missing")
	assert.ErrorIs(t, err, actuarial.ErrInvalidInput)
}

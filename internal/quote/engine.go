// Package quote assembles engine calls for a request: it builds the
// beneficiaries, picks the discount mode of every scenario, runs the
// scenarios concurrently and converts the factors into pay slips.
package quote

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rgehrsitz/annuity/internal/actuarial"
	"github.com/rgehrsitz/annuity/internal/conversion"
	"github.com/rgehrsitz/annuity/internal/discount"
	"github.com/rgehrsitz/annuity/internal/domain"
	"github.com/rgehrsitz/annuity/internal/tables"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Metrics receives the latency of every priced scenario.
type Metrics interface {
	ObserveScenario(kind string, d time.Duration)
}

// Engine prices quote requests against one table snapshot.
type Engine struct {
	snapshot  *tables.Snapshot
	actuarial *actuarial.Engine
	logger    actuarial.Logger
	metrics   Metrics
	now       func() time.Time
}

// NewEngine creates a quote engine over a loaded snapshot.
func NewEngine(snapshot *tables.Snapshot) *Engine {
	return &Engine{
		snapshot:  snapshot,
		actuarial: actuarial.NewEngine(snapshot.Mortality),
		logger:    actuarial.NopLogger{},
		now:       time.Now,
	}
}

// SetLogger sets the logger of the quote engine and the engine under it.
func (e *Engine) SetLogger(l actuarial.Logger) {
	if l == nil {
		l = actuarial.NopLogger{}
	}
	e.logger = l
	e.actuarial.SetLogger(l)
}

// SetMetrics attaches a metrics sink; nil disables it.
func (e *Engine) SetMetrics(m Metrics) {
	e.metrics = m
}

// Actuarial exposes the underlying factor engine.
func (e *Engine) Actuarial() *actuarial.Engine {
	return e.actuarial
}

// Candidate is one independent engine call of a batch. Exactly one of
// JointLife and Survivor is set.
type Candidate struct {
	Name      string
	JointLife *actuarial.JointLifeInput
	Survivor  *actuarial.SurvivorInput
}

// Evaluation is the factor set of one candidate. Survivor candidates report
// their factor as Deferred.
type Evaluation struct {
	Name    string
	Factors domain.Factors
}

// EvaluateBatch runs every candidate concurrently and returns the factors in
// input order. The first failure cancels the rest.
func (e *Engine) EvaluateBatch(ctx context.Context, candidates []Candidate) ([]Evaluation, error) {
	out := make([]Evaluation, len(candidates))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, c := range candidates {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := e.evaluate(c)
			if err != nil {
				return fmt.Errorf("candidate %q: %w", c.Name, err)
			}
			out[i] = Evaluation{Name: c.Name, Factors: f}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) evaluate(c Candidate) (domain.Factors, error) {
	switch {
	case c.JointLife != nil && c.Survivor == nil:
		return e.actuarial.JointLife(*c.JointLife)
	case c.Survivor != nil && c.JointLife == nil:
		f, err := e.actuarial.Survivor(*c.Survivor)
		return domain.Factors{Deferred: f}, err
	default:
		return domain.Factors{}, fmt.Errorf("%w: candidate must set exactly one calculation", actuarial.ErrInvalidInput)
	}
}

// request is the resolved form of a configuration, shared read-only by the
// scenario goroutines.
type request struct {
	cfg        *domain.Configuration
	at         time.Time
	primary    domain.Person
	spouse     *domain.Dependent
	children   []domain.Dependent
	premiums   conversion.Premiums
	programmed discount.Mode
	annuity    discount.Mode
	afpRate    decimal.Decimal
	healthRate decimal.Decimal
}

// Run prices every scenario of a validated request, or the survivor pension
// when the request is for one.
func (e *Engine) Run(ctx context.Context, cfg *domain.Configuration) (*Report, error) {
	req, err := e.resolve(cfg)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ID:            uuid.NewString(),
		GeneratedAt:   e.now(),
		ValuationDate: req.at,
		PensionType:   cfg.Affiliate.PensionType,
		Affiliate:     req.primary,
		BalanceUF:     cfg.Affiliate.BalanceUF,
		Premiums:      req.premiums,
		UFValueCLP:    cfg.Pricing.UFValueCLP,
		Discounts: DiscountSummary{
			ProgrammedWithdrawal: req.programmed.Name(),
			Annuity:              req.annuity.Name(),
		},
	}
	if req.spouse != nil {
		report.Dependents = append(report.Dependents, *req.spouse)
	}
	report.Dependents = append(report.Dependents, req.children...)

	if cfg.Affiliate.PensionType == domain.PensionSurvivor {
		survivor, warnings, err := e.priceSurvivor(req)
		if err != nil {
			return nil, err
		}
		report.Survivor = survivor
		report.Warnings = append(report.Warnings, warnings...)
		e.logger.Infof("quote %s: survivor factor %.6f, reference %s UF", report.ID, survivor.Factor, survivor.ReferenceUF.StringFixed(2))
		return report, nil
	}

	if cfg.Affiliate.PensionType == domain.PensionEarlyOldAge {
		check, err := e.checkEarlyRetirement(req)
		if err != nil {
			return nil, err
		}
		report.Eligibility = check
		if !check.Qualifies {
			return nil, fmt.Errorf("%w: annuity of %s UF is below %s UF (80%% of the average income)",
				ErrNotEligible, check.MonthlyUF.StringFixed(2), check.RequiredUF.StringFixed(2))
		}
	}

	results := make([]Result, len(cfg.Scenarios))
	g, gctx := errgroup.WithContext(ctx)
	for i, scenario := range cfg.Scenarios {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			res, err := e.priceScenario(req, scenario)
			if e.metrics != nil {
				e.metrics.ObserveScenario(string(scenario.Kind), time.Since(start))
			}
			if err != nil {
				return fmt.Errorf("scenario %q: %w", scenario.Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Results = results
	e.logger.Infof("quote %s: priced %d scenarios for a %s pension", report.ID, len(results), cfg.Affiliate.PensionType)
	return report, nil
}

func (e *Engine) resolve(cfg *domain.Configuration) (*request, error) {
	req := &request{cfg: cfg, at: e.now()}
	if cfg.ValuationDate != nil {
		req.at = *cfg.ValuationDate
	}

	req.primary = cfg.Affiliate.Person(req.at)
	if cfg.Spouse != nil {
		s := cfg.Spouse.AsSpouse(req.at)
		req.spouse = &s
	}
	for _, c := range cfg.Children {
		req.children = append(req.children, c.AsChild(req.at))
	}
	if cfg.Affiliate.PensionType == domain.PensionSurvivor && req.spouse == nil && len(req.children) == 0 {
		return nil, ErrNoBeneficiaries
	}

	premiums, err := conversion.NetPremiums(cfg.Affiliate.BalanceUF, cfg.Pricing.IntermediationCommission)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", actuarial.ErrInvalidInput, err)
	}
	req.premiums = premiums

	// Rates are priced in float64; the exactness flag is not needed.
	programmedRate, _ := cfg.Pricing.ProgrammedRate.Float64()
	if req.programmed, err = discount.NewFlat(programmedRate); err != nil {
		return nil, fmt.Errorf("%w: programmed rate: %v", actuarial.ErrInvalidInput, err)
	}
	if req.annuity, err = e.DiscountMode(cfg.Pricing.AnnuityDiscount, cfg.Affiliate.PensionType); err != nil {
		return nil, err
	}

	switch {
	case cfg.Pricing.AFPCommission != nil:
		req.afpRate = *cfg.Pricing.AFPCommission
	case cfg.Pricing.AFP != "":
		req.afpRate, _ = conversion.AFPCommissionRate(cfg.Pricing.AFP)
	}
	req.healthRate = conversion.DefaultHealthRate
	if cfg.Pricing.HealthRate != nil {
		req.healthRate = *cfg.Pricing.HealthRate
	}
	return req, nil
}

// DiscountMode resolves a discount setting against the bound snapshot. A
// sales rate is read from the insurer's disability column for disability
// pensions and from its old-age column otherwise.
func (e *Engine) DiscountMode(s domain.DiscountSetting, pension domain.PensionType) (discount.Mode, error) {
	switch s.Mode {
	case domain.DiscountModeCurve:
		if e.snapshot.Curve == nil {
			return nil, ErrCurveUnavailable
		}
		return e.snapshot.Curve, nil
	case domain.DiscountModeSalesRate:
		return e.salesRate(s.Insurer, pension)
	case domain.DiscountModeFlat, "":
		// Loss of precision below float64 is accepted for a discount rate.
		rate, _ := s.Rate.Float64()
		flat, err := discount.NewFlat(rate)
		if err != nil {
			return nil, fmt.Errorf("%w: annuity rate: %v", actuarial.ErrInvalidInput, err)
		}
		return flat, nil
	default:
		return nil, fmt.Errorf("%w: unknown discount mode %q", actuarial.ErrInvalidInput, s.Mode)
	}
}

// salesRateMode is a flat rate taken from the sales-rate report.
type salesRateMode struct {
	discount.Flat
	insurer string
	column  string
}

func (m salesRateMode) Name() string {
	return fmt.Sprintf("%s (%s, %s sales rate)", m.Flat.Name(), m.insurer, m.column)
}

func (e *Engine) salesRate(insurer string, pension domain.PensionType) (discount.Mode, error) {
	if e.snapshot.SalesRates == nil {
		return nil, ErrSalesRatesUnavailable
	}
	if insurer == "" {
		insurer = domain.DefaultInsurer
	}
	row, ok := e.snapshot.SalesRates.Lookup(insurer)
	if !ok {
		return nil, fmt.Errorf("%w: no sales rate for insurer %q (available: %s)",
			actuarial.ErrInvalidInput, insurer, strings.Join(e.snapshot.SalesRates.Insurers(), ", "))
	}
	rate, column := row.OldAge, "old-age"
	if pension == domain.PensionDisability {
		rate, column = row.Disability, "disability"
	}
	flat, err := discount.NewFlat(rate)
	if err != nil {
		return nil, fmt.Errorf("%w: sales rate of %s: %v", actuarial.ErrInvalidInput, row.Insurer, err)
	}
	return salesRateMode{Flat: flat, insurer: row.Insurer, column: column}, nil
}

func (r *request) jointLife(mode discount.Mode, shape domain.PayoutShape) actuarial.JointLifeInput {
	primary := r.primary
	return actuarial.JointLifeInput{
		Primary:  &primary,
		Spouse:   r.spouse,
		Children: r.children,
		Discount: mode,
		Shape:    shape,
	}
}

func (e *Engine) checkEarlyRetirement(req *request) (*EarlyRetirementCheck, error) {
	f, err := e.actuarial.JointLife(req.jointLife(req.annuity, domain.PayoutShape{}))
	if err != nil {
		return nil, err
	}
	monthly, err := conversion.MonthlyBenefit(req.premiums.Annuity, f.Total())
	if err != nil {
		return nil, err
	}
	avg := req.cfg.Affiliate.AverageIncomeUF
	return &EarlyRetirementCheck{
		MonthlyUF:  monthly,
		RequiredUF: avg.Mul(conversion.EarlyRetirementThreshold),
		Qualifies:  conversion.QualifiesForEarlyRetirement(monthly, avg),
	}, nil
}

func (e *Engine) priceScenario(req *request, s domain.Scenario) (Result, error) {
	res := Result{
		ID:            uuid.NewString(),
		Scenario:      s.Name,
		Kind:          s.Kind,
		Shape:         s.Shape(),
		DeferralYears: s.DeferralYears,
		IncreasePct:   s.IncreasePct,
	}

	switch s.Kind {
	case domain.KindProgrammedWithdrawal:
		f, err := e.actuarial.JointLife(req.jointLife(req.programmed, domain.PayoutShape{}))
		if err != nil {
			return res, err
		}
		res.Factors, res.Factor = f, f.Total()
		monthly, err := conversion.MonthlyBenefit(req.premiums.ProgrammedWithdrawal, res.Factor)
		if err != nil {
			return res, err
		}
		res.Lines = []Line{req.lineAfterAFP("programmed withdrawal", monthly)}

	case domain.KindAnnuity:
		f, err := e.actuarial.JointLife(req.jointLife(req.annuity, s.Shape()))
		if err != nil {
			return res, err
		}
		res.Factors, res.Factor = f, f.Total()
		if s.IncreaseYears == 0 {
			monthly, err := conversion.MonthlyBenefit(req.premiums.Annuity, res.Factor)
			if err != nil {
				return res, err
			}
			res.Lines = []Line{req.line(annuityLabel(s), monthly)}
			break
		}
		inc, err := conversion.IncreasedBenefit(req.premiums.Annuity, f, s.IncreasePct)
		if err != nil {
			return res, err
		}
		uplift, _ := s.IncreasePct.Float64()
		res.Factor = f.Temporal*(1+uplift) + f.Deferred
		res.Lines = []Line{
			req.line(fmt.Sprintf("increased pension (months 1-%d)", s.IncreaseYears*12), inc.Increased),
			req.line(fmt.Sprintf("base pension (from month %d)", s.IncreaseYears*12+1), inc.Base),
		}

	case domain.KindDeferred:
		window := domain.PayoutShape{IncreaseYears: s.DeferralYears}
		rp, err := e.actuarial.JointLife(req.jointLife(req.programmed, window))
		if err != nil {
			return res, err
		}
		deferred, err := e.actuarial.JointLife(req.jointLife(req.annuity, window))
		if err != nil {
			return res, err
		}
		res.Factors = domain.Factors{Temporal: rp.Temporal, Deferred: deferred.Deferred}
		res.Factor, err = conversion.HybridFactor(rp.Temporal, deferred.Deferred, req.cfg.Pricing.IntermediationCommission)
		if err != nil {
			return res, err
		}
		monthly, err := conversion.MonthlyBenefit(req.premiums.ProgrammedWithdrawal, res.Factor)
		if err != nil {
			return res, err
		}
		res.Lines = []Line{
			req.lineAfterAFP(fmt.Sprintf("programmed withdrawal (years 1-%d)", s.DeferralYears), monthly),
			req.line(fmt.Sprintf("deferred annuity (from year %d)", s.DeferralYears+1), monthly),
		}

	default:
		return res, fmt.Errorf("%w: unknown scenario kind %q", actuarial.ErrInvalidInput, s.Kind)
	}
	return res, nil
}

// Schedule returns the period walk behind one scenario of a validated
// request. Survivor requests ignore the scenario name and walk the survivor
// factor; deferred scenarios walk the annuity leg.
func (e *Engine) Schedule(cfg *domain.Configuration, scenario string) ([]actuarial.Period, error) {
	req, err := e.resolve(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Affiliate.PensionType == domain.PensionSurvivor {
		return e.actuarial.SurvivorSchedule(actuarial.SurvivorInput{
			Spouse:   req.spouse,
			Children: req.children,
			Discount: req.annuity,
		})
	}

	for _, s := range cfg.Scenarios {
		if s.Name != scenario {
			continue
		}
		switch s.Kind {
		case domain.KindProgrammedWithdrawal:
			return e.actuarial.JointLifeSchedule(req.jointLife(req.programmed, domain.PayoutShape{}))
		case domain.KindAnnuity:
			return e.actuarial.JointLifeSchedule(req.jointLife(req.annuity, s.Shape()))
		case domain.KindDeferred:
			return e.actuarial.JointLifeSchedule(req.jointLife(req.annuity, domain.PayoutShape{IncreaseYears: s.DeferralYears}))
		default:
			return nil, fmt.Errorf("%w: unknown scenario kind %q", actuarial.ErrInvalidInput, s.Kind)
		}
	}
	return nil, fmt.Errorf("%w: no scenario named %q", actuarial.ErrInvalidInput, scenario)
}

func annuityLabel(s domain.Scenario) string {
	if s.GuaranteeYears > 0 {
		return fmt.Sprintf("life annuity, %d years guaranteed", s.GuaranteeYears)
	}
	return "life annuity"
}

func (e *Engine) priceSurvivor(req *request) (*SurvivorResult, []string, error) {
	factor, err := e.actuarial.Survivor(actuarial.SurvivorInput{
		Spouse:   req.spouse,
		Children: req.children,
		Discount: req.annuity,
	})
	if err != nil {
		return nil, nil, err
	}
	financiable, err := conversion.MonthlyBenefit(req.premiums.Annuity, factor)
	if err != nil {
		return nil, nil, err
	}
	legal := req.cfg.Affiliate.ReferencePensionUF
	reference, insufficient := conversion.SurvivorReference(financiable, legal)

	res := &SurvivorResult{
		ID:            uuid.NewString(),
		Factor:        factor,
		FinanciableUF: financiable,
		LegalUF:       legal,
		ReferenceUF:   reference,
		Insufficient:  insufficient,
		Discount:      req.annuity.Name(),
	}

	var labels []string
	var shares []float64
	if req.spouse != nil {
		labels = append(labels, fmt.Sprintf("spouse (%.0f%%)", req.spouse.Share*100))
		shares = append(shares, req.spouse.Share)
	}
	for i, c := range req.children {
		labels = append(labels, fmt.Sprintf("child %d (%.0f%%)", i+1, c.Share*100))
		shares = append(shares, c.Share)
	}
	for i, amount := range conversion.SurvivorSplit(reference, shares) {
		res.Lines = append(res.Lines, req.line(labels[i], amount))
	}

	var warnings []string
	if insufficient {
		warnings = append(warnings, fmt.Sprintf("insufficient balance: legal reference pension %s UF exceeds the financiable %s UF; the financiable amount is paid",
			legal.StringFixed(2), financiable.StringFixed(2)))
	}
	return res, warnings, nil
}

func (r *request) line(label string, monthlyUF decimal.Decimal) Line {
	return Line{
		Label:   label,
		Payslip: conversion.Payslip(monthlyUF, r.cfg.Pricing.UFValueCLP, r.healthRate),
	}
}

func (r *request) lineAfterAFP(label string, monthlyUF decimal.Decimal) Line {
	net, commission := conversion.DeductAFPCommission(monthlyUF, r.afpRate)
	l := r.line(label, net)
	l.AFPCommissionUF = commission
	l.AFPCommissionCLP = commission.Mul(r.cfg.Pricing.UFValueCLP)
	return l
}

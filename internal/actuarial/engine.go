// Package actuarial computes the present-value factors that turn a premium
// into a life-contingent periodic benefit.
//
// Two engines share one survival bookkeeping and one discount policy:
//
//   - JointLife prices a pension on a living primary beneficiary with
//     contingent survivor benefits for a spouse and children, an optional
//     guarantee period and a temporary-increase window.
//   - Survivor prices the pension of the dependents of an affiliate who has
//     already died.
//
// Both are pure: they read their inputs and the shared mortality snapshot,
// keep no state between calls, and are safe for concurrent use.
package actuarial

import (
	"fmt"

	"github.com/rgehrsitz/annuity/internal/discount"
	"github.com/rgehrsitz/annuity/internal/domain"
	"github.com/rgehrsitz/annuity/internal/mortality"
)

// Engine evaluates annuity factors against one mortality snapshot.
type Engine struct {
	Mortality mortality.Source
	Logger    Logger
}

// NewEngine creates an engine bound to a mortality snapshot.
func NewEngine(src mortality.Source) *Engine {
	return &Engine{Mortality: src, Logger: NopLogger{}}
}

// SetLogger sets the engine logger; nil restores the no-op logger.
func (e *Engine) SetLogger(l Logger) {
	if l == nil {
		e.Logger = NopLogger{}
		return
	}
	e.Logger = l
}

func (e *Engine) logger() Logger {
	if e.Logger == nil {
		return NopLogger{}
	}
	return e.Logger
}

// JointLifeInput is the parameter set of a joint-life calculation.
type JointLifeInput struct {
	Primary  *domain.Person
	Spouse   *domain.Dependent
	Children []domain.Dependent
	Discount discount.Mode
	Shape    domain.PayoutShape
}

// SurvivorInput is the parameter set of a survivor-only calculation.
type SurvivorInput struct {
	Spouse   *domain.Dependent
	Children []domain.Dependent
	Discount discount.Mode
}

// Period is the breakdown of one projection year.
type Period struct {
	T               int     `json:"t"`
	PrimarySurvival float64 `json:"primary_survival"`
	SurvivorBenefit float64 `json:"survivor_benefit"`
	Contingent      float64 `json:"contingent"`
	Floor           float64 `json:"floor"`
	Benefit         float64 `json:"benefit"`
	Discount        float64 `json:"discount"`
	PresentValue    float64 `json:"present_value"`
	Temporal        bool    `json:"temporal"`
}

// JointLife returns the temporal and deferred factors of a pension on the
// primary beneficiary with contingent survivor benefits.
func (e *Engine) JointLife(in JointLifeInput) (domain.Factors, error) {
	var f domain.Factors
	err := e.walkJointLife(in, func(p Period) {
		if p.Temporal {
			f.Temporal += p.PresentValue
		} else {
			f.Deferred += p.PresentValue
		}
	})
	if err != nil {
		return domain.Factors{}, err
	}
	e.logger().Debugf("joint-life: age=%d sex=%s disabled=%t discount=%s shape=%+v temporal=%.6f deferred=%.6f",
		in.Primary.Age, in.Primary.Sex, in.Primary.Disabled, in.Discount.Name(), in.Shape, f.Temporal, f.Deferred)
	return f, nil
}

// JointLifeSchedule returns the period-by-period walk that JointLife sums.
func (e *Engine) JointLifeSchedule(in JointLifeInput) ([]Period, error) {
	var periods []Period
	if err := e.walkJointLife(in, func(p Period) { periods = append(periods, p) }); err != nil {
		return nil, err
	}
	return periods, nil
}

func (e *Engine) walkJointLife(in JointLifeInput, visit func(Period)) error {
	if in.Primary == nil {
		return fmt.Errorf("%w: joint-life calculation requires a primary beneficiary", ErrInvalidInput)
	}
	if err := e.checkCollaborators(in.Discount); err != nil {
		return err
	}
	if in.Primary.Age < 0 {
		return fmt.Errorf("%w: primary age %d is negative", ErrInvalidInput, in.Primary.Age)
	}
	if in.Shape.GuaranteeYears < 0 || in.Shape.IncreaseYears < 0 {
		return fmt.Errorf("%w: payout shape %+v has negative years", ErrInvalidInput, in.Shape)
	}
	if err := validateDependents(in.Spouse, in.Children); err != nil {
		return err
	}

	primary := *in.Primary
	weights := newDependentWeights(e.Mortality, in.Spouse, in.Children)
	primarySurvival := 1.0

	for t := 0; t <= domain.MaxTabledAge-primary.Age; t++ {
		if t > 0 {
			primarySurvival *= e.Mortality.SurvivalProbability(primary.Category(), primary.Sex, primary.Age+t-1)
			weights.advance(t)
		}

		survivor := weights.payout(t)
		contingent := primarySurvival + survivor*(1-primarySurvival)
		floor := 0.0
		if t < in.Shape.GuaranteeYears {
			floor = 1.0
		}
		benefit := contingent
		if floor > benefit {
			benefit = floor
		}
		df := in.Discount.Factor(t)

		visit(Period{
			T:               t,
			PrimarySurvival: primarySurvival,
			SurvivorBenefit: survivor,
			Contingent:      contingent,
			Floor:           floor,
			Benefit:         benefit,
			Discount:        df,
			PresentValue:    df * benefit,
			Temporal:        t < in.Shape.IncreaseYears,
		})
	}
	return nil
}

// Survivor returns the factor of a pension paid to the dependents of a
// deceased affiliate. The affiliate's death probability is 1 from t = 0 and
// no guarantee applies. A zero factor is a valid result: no dependent is
// eligible for any payment.
func (e *Engine) Survivor(in SurvivorInput) (float64, error) {
	factor := 0.0
	if err := e.walkSurvivor(in, func(p Period) { factor += p.PresentValue }); err != nil {
		return 0, err
	}
	e.logger().Debugf("survivor: spouse=%t children=%d discount=%s factor=%.6f",
		in.Spouse != nil, len(in.Children), in.Discount.Name(), factor)
	return factor, nil
}

// SurvivorSchedule returns the period-by-period walk that Survivor sums.
func (e *Engine) SurvivorSchedule(in SurvivorInput) ([]Period, error) {
	var periods []Period
	if err := e.walkSurvivor(in, func(p Period) { periods = append(periods, p) }); err != nil {
		return nil, err
	}
	return periods, nil
}

func (e *Engine) walkSurvivor(in SurvivorInput, visit func(Period)) error {
	if err := e.checkCollaborators(in.Discount); err != nil {
		return err
	}
	if err := validateDependents(in.Spouse, in.Children); err != nil {
		return err
	}

	weights := newDependentWeights(e.Mortality, in.Spouse, in.Children)
	for t := 0; t <= domain.MaxTabledAge; t++ {
		if t > 0 {
			weights.advance(t)
		}
		benefit := weights.payout(t)
		df := in.Discount.Factor(t)
		visit(Period{
			T:               t,
			SurvivorBenefit: benefit,
			Contingent:      benefit,
			Benefit:         benefit,
			Discount:        df,
			PresentValue:    df * benefit,
		})
	}
	return nil
}

func (e *Engine) checkCollaborators(mode discount.Mode) error {
	if e.Mortality == nil {
		return fmt.Errorf("%w: no mortality source", ErrInvalidInput)
	}
	if mode == nil {
		return fmt.Errorf("%w: no discount mode", ErrInvalidInput)
	}
	return nil
}

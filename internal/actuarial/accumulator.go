package actuarial

import (
	"fmt"

	"github.com/rgehrsitz/annuity/internal/domain"
	"github.com/rgehrsitz/annuity/internal/mortality"
)

// dependentWeights carries the accumulated survival of every dependent across
// the projection and turns it into the survivor payout fraction of a period.
// Both engines drive it the same way: advance(t) for t = 1, 2, ... in order,
// then payout(t).
type dependentWeights struct {
	src            mortality.Source
	spouse         *domain.Dependent
	spouseSurvival float64
	children       []domain.Dependent
	childSurvival  []float64
}

func newDependentWeights(src mortality.Source, spouse *domain.Dependent, children []domain.Dependent) *dependentWeights {
	w := &dependentWeights{
		src:           src,
		spouse:        spouse,
		children:      children,
		childSurvival: make([]float64, len(children)),
	}
	if spouse != nil {
		w.spouseSurvival = 1.0
	}
	for i := range w.childSurvival {
		w.childSurvival[i] = 1.0
	}
	return w
}

// advance moves every accumulator from year t-1 to year t using the survival
// probability at the age each dependent had at the start of year t-1. Once
// that age reaches the table ceiling the accumulator drops to zero for good.
func (w *dependentWeights) advance(t int) {
	if w.spouse != nil {
		age := w.spouse.Age + t - 1
		if age < domain.MaxTabledAge {
			w.spouseSurvival *= w.src.SurvivalProbability(domain.CategoryFor(w.spouse.Disabled), w.spouse.Sex, age)
		} else {
			w.spouseSurvival = 0
		}
	}
	for i, child := range w.children {
		age := child.Age + t - 1
		if age < domain.MaxTabledAge {
			w.childSurvival[i] *= w.src.SurvivalProbability(domain.Normal, child.Sex, age)
		} else {
			w.childSurvival[i] = 0
		}
	}
}

// payout returns the share of the unit benefit owed to survivors in year t,
// capped at the full unit.
func (w *dependentWeights) payout(t int) float64 {
	total := 0.0
	if w.spouse != nil {
		total += w.spouse.Share * w.spouseSurvival
	}
	for i, child := range w.children {
		if child.EligibleAt(t) {
			total += child.Share * w.childSurvival[i]
		}
	}
	if total > 1.0 {
		return 1.0
	}
	return total
}

func validateDependents(spouse *domain.Dependent, children []domain.Dependent) error {
	if spouse != nil {
		if err := validateDependent("spouse", *spouse); err != nil {
			return err
		}
	}
	for i, child := range children {
		if err := validateDependent(fmt.Sprintf("child %d", i), child); err != nil {
			return err
		}
		if child.IsSpouse() {
			return fmt.Errorf("%w: child %d has no age limit", ErrInvalidInput, i)
		}
	}
	return nil
}

func validateDependent(role string, d domain.Dependent) error {
	if d.Age < 0 {
		return fmt.Errorf("%w: %s age %d is negative", ErrInvalidInput, role, d.Age)
	}
	if d.Share < 0 || d.Share > 1 {
		return fmt.Errorf("%w: %s share %v outside [0,1]", ErrInvalidInput, role, d.Share)
	}
	return nil
}

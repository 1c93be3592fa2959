// Package mortality holds the one-year survival probabilities used by the
// actuarial engine, indexed by category, sex and age.
package mortality

import (
	"fmt"

	"github.com/rgehrsitz/annuity/internal/domain"
)

// Source supplies one-year survival probabilities. Missing entries resolve
// to 0.0, which the engine treats as certain death in that year.
type Source interface {
	SurvivalProbability(category domain.Category, sex domain.Sex, age int) float64
}

// Series maps an age to its one-year survival probability.
type Series map[int]float64

// Key identifies one published table.
type Key struct {
	Category domain.Category
	Sex      domain.Sex
}

func (k Key) String() string {
	return k.Category.String() + "/" + k.Sex.String()
}

const (
	numCategories = 2
	numSexes      = 2
	numAges       = domain.MaxTabledAge + 1
)

// Table is an immutable snapshot of the four mortality tables. It is built
// once and shared read-only by every engine call.
type Table struct {
	p      [numCategories][numSexes][numAges]float64
	loaded [numCategories][numSexes]int
}

var _ Source = (*Table)(nil)

// NewTable validates the series and builds the snapshot. Ages above
// MaxTabledAge are dropped; negative ages and probabilities outside [0,1]
// are rejected.
func NewTable(series map[Key]Series) (*Table, error) {
	t := &Table{}
	for key, s := range series {
		if !validKey(key) {
			return nil, fmt.Errorf("invalid mortality table key %s", key)
		}
		for age, p := range s {
			if age < 0 {
				return nil, fmt.Errorf("table %s: negative age %d", key, age)
			}
			if p < 0 || p > 1 {
				return nil, fmt.Errorf("table %s: survival probability %v at age %d outside [0,1]", key, p, age)
			}
			if age > domain.MaxTabledAge {
				continue
			}
			t.p[key.Category][key.Sex][age] = p
			t.loaded[key.Category][key.Sex]++
		}
	}
	return t, nil
}

// FromMortalityRates builds a series from one-year death rates (qx).
func FromMortalityRates(qx map[int]float64) Series {
	s := make(Series, len(qx))
	for age, q := range qx {
		s[age] = 1 - q
	}
	return s
}

// SurvivalProbability implements Source.
func (t *Table) SurvivalProbability(category domain.Category, sex domain.Sex, age int) float64 {
	if !validKey(Key{category, sex}) || age < 0 || age > domain.MaxTabledAge {
		return 0
	}
	return t.p[category][sex][age]
}

// Loaded returns how many ages were supplied for the given table.
func (t *Table) Loaded(category domain.Category, sex domain.Sex) int {
	if !validKey(Key{category, sex}) {
		return 0
	}
	return t.loaded[category][sex]
}

func validKey(k Key) bool {
	return k.Category >= 0 && int(k.Category) < numCategories && k.Sex >= 0 && int(k.Sex) < numSexes
}

// Package discount converts future unit cash flows into present values,
// either at a single flat rate or along a term structure of rates.
package discount

import (
	"fmt"
	"math"
	"sort"

	"github.com/rgehrsitz/annuity/internal/domain"
)

// Mode yields the discount factor for a payment made t whole years from the
// valuation date. A calculation uses exactly one Mode for all its periods.
type Mode interface {
	Factor(t int) float64
	Name() string
}

// factorAt is the single formula shared by every mode so that equivalent
// parameters produce identical factors.
func factorAt(rate float64, t int) float64 {
	if t <= 0 {
		return 1.0
	}
	return math.Pow(1/(1+rate), float64(t))
}

// Flat discounts every period at the same annual rate.
type Flat struct {
	Rate float64
}

// NewFlat validates the rate and returns a flat mode.
func NewFlat(rate float64) (Flat, error) {
	if math.IsNaN(rate) || rate <= -1 {
		return Flat{}, fmt.Errorf("flat discount rate %v must be greater than -1", rate)
	}
	return Flat{Rate: rate}, nil
}

// Factor implements Mode.
func (f Flat) Factor(t int) float64 {
	return factorAt(f.Rate, t)
}

// Name implements Mode.
func (f Flat) Name() string {
	return fmt.Sprintf("flat %.4f%%", f.Rate*100)
}

// Curve is an immutable term structure: rate by elapsed whole years. Offsets
// with no loaded rate reuse the rate of the longest loaded tenor.
type Curve struct {
	rates   map[int]float64
	maxTerm int
}

// NewCurve validates and copies the term structure.
func NewCurve(rates map[int]float64) (*Curve, error) {
	if len(rates) == 0 {
		return nil, fmt.Errorf("discount curve has no rates")
	}
	c := &Curve{rates: make(map[int]float64, len(rates)), maxTerm: -1}
	for term, r := range rates {
		if term < 0 {
			return nil, fmt.Errorf("discount curve: negative term %d", term)
		}
		if math.IsNaN(r) || r <= -1 {
			return nil, fmt.Errorf("discount curve: rate %v at term %d must be greater than -1", r, term)
		}
		c.rates[term] = r
		if term > c.maxTerm {
			c.maxTerm = term
		}
	}
	return c, nil
}

// NewConstantCurve returns a curve holding the same rate at every term up to
// the table ceiling.
func NewConstantCurve(rate float64) (*Curve, error) {
	rates := make(map[int]float64, domain.MaxTabledAge+1)
	for t := 0; t <= domain.MaxTabledAge; t++ {
		rates[t] = rate
	}
	return NewCurve(rates)
}

// ExtendFlat returns a copy of the curve with the longest tenor's rate
// written out for every missing term up to and including through.
func (c *Curve) ExtendFlat(through int) *Curve {
	out := &Curve{rates: make(map[int]float64, len(c.rates)), maxTerm: c.maxTerm}
	for term, r := range c.rates {
		out.rates[term] = r
	}
	long := c.rates[c.maxTerm]
	for t := c.maxTerm + 1; t <= through; t++ {
		out.rates[t] = long
		out.maxTerm = t
	}
	return out
}

// Rate returns the rate applied at offset t.
func (c *Curve) Rate(t int) float64 {
	if r, ok := c.rates[t]; ok {
		return r
	}
	return c.rates[c.maxTerm]
}

// MaxTerm returns the longest loaded tenor.
func (c *Curve) MaxTerm() int {
	return c.maxTerm
}

// Terms returns the loaded tenors in ascending order.
func (c *Curve) Terms() []int {
	terms := make([]int, 0, len(c.rates))
	for t := range c.rates {
		terms = append(terms, t)
	}
	sort.Ints(terms)
	return terms
}

// Factor implements Mode.
func (c *Curve) Factor(t int) float64 {
	return factorAt(c.Rate(t), t)
}

// Name implements Mode.
func (c *Curve) Name() string {
	return fmt.Sprintf("curve (%d tenors, long rate %.4f%%)", len(c.rates), c.rates[c.maxTerm]*100)
}

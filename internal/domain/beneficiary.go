package domain

import (
	"fmt"
	"strings"
)

// MaxTabledAge is the last age carried by the mortality tables. Projections
// never run past it.
const MaxTabledAge = 110

// NoAgeLimit marks a dependent that keeps its benefit for life (a spouse).
const NoAgeLimit = 0

// Statutory default benefit shares for survivor pensions.
const (
	DefaultSpouseShare = 0.60
	DefaultChildShare  = 0.15
)

// Child age limits accepted by the pension rules.
const (
	ChildAgeLimitMinor   = 18
	ChildAgeLimitStudent = 24
)

// Sex selects the sex-specific mortality table.
type Sex int

const (
	Male Sex = iota
	Female
)

func (s Sex) String() string {
	switch s {
	case Male:
		return "male"
	case Female:
		return "female"
	default:
		return fmt.Sprintf("Sex(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Sex) MarshalText() ([]byte, error) {
	if s != Male && s != Female {
		return nil, fmt.Errorf("invalid sex %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Spanish labels used by
// the published tables are accepted as well.
func (s *Sex) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "male", "m", "hombre":
		*s = Male
	case "female", "f", "mujer":
		*s = Female
	default:
		return fmt.Errorf("unknown sex %q (valid: male, female)", string(text))
	}
	return nil
}

// Category selects between the old-age and the invalidity mortality tables.
type Category int

const (
	Normal Category = iota
	Disabled
)

func (c Category) String() string {
	switch c {
	case Normal:
		return "normal"
	case Disabled:
		return "disabled"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// CategoryFor maps a disability flag to its mortality category.
func CategoryFor(disabled bool) Category {
	if disabled {
		return Disabled
	}
	return Normal
}

// Person is the primary beneficiary (affiliate) of a joint-life pension.
type Person struct {
	Age      int  `json:"age"`
	Sex      Sex  `json:"sex"`
	Disabled bool `json:"disabled"`
}

// Category returns the mortality category used for the person.
func (p Person) Category() Category {
	return CategoryFor(p.Disabled)
}

// Dependent is a survivor beneficiary. A spouse has AgeLimit == NoAgeLimit;
// a child stops receiving benefits once its age reaches AgeLimit.
type Dependent struct {
	Age      int     `json:"age"`
	Sex      Sex     `json:"sex"`
	Share    float64 `json:"share"`
	AgeLimit int     `json:"age_limit,omitempty"`
	Disabled bool    `json:"disabled,omitempty"`
}

// NewSpouse builds a spouse dependent with the default share.
func NewSpouse(age int, sex Sex, disabled bool) Dependent {
	return Dependent{Age: age, Sex: sex, Share: DefaultSpouseShare, Disabled: disabled}
}

// NewChild builds a child dependent with the default share.
func NewChild(age int, sex Sex, ageLimit int) Dependent {
	return Dependent{Age: age, Sex: sex, Share: DefaultChildShare, AgeLimit: ageLimit}
}

// IsSpouse reports whether the dependent has no age cutoff.
func (d Dependent) IsSpouse() bool {
	return d.AgeLimit == NoAgeLimit
}

// EligibleAt reports whether the dependent is still within its age limit t
// years from now. Survival is accounted for separately.
func (d Dependent) EligibleAt(t int) bool {
	if d.IsSpouse() {
		return true
	}
	return d.Age+t < d.AgeLimit
}

// PayoutShape holds the guarantee and temporary-increase windows of an
// annuity, both in whole years.
type PayoutShape struct {
	GuaranteeYears int `json:"guarantee_years"`
	IncreaseYears  int `json:"increase_years"`
}

// Factors is the output of the joint-life engine: the present value of a
// unit annual benefit split at the end of the temporary-increase window.
type Factors struct {
	Temporal float64 `json:"temporal"`
	Deferred float64 `json:"deferred"`
}

// Total returns the whole-life factor.
func (f Factors) Total() float64 {
	return f.Temporal + f.Deferred
}

package tables

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// SalesRate is the average annuity rate one insurer sold at, by pension
// column of the regulator's sales-rate report.
type SalesRate struct {
	Insurer    string
	OldAge     float64
	Disability float64
}

// SalesRates indexes a sales-rate report by insurer. Lookups ignore case and
// surrounding spaces.
type SalesRates struct {
	byName map[string]SalesRate
}

// NewSalesRates builds the index. Later rows replace earlier ones with the
// same insurer.
func NewSalesRates(rows []SalesRate) (*SalesRates, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("sales-rate report has no insurers")
	}
	s := &SalesRates{byName: make(map[string]SalesRate, len(rows))}
	for _, r := range rows {
		r.Insurer = strings.TrimSpace(r.Insurer)
		if r.Insurer == "" {
			return nil, fmt.Errorf("sales-rate report: empty insurer name")
		}
		s.byName[insurerKey(r.Insurer)] = r
	}
	return s, nil
}

// Lookup returns the rates of one insurer.
func (s *SalesRates) Lookup(insurer string) (SalesRate, bool) {
	r, ok := s.byName[insurerKey(insurer)]
	return r, ok
}

// Insurers lists the insurer names in alphabetical order.
func (s *SalesRates) Insurers() []string {
	names := make([]string, 0, len(s.byName))
	for _, r := range s.byName {
		names = append(names, r.Insurer)
	}
	sort.Strings(names)
	return names
}

func insurerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// LoadSalesRates reads the sales-rate report: one row per insurer with an
// old-age column ("Vejez") and a total-disability column ("Invalidez
// total"). Cells are percentages. Rows missing either rate are skipped.
func (l *Loader) LoadSalesRates(file string) (*SalesRates, error) {
	f, reader, header, err := l.openCSV(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	path := l.resolve(file)
	nameCol := columnIndex(header, []string{"insurer", "compañía", "compania", "cia"})
	if nameCol < 0 {
		nameCol = 0
	}
	oldAgeCol := columnIndex(header, []string{"vejez", "old_age"})
	disabilityCol := columnIndex(header, []string{"invalidez total", "disability"})
	if oldAgeCol < 0 || disabilityCol < 0 {
		return nil, fmt.Errorf("invalid sales-rate report %s: expected Vejez and Invalidez total columns", path)
	}

	var rows []SalesRate
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read data row: %w", err)
		}
		if len(record) <= max(nameCol, oldAgeCol, disabilityCol) {
			continue
		}
		oldAge, err := ParseRate(record[oldAgeCol])
		if err != nil {
			continue
		}
		disability, err := ParseRate(record[disabilityCol])
		if err != nil {
			continue
		}
		if strings.TrimSpace(record[nameCol]) == "" {
			continue
		}
		rows = append(rows, SalesRate{Insurer: record[nameCol], OldAge: oldAge, Disability: disability})
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no valid data points found in %s", path)
	}

	rates, err := NewSalesRates(rows)
	if err != nil {
		return nil, err
	}
	l.logger.Infof("loaded sales rates %s: %d insurers", file, len(rates.byName))
	return rates, nil
}

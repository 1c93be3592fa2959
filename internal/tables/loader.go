// Package tables loads the published mortality tables and the discount curve
// from CSV files into an immutable snapshot shared by every calculation.
package tables

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rgehrsitz/annuity/internal/actuarial"
	"github.com/rgehrsitz/annuity/internal/discount"
	"github.com/rgehrsitz/annuity/internal/domain"
	"github.com/rgehrsitz/annuity/internal/mortality"
)

// Snapshot is the table data of one process lifetime. Nothing mutates it
// after Load returns.
type Snapshot struct {
	Mortality *mortality.Table
	// Curve is nil when no discount curve file was configured.
	Curve *discount.Curve
	// SalesRates is nil when no sales-rate report was configured.
	SalesRates *SalesRates
}

// Loader reads table files relative to a data directory.
type Loader struct {
	dataPath string
	logger   actuarial.Logger
}

// NewLoader creates a loader resolving relative paths against dataPath.
func NewLoader(dataPath string) *Loader {
	return &Loader{dataPath: dataPath, logger: actuarial.NopLogger{}}
}

// SetLogger sets the loader logger; nil restores the no-op logger.
func (l *Loader) SetLogger(logger actuarial.Logger) {
	if logger == nil {
		logger = actuarial.NopLogger{}
	}
	l.logger = logger
}

// Load reads the four mortality tables and, when configured, the discount
// curve and the sales-rate report.
func (l *Loader) Load(files domain.TableFiles) (*Snapshot, error) {
	if files.DataPath != "" && l.dataPath == "" {
		l = &Loader{dataPath: files.DataPath, logger: l.logger}
	}

	sources := []struct {
		key  mortality.Key
		file string
	}{
		{mortality.Key{Category: domain.Normal, Sex: domain.Male}, files.Mortality.Normal.Male},
		{mortality.Key{Category: domain.Normal, Sex: domain.Female}, files.Mortality.Normal.Female},
		{mortality.Key{Category: domain.Disabled, Sex: domain.Male}, files.Mortality.Disabled.Male},
		{mortality.Key{Category: domain.Disabled, Sex: domain.Female}, files.Mortality.Disabled.Female},
	}

	series := make(map[mortality.Key]mortality.Series, len(sources))
	for _, src := range sources {
		if src.file == "" {
			return nil, fmt.Errorf("no mortality table configured for %s", src.key)
		}
		qx, err := l.LoadMortalityRates(src.file)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s mortality table: %w", src.key, err)
		}
		series[src.key] = mortality.FromMortalityRates(qx)
	}

	table, err := mortality.NewTable(series)
	if err != nil {
		return nil, fmt.Errorf("invalid mortality tables: %w", err)
	}
	for _, src := range sources {
		l.logger.Infof("loaded %s mortality table %s: %d ages", src.key, src.file, table.Loaded(src.key.Category, src.key.Sex))
	}

	snap := &Snapshot{Mortality: table}
	if files.DiscountCurve != "" {
		curve, err := l.LoadCurve(files.DiscountCurve)
		if err != nil {
			return nil, fmt.Errorf("failed to load discount curve: %w", err)
		}
		snap.Curve = curve
	}
	if files.SalesRates != "" {
		rates, err := l.LoadSalesRates(files.SalesRates)
		if err != nil {
			return nil, fmt.Errorf("failed to load sales rates: %w", err)
		}
		snap.SalesRates = rates
	}
	return snap, nil
}

// LoadMortalityRates reads a two-column table of age and death rate qx.
func (l *Loader) LoadMortalityRates(file string) (map[int]float64, error) {
	qx := make(map[int]float64)
	err := l.readTable(file, []string{"age", "edad"}, []string{"qx", "tasas de mortalidad qx"}, func(key int, raw string) error {
		v, err := strconv.ParseFloat(normalizeDecimal(raw), 64)
		if err != nil {
			return err
		}
		qx[key] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return qx, nil
}

// LoadCurve reads a two-column table of term in years and annual rate, then
// extends the longest tenor flat to the table ceiling.
func (l *Loader) LoadCurve(file string) (*discount.Curve, error) {
	rates := make(map[int]float64)
	err := l.readTable(file, []string{"term", "plazo"}, []string{"rate", "tasa"}, func(key int, raw string) error {
		r, err := ParseRate(raw)
		if err != nil {
			return err
		}
		rates[key] = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	curve, err := discount.NewCurve(rates)
	if err != nil {
		return nil, err
	}
	terms := curve.Terms()
	l.logger.Infof("loaded discount curve %s: %d tenors from %d to %d years", file, len(terms), terms[0], terms[len(terms)-1])
	return curve.ExtendFlat(domain.MaxTabledAge), nil
}

// ParseRate reads a published rate, always a percentage: "3,41%", "3.41%"
// and "3,41" all yield 0.0341. The percent sign is optional.
func ParseRate(raw string) (float64, error) {
	s := strings.TrimSuffix(strings.TrimSpace(raw), "%")
	v, err := strconv.ParseFloat(normalizeDecimal(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rate %q: %w", raw, err)
	}
	return v / 100, nil
}

func normalizeDecimal(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
}

func (l *Loader) resolve(file string) string {
	if filepath.IsAbs(file) || l.dataPath == "" {
		return file
	}
	return filepath.Join(l.dataPath, file)
}

// openCSV opens a table file and reads its header row. The caller closes the
// returned file.
func (l *Loader) openCSV(file string) (*os.File, *csv.Reader, []string, error) {
	path := l.resolve(file)
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}

	sep, semicolon := sniffSeparator(f)
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	if semicolon {
		reader.Comma = sep
	}

	header, err := reader.Read()
	if err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			return nil, nil, nil, fmt.Errorf("%s is empty", path)
		}
		return nil, nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	return f, reader, header, nil
}

// readTable walks a CSV with a header row, locating the key and value
// columns by name. Rows with unparsable cells are skipped.
func (l *Loader) readTable(file string, keyNames, valueNames []string, store func(key int, raw string) error) error {
	f, reader, header, err := l.openCSV(file)
	if err != nil {
		return err
	}
	defer f.Close()

	path := l.resolve(file)
	keyCol, valueCol := columnIndex(header, keyNames), columnIndex(header, valueNames)
	if keyCol < 0 || valueCol < 0 {
		if len(header) < 2 {
			return fmt.Errorf("invalid CSV format in %s: expected at least 2 columns", path)
		}
		keyCol, valueCol = 0, 1
	}

	rows := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read data row: %w", err)
		}
		if len(record) <= keyCol || len(record) <= valueCol {
			continue
		}
		key, err := strconv.Atoi(strings.TrimSpace(record[keyCol]))
		if err != nil {
			continue
		}
		if err := store(key, record[valueCol]); err != nil {
			continue
		}
		rows++
	}

	if rows == 0 {
		return fmt.Errorf("no valid data points found in %s", path)
	}
	return nil
}

func columnIndex(header []string, names []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		for _, n := range names {
			if h == n {
				return i
			}
		}
	}
	return -1
}

// sniffSeparator picks ';' for files exported with a decimal comma. The file
// offset is restored before returning.
func sniffSeparator(f *os.File) (rune, bool) {
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, false
	}
	line := string(buf[:n])
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if strings.Count(line, ";") > strings.Count(line, ",") {
		return ';', true
	}
	return 0, false
}

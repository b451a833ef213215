package prices

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/backtest-sim/backtest-sim/sim"
)

// garbageFactor flags a file as corrupt when consecutive close prices jump by
// more than this factor in either direction.
var garbageFactor = decimal.NewFromInt(5)

// BuildCatalog scans the price files matching patterns and records each
// symbol's first and last timestamps. Every pattern must contain exactly one
// "*" standing for the symbol; earlier patterns take precedence. Symbols in
// exclude are skipped. The returned slice lists symbols whose files could not
// be read or looked corrupt.
func BuildCatalog(patterns []string, exclude map[string]bool) (*Catalog, []string, error) {
	if len(patterns) == 0 {
		return nil, nil, fmt.Errorf("at least one pattern is required")
	}
	symbols := make(map[string]bool)
	for _, p := range patterns {
		if strings.Count(p, "*") != 1 {
			return nil, nil, fmt.Errorf("pattern %q must contain exactly one \"*\"", p)
		}
		re := regexp.MustCompile("^" + strings.Replace(regexp.QuoteMeta(p), `\*`, "(.*)", 1) + "$")
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		for _, m := range matches {
			if sub := re.FindStringSubmatch(m); sub != nil && !exclude[sub[1]] {
				symbols[sub[1]] = true
			}
		}
	}

	names := make([]string, 0, len(symbols))
	for s := range symbols {
		names = append(names, s)
	}
	sort.Strings(names)

	var windows []Window
	var failed []string
	for _, name := range names {
		found := false
		for _, p := range patterns {
			start, end, err := scanWindow(strings.Replace(p, "*", name, 1))
			if err != nil {
				logrus.Debugf("catalog: %s via %q: %v", name, p, err)
				continue
			}
			windows = append(windows, Window{Symbol: sim.NewSymbol(name), Start: start, End: end})
			found = true
			break
		}
		if !found {
			logrus.Warnf("catalog: error reading data files for %s", name)
			failed = append(failed, name)
		}
	}
	return NewCatalog(windows), failed, nil
}

// scanWindow returns the first and last timestamps of a price file.
func scanWindow(path string) (start, end int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	cols, _, err := readHeader(r, CatalogPriceColumn)
	if err != nil {
		return 0, 0, err
	}
	var prev decimal.Decimal
	rows := 0
	for {
		line, rerr := r.ReadString('\n')
		if ts, ok := cols.peekTime(line); ok {
			if rows == 0 {
				start = ts
			}
			end = ts
			rows++
		}
		if s, ok := field(line, cols.price); ok {
			if p, perr := decimal.NewFromString(s); perr == nil {
				if !prev.IsZero() && (p.GreaterThan(prev.Mul(garbageFactor)) || p.Mul(garbageFactor).LessThan(prev)) {
					return 0, 0, fmt.Errorf("price jump %s -> %s: %w", prev, p, ErrMalformedData)
				}
				prev = p
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return 0, 0, rerr
		}
	}
	if rows == 0 {
		return 0, 0, fmt.Errorf("no rows: %w", sim.ErrDataUnavailable)
	}
	return start, end, nil
}

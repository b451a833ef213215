// Package prices serves point-in-time historical prices from per-symbol CSV
// files through a bounded LRU cache of loaded chunks.
package prices

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/backtest-sim/backtest-sim/sim"
)

const (
	// DefaultSeriesLength is the maximum number of rows loaded per chunk (2^18).
	DefaultSeriesLength = 1 << 18

	// TimeColumn and PriceColumn are the header names located in every price file.
	TimeColumn  = "Unix Timestamp"
	PriceColumn = "Open"

	// CatalogPriceColumn is the column BuildCatalog checks for price jumps.
	CatalogPriceColumn = "Close"

	// millisThreshold separates second and millisecond epoch timestamps.
	millisThreshold = 10_000_000_000
)

// DefaultTemplates lists price file locations in priority order; %s is the symbol.
// Minute bars are preferred, daily bars are the fallback.
var DefaultTemplates = []string{
	"resources/gemini_%sUSD_2019_1min.csv",
	"resources/%s_daily_bars.csv",
}

// ErrMalformedData is returned when a price file lacks a required header
// column or holds an unparsable row.
var ErrMalformedData = errors.New("malformed price data")

// Series is one loaded chunk of a symbol's history, sorted by strictly
// increasing time.
type Series struct {
	Symbol sim.Symbol
	Times  []int64 // unix seconds
	Prices []int64 // scaled by Store.Scale
	// Tail is set when the chunk runs to the end of its source file, so any
	// later time resolves to the final sample.
	Tail bool
}

// Len returns the number of valid rows.
func (s *Series) Len() int { return len(s.Times) }

func (s *Series) reset(sym sim.Symbol) {
	s.Symbol = sym
	s.Times = s.Times[:0]
	s.Prices = s.Prices[:0]
	s.Tail = false
}

// Loader fills a Series with the chunk of sym's history that covers t.
type Loader interface {
	Load(sym sim.Symbol, t int64, into *Series) error
}

// Store loads price chunks from CSV files on disk.
type Store struct {
	Templates    []string
	SeriesLength int
	Scale        int64 // price units per currency unit
}

// NewStore returns a Store with the default templates, chunk length and scale.
func NewStore() *Store {
	return &Store{
		Templates:    DefaultTemplates,
		SeriesLength: DefaultSeriesLength,
		Scale:        sim.Dollar,
	}
}

// open tries each template in order and returns the first file that opens.
func (st *Store) open(sym sim.Symbol) (*os.File, string, error) {
	for _, tmpl := range st.Templates {
		path := fmt.Sprintf(tmpl, sym)
		f, err := os.Open(path)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, path, fmt.Errorf("opening %s: %w", path, err)
		}
	}
	return nil, "", fmt.Errorf("no price file for %s: %w", sym, sim.ErrDataUnavailable)
}

// Load reads the chunk of sym's history starting with the last sample at or
// before t. If t is before the first sample the chunk starts at the first
// sample; if t is after the last sample the chunk holds only the last sample.
func (st *Store) Load(sym sim.Symbol, t int64, into *Series) error {
	f, path, err := st.open(sym)
	if err != nil {
		return err
	}
	defer f.Close()

	into.reset(sym)
	r := bufio.NewReader(f)

	cols, dataStart, err := readHeader(r, PriceColumn)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	// Skim forward remembering where the previous row began, then rewind to it
	// once a row reaches t so the chunk includes one sample at or before t.
	prevStart, lineStart := dataStart, dataStart
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			ts, ok := cols.peekTime(line)
			if ok && ts >= t {
				break
			}
			if ok {
				prevStart = lineStart
			}
			lineStart += int64(len(line))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	if _, err := f.Seek(prevStart, io.SeekStart); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	r.Reset(f)

	limit := st.SeriesLength
	if limit <= 0 {
		limit = DefaultSeriesLength
	}
	scale := decimal.NewFromInt(st.Scale)
	for into.Len() < limit {
		line, err := r.ReadString('\n')
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			ts, price, perr := cols.parseRow(trimmed, scale)
			if perr != nil {
				return fmt.Errorf("%s: %w", path, perr)
			}
			if n := into.Len(); n > 0 && ts <= into.Times[n-1] {
				logrus.Debugf("%s: dropping out-of-order row at %d", path, ts)
			} else {
				into.Times = append(into.Times, ts)
				into.Prices = append(into.Prices, price)
			}
		}
		if err == io.EOF {
			into.Tail = true
			break
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	if into.Len() == 0 {
		return fmt.Errorf("%s has no rows: %w", path, sim.ErrDataUnavailable)
	}
	logrus.Debugf("loaded %d rows of %s from %s [%d, %d]", into.Len(), sym, path, into.Times[0], into.Times[into.Len()-1])
	return nil
}

type columns struct {
	time, price int
}

// readHeader scans lines until the time column and priceColumn have been seen
// and returns the byte offset of the first data row.
func readHeader(r *bufio.Reader, priceColumn string) (columns, int64, error) {
	cols := columns{time: -1, price: -1}
	var offset int64
	for cols.time < 0 || cols.price < 0 {
		line, err := r.ReadString('\n')
		offset += int64(len(line))
		for i, name := range strings.Split(strings.TrimRight(line, "\r\n"), ",") {
			switch strings.TrimSpace(name) {
			case TimeColumn:
				cols.time = i
			case priceColumn:
				cols.price = i
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return cols, 0, err
		}
	}
	if cols.time < 0 {
		return cols, 0, fmt.Errorf("missing %q column: %w", TimeColumn, ErrMalformedData)
	}
	if cols.price < 0 {
		return cols, 0, fmt.Errorf("missing %q column: %w", priceColumn, ErrMalformedData)
	}
	return cols, offset, nil
}

func field(line string, idx int) (string, bool) {
	for i := 0; i < idx; i++ {
		comma := strings.IndexByte(line, ',')
		if comma < 0 {
			return "", false
		}
		line = line[comma+1:]
	}
	if comma := strings.IndexByte(line, ','); comma >= 0 {
		line = line[:comma]
	}
	return strings.TrimSpace(line), true
}

func parseTime(s string) (int64, error) {
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if ts > millisThreshold {
		ts /= 1000
	}
	return ts, nil
}

func (c columns) peekTime(line string) (int64, bool) {
	s, ok := field(line, c.time)
	if !ok {
		return 0, false
	}
	ts, err := parseTime(s)
	return ts, err == nil
}

func (c columns) parseRow(line string, scale decimal.Decimal) (int64, int64, error) {
	s, ok := field(line, c.time)
	if !ok {
		return 0, 0, fmt.Errorf("row %q has no time column: %w", line, ErrMalformedData)
	}
	ts, err := parseTime(s)
	if err != nil {
		return 0, 0, fmt.Errorf("row %q: bad timestamp: %w", line, ErrMalformedData)
	}
	if s, ok = field(line, c.price); !ok {
		return 0, 0, fmt.Errorf("row %q has no price column: %w", line, ErrMalformedData)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, 0, fmt.Errorf("row %q: bad price: %w", line, ErrMalformedData)
	}
	return ts, d.Mul(scale).Round(0).IntPart(), nil
}

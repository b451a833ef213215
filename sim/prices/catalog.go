package prices

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/backtest-sim/backtest-sim/sim"
)

// DefaultCatalogPath is where BuildCatalog writes and LoadCatalog reads by default.
const DefaultCatalogPath = "resources/symbols.txt"

var catalogHeader = []string{"Symbol", "Start Time", "End Time"}

// Window is the span of available data for one symbol, in unix seconds.
type Window struct {
	Symbol sim.Symbol
	Start  int64
	End    int64
}

// Catalog maps symbols to their data windows without touching price files.
// Entries are sorted by Symbol.ID for binary lookup.
type Catalog struct {
	windows []Window
}

// NewCatalog builds a catalog from windows in any order. Later duplicates
// of a symbol are dropped.
func NewCatalog(windows []Window) *Catalog {
	ws := make([]Window, len(windows))
	copy(ws, windows)
	sort.SliceStable(ws, func(i, j int) bool { return ws[i].Symbol.ID() < ws[j].Symbol.ID() })
	out := ws[:0]
	for _, w := range ws {
		if len(out) > 0 && w.Symbol == out[len(out)-1].Symbol {
			continue
		}
		out = append(out, w)
	}
	return &Catalog{windows: out}
}

// LoadCatalog reads a catalog file with a "Symbol,Start Time,End Time" header.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading symbol catalog: %w", err)
	}
	defer f.Close()
	cat, err := ReadCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cat, nil
}

// ReadCatalog parses catalog rows from r.
func ReadCatalog(r io.Reader) (*Catalog, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(catalogHeader)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("catalog header: %w", ErrMalformedData)
	}
	for i, name := range catalogHeader {
		if strings.TrimSpace(header[i]) != name {
			return nil, fmt.Errorf("catalog column %d is %q, want %q: %w", i, header[i], name, ErrMalformedData)
		}
	}

	var windows []Window
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("catalog row: %v: %w", err, ErrMalformedData)
		}
		start, err1 := strconv.ParseInt(rec[1], 10, 64)
		end, err2 := strconv.ParseInt(rec[2], 10, 64)
		if err1 != nil || err2 != nil || rec[0] == "" {
			return nil, fmt.Errorf("catalog row %v: %w", rec, ErrMalformedData)
		}
		windows = append(windows, Window{Symbol: sim.NewSymbol(rec[0]), Start: start, End: end})
	}
	return NewCatalog(windows), nil
}

// Window returns the data window of sym.
func (c *Catalog) Window(sym sim.Symbol) (start, end int64, ok bool) {
	id := sym.ID()
	i := sort.Search(len(c.windows), func(i int) bool { return c.windows[i].Symbol.ID() >= id })
	if i < len(c.windows) && c.windows[i].Symbol.ID() == id {
		return c.windows[i].Start, c.windows[i].End, true
	}
	return 0, 0, false
}

// Symbols returns every catalogued symbol in ID order.
func (c *Catalog) Symbols() []sim.Symbol {
	out := make([]sim.Symbol, len(c.windows))
	for i, w := range c.windows {
		out[i] = w.Symbol
	}
	return out
}

// Len returns the number of catalogued symbols.
func (c *Catalog) Len() int { return len(c.windows) }

// Write emits the catalog in the format read by ReadCatalog.
func (c *Catalog) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(catalogHeader); err != nil {
		return err
	}
	for _, win := range c.windows {
		rec := []string{win.Symbol.String(), strconv.FormatInt(win.Start, 10), strconv.FormatInt(win.End, 10)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

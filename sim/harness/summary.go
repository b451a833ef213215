package harness

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/backtest-sim/backtest-sim/sim"
)

// Summary describes a sample of scaled-integer results.
type Summary struct {
	N      int     `json:"n"`
	Min    int64   `json:"min"`
	Max    int64   `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"` // population standard deviation
	Median float64 `json:"median"`
}

// Summarize computes descriptive statistics of data. An empty sample yields
// the zero Summary.
func Summarize(data []int64) Summary {
	if len(data) == 0 {
		return Summary{}
	}
	x := toSortedFloats(data)
	mean, std := stat.PopMeanStdDev(x, nil)
	return Summary{
		N:      len(x),
		Min:    int64(x[0]),
		Max:    int64(x[len(x)-1]),
		Mean:   mean,
		StdDev: std,
		Median: stat.Quantile(0.5, stat.Empirical, x, nil),
	}
}

// String renders s with money formatting, one statistic per line.
func (s Summary) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%12s %12d\n", "# Data", s.N)
	fmt.Fprintf(&sb, "%12s %12s\n", "Mean", sim.FormatMoney(int64(math.Round(s.Mean))))
	fmt.Fprintf(&sb, "%12s %12s\n", "Std. Dev.", sim.FormatMoney(int64(math.Round(s.StdDev))))
	fmt.Fprintf(&sb, "%12s %12s\n", "Min", sim.FormatMoney(s.Min))
	fmt.Fprintf(&sb, "%12s %12s\n", "Median", sim.FormatMoney(int64(math.Round(s.Median))))
	fmt.Fprintf(&sb, "%12s %12s\n", "Max", sim.FormatMoney(s.Max))
	return sb.String()
}

// Bin is one histogram bucket covering [Lower, Upper).
type Bin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// Histogram splits data into n equal-width bins spanning its range. The
// maximum value falls into the last bin.
func Histogram(data []int64, n int) []Bin {
	if len(data) == 0 || n <= 0 {
		return nil
	}
	x := toSortedFloats(data)
	lo, hi := x[0], x[len(x)-1]
	if lo == hi {
		return []Bin{{Lower: lo, Upper: hi, Count: len(x)}}
	}

	dividers := floats.Span(make([]float64, n+1), lo, hi)
	dividers[n] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, x, nil)

	bins := make([]Bin, n)
	for i := range bins {
		bins[i] = Bin{Lower: dividers[i], Upper: dividers[i+1], Count: int(counts[i])}
	}
	return bins
}

// RenderHistogram draws bins as horizontal bars no wider than width.
func RenderHistogram(bins []Bin, width int) string {
	peak := 0
	for _, b := range bins {
		peak = max(peak, b.Count)
	}
	var sb strings.Builder
	for _, b := range bins {
		bar := b.Count
		if peak > width {
			bar = int(math.Ceil(float64(b.Count) * float64(width) / float64(peak)))
		}
		fmt.Fprintf(&sb, "%10.0f | %s\n", b.Lower, strings.Repeat("=", bar))
	}
	if len(bins) > 0 {
		fmt.Fprintf(&sb, "%10.0f\n", bins[len(bins)-1].Upper)
	}
	return sb.String()
}

func toSortedFloats(data []int64) []float64 {
	x := make([]float64, len(data))
	for i, v := range data {
		x[i] = float64(v)
	}
	slices.Sort(x)
	return x
}

// Package testutil provides shared test fixtures for the backtester: price
// files in the on-disk CSV layout read by sim/prices and the catalog builder.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// BaseTime is the first sample time of generated files (12/01/2019 13:00 UTC).
const BaseTime = int64(1_575_205_200)

// RisingPrices yields 7400.125, 7401.125, ... for successive rows.
func RisingPrices(i int) string {
	return fmt.Sprintf("%d.125", 7400+i)
}

// FlatPrices yields 10.00 for every row.
func FlatPrices(int) string {
	return "10.00"
}

// WriteMinuteFile writes n one-minute rows for sym into dir, named after the
// first default template, with millisecond timestamps starting at BaseTime.
// price renders the Open, High, Low and Close columns of row i. It returns
// the file path.
func WriteMinuteFile(t testing.TB, dir, sym string, n int, price func(i int) string) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("Unix Timestamp,Date,Symbol,Open,High,Low,Close,Volume\n")
	for i := 0; i < n; i++ {
		ts := (BaseTime + int64(i)*60) * 1000
		p := price(i)
		fmt.Fprintf(&sb, "%d,2019-12-01,%sUSD,%s,%s,%s,%s,1.5\n", ts, sym, p, p, p, p)
	}
	path := filepath.Join(dir, fmt.Sprintf("gemini_%sUSD_2019_1min.csv", sym))
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

// Templates returns the default file templates rooted at dir.
func Templates(dir string) []string {
	return []string{
		filepath.Join(dir, "gemini_%sUSD_2019_1min.csv"),
		filepath.Join(dir, "%s_daily_bars.csv"),
	}
}

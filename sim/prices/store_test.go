package prices

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backtest-sim/backtest-sim/internal/testutil"
	"github.com/backtest-sim/backtest-sim/sim"
)

const baseTime = testutil.BaseTime

var (
	btc = sim.NewSymbol("BTC")
	eth = sim.NewSymbol("ETH")
)

func testStore(dir string) *Store {
	st := NewStore()
	st.Templates = testutil.Templates(dir)
	return st
}

func TestStore_LoadIncludesSampleBeforeTarget(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteMinuteFile(t, dir, "BTC", 10, testutil.RisingPrices)

	var s Series
	require.NoError(t, testStore(dir).Load(btc, baseTime+150, &s))

	require.Equal(t, 8, s.Len())
	assert.Equal(t, baseTime+120, s.Times[0], "chunk starts one sample at or before the target")
	assert.Equal(t, int64(740213), s.Prices[0], "7402.125 scaled by 100 and rounded")
	assert.Equal(t, baseTime+9*60, s.Times[7])
	assert.True(t, s.Tail)
	assert.Equal(t, btc, s.Symbol)
}

func TestStore_LoadExactMatchStartsAtPreviousRow(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteMinuteFile(t, dir, "BTC", 10, testutil.RisingPrices)

	var s Series
	require.NoError(t, testStore(dir).Load(btc, baseTime+180, &s))
	assert.Equal(t, baseTime+120, s.Times[0])
}

func TestStore_LoadBeforeFirstSample(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteMinuteFile(t, dir, "BTC", 5, testutil.RisingPrices)

	var s Series
	require.NoError(t, testStore(dir).Load(btc, baseTime-3600, &s))
	assert.Equal(t, baseTime, s.Times[0])
	assert.Equal(t, 5, s.Len())
}

func TestStore_LoadPastLastSampleKeepsFinalRow(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteMinuteFile(t, dir, "BTC", 5, testutil.RisingPrices)

	var s Series
	require.NoError(t, testStore(dir).Load(btc, baseTime+86400, &s))
	require.Equal(t, 1, s.Len())
	assert.Equal(t, baseTime+4*60, s.Times[0])
	assert.True(t, s.Tail)
}

func TestStore_LoadRespectsSeriesLength(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteMinuteFile(t, dir, "BTC", 10, testutil.RisingPrices)
	st := testStore(dir)
	st.SeriesLength = 3

	var s Series
	require.NoError(t, st.Load(btc, baseTime, &s))
	assert.Equal(t, 3, s.Len())
	assert.False(t, s.Tail)
}

func TestStore_FallsBackToDailyBars(t *testing.T) {
	dir := t.TempDir()
	daily := "Unix Timestamp,Open,Close\n" +
		"1575158400,7500.5,7600\n" +
		"1575244800,7550.25,7600\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ETH_daily_bars.csv"), []byte(daily), 0o644))

	var s Series
	require.NoError(t, testStore(dir).Load(eth, 1575200000, &s))
	assert.Equal(t, []int64{1575158400, 1575244800}, s.Times, "second timestamps are kept as-is")
	assert.Equal(t, []int64{750050, 755025}, s.Prices)
}

func TestStore_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("gemini_NOPNUSD_2019_1min.csv", "Unix Timestamp,Close\n1575205200000,1\n")
	write("gemini_BADUSD_2019_1min.csv", "Unix Timestamp,Open\n1575205200000,abc\n")

	tests := []struct {
		name string
		sym  sim.Symbol
		want error
	}{
		{"no file for symbol", sim.NewSymbol("XYZ"), sim.ErrDataUnavailable},
		{"missing price column", sim.NewSymbol("NOPN"), ErrMalformedData},
		{"unparsable price", sim.NewSymbol("BAD"), ErrMalformedData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Series
			err := testStore(dir).Load(tt.sym, baseTime, &s)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

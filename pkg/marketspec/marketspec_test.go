package marketspec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	cases := map[string]Timeframe{
		"15m":    Timeframe15m,
		"15min":  Timeframe15m,
		"1h":     Timeframe1h,
		"60min":  Timeframe1h,
		"4h":     Timeframe4h,
		" 15M  ": Timeframe15m,
	}
	for in, want := range cases {
		got, err := ParseTimeframe(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseTimeframe("30m")
	assert.Error(t, err)
}

func TestNewNormalizesSymbol(t *testing.T) {
	spec, err := New(" BTC ", "15m", "")
	require.NoError(t, err)
	assert.Equal(t, "btc", spec.Symbol)
	assert.Equal(t, "updown", spec.Kind)

	_, err = New("btc/usd", "15m", "updown")
	assert.Error(t, err, "symbol 只允许小写字母和数字")
}

// slug 时间戳按 unix epoch 对齐，和时区无关
func TestCurrentPeriodStartEpochAligned(t *testing.T) {
	spec, err := New("btc", "15m", "updown")
	require.NoError(t, err)

	// 1756100700 = 2026-08-25 05:45:00 UTC，正好是 900 的倍数
	now := time.Unix(1756100700+517, 0)
	start := spec.CurrentPeriodStartUnix(now)
	assert.Equal(t, int64(1756100700), start)
	assert.Equal(t, int64(0), start%900)

	// 换个时区结果不变
	loc := time.FixedZone("UTC+8", 8*3600)
	assert.Equal(t, start, spec.CurrentPeriodStartUnix(now.In(loc)))
}

func TestSlugRoundTrip(t *testing.T) {
	spec, err := New("btc", "15m", "updown")
	require.NoError(t, err)

	assert.Equal(t, "btc-updown-15m-1756100700", spec.Slug(1756100700))
	assert.Equal(t, "btc-updown-15m-", spec.SlugPrefix())
	assert.Equal(t, int64(1756101600), spec.NextPeriodStartUnix(1756100700))
}

func TestNextSlugsConsecutive(t *testing.T) {
	spec, err := New("eth", "1h", "updown")
	require.NoError(t, err)

	slugs := spec.NextSlugs(3)
	require.Len(t, slugs, 3)
	for _, s := range slugs {
		assert.Contains(t, s, "eth-updown-1h-")
	}
}

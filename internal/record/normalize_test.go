package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/price-harvester/internal/crawler"
)

func TestNormalizeRoundsFractionalPrices(t *testing.T) {
	t.Parallel()

	in := crawler.Record{Prices: crawler.Prices{
		Min: Price(0.1 + 0.2),
		Avg: Price(1.1234567891234),
		Max: Price(7),
	}}
	out := Normalize(in)

	require.NotNil(t, out.Prices.Min)
	assert.Equal(t, 0.3, *out.Prices.Min)
	assert.Equal(t, 1.123456789, *out.Prices.Avg)
	assert.Equal(t, 7.0, *out.Prices.Max)
	assert.InDelta(t, 1.1234567891234, *in.Prices.Avg, 1e-15, "input must stay untouched")
}

func TestEncodeURI(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://example.com/a%20b?q=%EB%B0%B0%EC%B6%94&x=1",
		EncodeURI("https://example.com/a b?q=배추&x=1"))
	assert.Equal(t, "https://example.com/a%20b", EncodeURI("https://example.com/a%20b"))
	assert.Equal(t, "https://example.com/plain", EncodeURI("https://example.com/plain"))
}

func TestWithDefaults(t *testing.T) {
	t.Parallel()

	d := crawler.Record{Country: "KR", Currency: "KRW", Type: "w", Unit: "kg"}
	got := WithDefaults(crawler.Record{Product: "apple", Unit: "box"}, d)
	assert.Equal(t, "KR", got.Country)
	assert.Equal(t, "KRW", got.Currency)
	assert.Equal(t, "w", got.Type)
	assert.Equal(t, "box", got.Unit)
	assert.Equal(t, "apple", got.Product)
}

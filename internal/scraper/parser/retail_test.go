package parser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const retailFixture = `<html><body>
<div class="product-card">
  <a href="/lego-star-wars-75192-i.12345.67890"></a>
  <div class="product-name">LEGO Star Wars 75192 Millennium Falcon</div>
  <div class="product-price">$1,299.00</div>
  <div class="product-sold">1.2k sold</div>
</div>
<div class="product-card">
  <a href="/lego-city-60292-i.11111.22222"></a>
  <div class="product-name">LEGO City 60292 <script>alert(1)</script>Town Center</div>
  <div class="product-price">$89.50</div>
  <div class="product-sold">37 sold</div>
</div>
</body></html>`

func TestParseRetailListings(t *testing.T) {
	listings, err := ParseRetailListings(retailFixture, "https://shop.example/search?q=lego")
	require.NoError(t, err)
	require.Len(t, listings, 2)

	first := listings[0]
	require.Equal(t, "12345.67890", first.ProductID)
	require.Equal(t, "LEGO Star Wars 75192 Millennium Falcon", first.Name)
	require.EqualValues(t, 129900, first.PriceCents)
	require.Equal(t, 1200, first.SoldCount)

	second := listings[1]
	require.EqualValues(t, 8950, second.PriceCents)
	require.Equal(t, 37, second.SoldCount)
	require.NotContains(t, second.Name, "script", "pasted markup must be sanitized out of names")
}

func TestParseRetailListingsEmpty(t *testing.T) {
	_, err := ParseRetailListings("<html><body><p>nothing here</p></body></html>", "https://shop.example")
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestParseSoldCount(t *testing.T) {
	cases := map[string]int{
		"1.2k sold": 1200,
		"345 sold":  345,
		"5k sold":   5000,
		"":          0,
		"garbage":   0,
	}
	for in, want := range cases {
		require.Equal(t, want, parseSoldCount(in), "input %q", in)
	}
}

package parser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Root-relative links must resolve against the page's actual host, not a
// hardcoded www prefix.
func TestAbsoluteURL(t *testing.T) {
	cases := map[string]string{
		"/img/75192.jpg":                  "https://cdn.bricklink.com/img/75192.jpg",
		"//static.example.com/75192.jpg":  "https://static.example.com/75192.jpg",
		"https://other.example/75192.jpg": "https://other.example/75192.jpg",
	}
	for href, want := range cases {
		got := absoluteURL("https://cdn.bricklink.com/catalog/catalogitem.page?S=75192-1", href)
		require.Equal(t, want, got, "href %q", href)
	}

	require.Equal(t, "http://apex.example/a.png",
		absoluteURL("http://apex.example/page", "/a.png"),
		"scheme and bare apex host must be preserved")
}

func TestParseMarketplaceItemIDFromURL(t *testing.T) {
	body := []byte(`<html><body><h1 id="item-name-title">Millennium Falcon</h1></body></html>`)
	item, err := ParseMarketplaceItem(body, "https://www.bricklink.com/catalog/catalogitem.page?S=75192-1")
	require.NoError(t, err)
	require.Equal(t, "75192-1", item.ItemID)
	require.Equal(t, "Millennium Falcon", item.Name)
}

package parser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMetadataSearchNoResults(t *testing.T) {
	body := []byte(`<html><body><div class="search-results"><p>No sets matched.</p></div></body></html>`)
	_, err := ParseMetadataSearch(body, "77243")
	require.True(t, IsSetNotFound(err))

	var nf *SetNotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "77243", nf.Identifier)
}

func TestParseMetadataSearchFindsProductLink(t *testing.T) {
	body := []byte(`<html><body><article class="set"><h1><a href="/sets/10179-1/">10179: Ultimate Falcon</a></h1></article></body></html>`)
	url, err := ParseMetadataSearch(body, "10179")
	require.NoError(t, err)
	require.Equal(t, "/sets/10179-1/", url)
}

func TestIsSetNotFoundOnOtherErrors(t *testing.T) {
	require.False(t, IsSetNotFound(&ParseError{Source: "x", Reason: "y"}))
	require.False(t, IsSetNotFound(nil))
}

package repository

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// Every stored body must survive the gzip round trip byte for byte.
func TestCompressDecompressRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte(""),
		[]byte("<html><body>hello</body></html>"),
		bytes.Repeat([]byte("lego "), 100000),
		{0x00, 0xff, 0x1f, 0x8b, 0x08},
	}

	for i, body := range cases {
		compressed, err := CompressBody(body)
		require.NoError(t, err, "case %d", i)

		restored, err := DecompressBody(compressed)
		require.NoError(t, err, "case %d", i)
		require.Equal(t, body, restored, "case %d", i)
	}
}

func TestCompressShrinksRepetitiveBodies(t *testing.T) {
	body := bytes.Repeat([]byte("<tr><td>75192</td></tr>"), 10000)
	compressed, err := CompressBody(body)
	require.NoError(t, err)
	require.Less(t, len(compressed), len(body)/10)
}

func TestDecompressRejectsGarbage(t *testing.T) {
	_, err := DecompressBody([]byte("definitely not gzip"))
	require.Error(t, err)
}

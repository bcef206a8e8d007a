package parser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const communityFixture = `{
  "data": {
    "children": [
      {"data": {"title": "Finally built my 75192 UCS Falcon!", "score": 2400}},
      {"data": {"title": "Is 75192 worth it in 2024?", "score": 180}},
      {"data": {"title": "Best Technic sets this year", "score": 900}}
    ]
  }
}`

func TestParseCommunitySearch(t *testing.T) {
	mention, err := ParseCommunitySearch([]byte(communityFixture), "75192")
	require.NoError(t, err)
	require.Equal(t, "75192", mention.SetNumber)
	require.Equal(t, 2, mention.MentionCount, "only titles containing the set number count")
	require.Equal(t, 2400, mention.TopPostScore)
	require.Contains(t, mention.TopPostTitle, "UCS Falcon")
}

func TestParseCommunitySearchZeroHitsIsValid(t *testing.T) {
	mention, err := ParseCommunitySearch([]byte(`{"data":{"children":[]}}`), "31120")
	require.NoError(t, err)
	require.Equal(t, 0, mention.MentionCount)
}

func TestParseCommunitySearchMalformed(t *testing.T) {
	_, err := ParseCommunitySearch([]byte("<html>not json</html>"), "31120")
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

package parser

import (
	"encoding/json"
	"strings"

	"github.com/wilson/brickwatch/internal/models"
)

// communitySearchResponse mirrors the board's JSON search envelope.
type communitySearchResponse struct {
	Data struct {
		Children []struct {
			Data struct {
				Title string `json:"title"`
				Score int    `json:"score"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// ParseCommunitySearch aggregates board search results for one set number
// into a mention record. Zero hits is a valid result, not a not-found: the
// set exists, nobody is talking about it.
func ParseCommunitySearch(body []byte, setNumber string) (*models.CommunityMention, error) {
	var resp communitySearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ParseError{Source: models.SourceCommunity, Reason: err.Error()}
	}

	mention := &models.CommunityMention{
		SetNumber:  setNumber,
		WindowDays: 30,
	}

	for _, child := range resp.Data.Children {
		title := child.Data.Title
		if !strings.Contains(title, setNumber) {
			continue
		}
		mention.MentionCount++
		if child.Data.Score > mention.TopPostScore {
			mention.TopPostScore = child.Data.Score
			mention.TopPostTitle = title
		}
	}

	return mention, nil
}

package parser

import (
	"bytes"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/pkg/utils"
)

var setNumberPattern = regexp.MustCompile(`^\d{3,7}(?:-\d+)?$`)

// ParseRetirementSets extracts every tracked set from the retirement
// tracker page. The page lists all themes in one fetch, so one parse
// produces the whole batch.
func ParseRetirementSets(body []byte, sourceURL string) ([]*models.RetirementSet, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{Source: models.SourceRetirementTracker, Reason: err.Error()}
	}

	var sets []*models.RetirementSet

	doc.Find(".theme-section, section.theme").Each(func(_ int, section *goquery.Selection) {
		theme := strings.TrimSpace(section.Find("h2, .theme-name").First().Text())

		section.Find("tr.set-row, .set-card").Each(func(_ int, row *goquery.Selection) {
			set := parseRetirementRow(row, theme)
			if set != nil {
				sets = append(sets, set)
			}
		})
	})

	// Flat table fallback when the page is not grouped by theme sections
	if len(sets) == 0 {
		doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
			set := parseRetirementRow(row, "")
			if set != nil {
				sets = append(sets, set)
			}
		})
	}

	if len(sets) == 0 {
		return nil, &ParseError{Source: models.SourceRetirementTracker, Reason: "no set rows found"}
	}
	return sets, nil
}

func parseRetirementRow(row *goquery.Selection, theme string) *models.RetirementSet {
	number := strings.TrimSpace(row.Find(".set-number, td.number").First().Text())
	if !setNumberPattern.MatchString(number) {
		return nil
	}

	set := &models.RetirementSet{
		SetNumber: number,
		Name:      strings.TrimSpace(row.Find(".set-name, td.name").First().Text()),
		Theme:     theme,
	}
	if set.Theme == "" {
		set.Theme = strings.TrimSpace(row.Find(".set-theme, td.theme").First().Text())
	}

	if price := strings.TrimSpace(row.Find(".set-price, td.price").First().Text()); price != "" {
		if cents, err := utils.ParseCurrency(price); err == nil {
			set.RetailPriceCents = cents
		}
	}

	if d := parseLooseDate(row.Find(".retirement-date, td.retiring").First().Text()); d != nil {
		set.ExpectedRetire = d
	}
	if d := parseLooseDate(row.Find(".retired-date, td.retired").First().Text()); d != nil {
		set.RetiredAt = d
	}

	return set
}

// parseLooseDate accepts the handful of date shapes the tracker renders.
func parseLooseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", "Jan 2006", "January 2006", "Q1 2006", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

package parser

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/pkg/utils"
)

// ParseMetadataSearch extracts the concrete product URL from a metadata-site
// search result page. A search with no product link means the set does not
// exist on the source and returns SetNotFoundError.
func ParseMetadataSearch(body []byte, setNumber string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", &ParseError{Source: models.SourceMetadataSite, Reason: err.Error()}
	}

	var productURL string
	doc.Find("article.set h1 a, .search-results a.set-link, a[href*='/sets/']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return true
		}
		productURL = href
		return false
	})

	if productURL == "" {
		return "", &SetNotFoundError{Identifier: setNumber}
	}
	return productURL, nil
}

// ParseMetadataProduct extracts set metadata from a product page.
func ParseMetadataProduct(body []byte, sourceURL string) (*models.SetMetadata, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{Source: models.SourceMetadataSite, Reason: err.Error()}
	}

	meta := &models.SetMetadata{ProductURL: sourceURL}

	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" {
		return nil, &ParseError{Source: models.SourceMetadataSite, Reason: "product title not found"}
	}
	// Titles render as "75192: Millennium Falcon"
	if idx := strings.Index(title, ":"); idx > 0 {
		meta.SetNumber = strings.TrimSpace(title[:idx])
		meta.Name = strings.TrimSpace(title[idx+1:])
	} else {
		meta.Name = title
	}

	doc.Find("dl dt, .featurebox dt").Each(func(i int, dt *goquery.Selection) {
		label := strings.ToLower(strings.TrimSpace(dt.Text()))
		value := strings.TrimSpace(dt.NextFiltered("dd").Text())
		if value == "" {
			return
		}
		switch label {
		case "set number", "number":
			meta.SetNumber = value
		case "theme":
			meta.Theme = value
		case "subtheme":
			meta.Subtheme = value
		case "year", "year released":
			if y, err := strconv.Atoi(value); err == nil {
				meta.Year = y
			}
		case "pieces":
			if n, err := strconv.Atoi(strings.ReplaceAll(value, ",", "")); err == nil {
				meta.Pieces = n
			}
		case "minifigs", "minifigures":
			if n, err := strconv.Atoi(value); err == nil {
				meta.Minifigs = n
			}
		case "rrp", "retail price":
			// RRP cells often list several currencies; take the first token
			first := strings.Fields(value)
			if len(first) > 0 {
				if cents, err := utils.ParseCurrency(first[0]); err == nil {
					meta.RRPCents = cents
				}
			}
		}
	})

	if meta.SetNumber == "" {
		return nil, &ParseError{Source: models.SourceMetadataSite, Reason: "set number not found on product page"}
	}

	if img, ok := doc.Find("img.set-image, .highslide img").First().Attr("src"); ok {
		meta.ImageURL = img
	}

	return meta, nil
}

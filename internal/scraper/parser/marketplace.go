package parser

import (
	"bytes"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/pkg/utils"
)

var itemIDPattern = regexp.MustCompile(`[?&](?:S|B|M|G|P)=([A-Za-z0-9.-]+)`)

// ParseMarketplaceItem extracts one catalog item from a marketplace item
// page. Prices land as integer cents.
func ParseMarketplaceItem(body []byte, sourceURL string) (*models.MarketplaceItem, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{Source: models.SourceMarketplace, Reason: err.Error()}
	}

	item := &models.MarketplaceItem{}

	if m := itemIDPattern.FindStringSubmatch(sourceURL); len(m) == 2 {
		item.ItemID = m[1]
	}

	name := strings.TrimSpace(doc.Find("#item-name-title").First().Text())
	if name == "" {
		name = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if name == "" {
		return nil, &ParseError{Source: models.SourceMarketplace, Reason: "item name not found"}
	}
	item.Name = name

	doc.Find("#yearReleasedSec, .year-released").Each(func(_ int, s *goquery.Selection) {
		if y, err := strconv.Atoi(strings.TrimSpace(s.Text())); err == nil && y > 1950 && y < 2100 {
			item.YearReleased = y
		}
	})

	// Price guide table: rows labelled Avg/Min/Max with a price cell each
	doc.Find("table.pcipgMainTable tr, table.price-guide tr").Each(func(_ int, row *goquery.Selection) {
		label := strings.ToLower(strings.TrimSpace(row.Find("td").First().Text()))
		priceText := strings.TrimSpace(row.Find("td").Last().Text())
		cents, err := utils.ParseCurrency(priceText)
		if err != nil {
			return
		}
		switch {
		case strings.Contains(label, "avg"):
			item.AvgPriceCents = cents
		case strings.Contains(label, "min"):
			item.MinPriceCents = cents
		case strings.Contains(label, "max"):
			item.MaxPriceCents = cents
		case strings.Contains(label, "times sold"):
			if n, err := strconv.Atoi(strings.ReplaceAll(priceText, ",", "")); err == nil {
				item.TimesSold = n
			}
		}
	})

	if sold := strings.TrimSpace(doc.Find("#_idTimesSold, .times-sold").First().Text()); sold != "" {
		if n, err := strconv.Atoi(strings.ReplaceAll(sold, ",", "")); err == nil {
			item.TimesSold = n
		}
	}
	item.VolumeBucket = volumeBucket(item.TimesSold)

	if img, ok := doc.Find("#_idImageMain img, img.item-image").First().Attr("src"); ok {
		item.ImageURL = absoluteURL(sourceURL, img)
	}

	return item, nil
}

// volumeBucket groups sale counts into the coarse buckets the analysis
// screens chart against.
func volumeBucket(timesSold int) string {
	switch {
	case timesSold <= 0:
		return ""
	case timesSold < 10:
		return "low"
	case timesSold < 100:
		return "medium"
	default:
		return "high"
	}
}

func absoluteURL(base, href string) string {
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	if strings.HasPrefix(href, "/") {
		if u, err := url.Parse(base); err == nil && u.Host != "" {
			return u.Scheme + "://" + u.Host + href
		}
	}
	return href
}

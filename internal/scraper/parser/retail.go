package parser

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/pkg/utils"
)

// textPolicy strips every tag from user-pasted fragments before any text
// reaches the database.
var textPolicy = bluemonday.StrictPolicy()

// ParseRetailListings extracts product cards (name, price, sold count) from
// user-pasted retail listing HTML. The paste is untrusted input: extracted
// text fields are sanitized before they leave this function.
func ParseRetailListings(pastedHTML string, sourceURL string) ([]*models.RetailListing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pastedHTML))
	if err != nil {
		return nil, &ParseError{Source: models.SourceRetailListing, Reason: err.Error()}
	}

	var listings []*models.RetailListing

	doc.Find("[data-sqe='item'], .shopee-search-item-result__item, .product-card").Each(func(i int, card *goquery.Selection) {
		name := textPolicy.Sanitize(strings.TrimSpace(card.Find("[data-sqe='name'], .product-name, .item-name").First().Text()))
		if name == "" {
			return
		}

		listing := &models.RetailListing{
			SourceURL: sourceURL,
			Name:      name,
		}

		if href, ok := card.Find("a").First().Attr("href"); ok {
			listing.ProductID = productIDFromHref(href)
		}
		if listing.ProductID == "" {
			listing.ProductID = slugify(name) + "-" + strconv.Itoa(i)
		}

		if price := strings.TrimSpace(card.Find(".product-price, .item-price, [data-sqe='price']").First().Text()); price != "" {
			if cents, err := utils.ParseCurrency(price); err == nil {
				listing.PriceCents = cents
			}
		}

		sold := strings.ToLower(strings.TrimSpace(card.Find(".product-sold, .item-sold, [data-sqe='sold']").First().Text()))
		listing.SoldCount = parseSoldCount(sold)

		listings = append(listings, listing)
	})

	if len(listings) == 0 {
		return nil, &ParseError{Source: models.SourceRetailListing, Reason: "no product cards found in pasted HTML"}
	}
	return listings, nil
}

// productIDFromHref pulls the trailing numeric id pair from listing URLs
// shaped like /product-name-i.12345.67890
func productIDFromHref(href string) string {
	idx := strings.LastIndex(href, "-i.")
	if idx < 0 {
		return ""
	}
	id := href[idx+3:]
	if q := strings.IndexByte(id, '?'); q >= 0 {
		id = id[:q]
	}
	id = strings.TrimSuffix(id, "/")
	if id == "" || strings.Count(id, ".") > 1 {
		return ""
	}
	return id
}

// parseSoldCount reads "1.2k sold" / "345 sold" style labels.
func parseSoldCount(s string) int {
	s = strings.TrimSuffix(s, " sold")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	multiplier := 1
	if strings.HasSuffix(s, "k") {
		multiplier = 1000
		s = strings.TrimSuffix(s, "k")
	}

	if strings.Contains(s, ".") {
		parts := strings.SplitN(s, ".", 2)
		whole, err1 := strconv.Atoi(parts[0])
		frac, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || len(parts[1]) != 1 {
			return 0
		}
		return whole*multiplier + frac*multiplier/10
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n * multiplier
}

func slugify(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

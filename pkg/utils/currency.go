package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// Prices travel through the whole stack as integer cents. These helpers
// convert between the display form ("1,234.56") and cents without ever
// touching floating point.

// FormatCurrency renders cents as a plain decimal string ("12.34").
func FormatCurrency(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ParseCurrency converts a price string to cents. It tolerates currency
// symbols, thousands separators and at most two decimal places.
func ParseCurrency(s string) (int64, error) {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimLeft(cleaned, "$€£SGDUSARMYPhp ")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return 0, fmt.Errorf("empty price string: %q", s)
	}

	negative := false
	if strings.HasPrefix(cleaned, "-") {
		negative = true
		cleaned = cleaned[1:]
	}

	whole := cleaned
	frac := "0"
	if idx := strings.IndexByte(cleaned, '.'); idx >= 0 {
		whole = cleaned[:idx]
		frac = cleaned[idx+1:]
		if len(frac) > 2 {
			return 0, fmt.Errorf("too many decimal places: %q", s)
		}
	}
	if whole == "" {
		whole = "0"
	}
	// Pad "5" -> "50" so .5 means 50 cents
	for len(frac) < 2 {
		frac += "0"
	}

	wholeN, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", s, err)
	}
	fracN, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", s, err)
	}

	cents := wholeN*100 + fracN
	if negative {
		cents = -cents
	}
	return cents, nil
}

package utils

import (
	"fmt"
	"net/url"
	"strings"
)

// GetDomain extracts the host (without port or www prefix) from a URL.
// This is the key the rate limiter buckets requests under.
func GetDomain(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}

	host := parsed.Hostname()
	if host == "" {
		return "", fmt.Errorf("URL has no host: %s", rawURL)
	}

	return strings.TrimPrefix(host, "www."), nil
}

// IsValidScrapeURL performs basic shape validation on a target URL.
func IsValidScrapeURL(rawURL string) bool {
	if len(rawURL) < 10 {
		return false
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

package utils

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// RobotsChecker manages robots.txt compliance checking
type RobotsChecker struct {
	cache     map[string]*robotsCacheEntry
	mu        sync.RWMutex
	userAgent string
	client    *http.Client
}

type robotsCacheEntry struct {
	data      *robotstxt.RobotsData
	expiresAt time.Time
}

// NewRobotsChecker creates a new robots.txt checker
func NewRobotsChecker(userAgent string) *RobotsChecker {
	return &RobotsChecker{
		cache:     make(map[string]*robotsCacheEntry),
		userAgent: userAgent,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// IsAllowed checks if the given URL may be scraped according to robots.txt.
// Missing or unreachable robots.txt allows by default.
func (rc *RobotsChecker) IsAllowed(targetURL string) (bool, error) {
	parsedURL, err := url.Parse(targetURL)
	if err != nil {
		return false, fmt.Errorf("invalid URL: %w", err)
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", parsedURL.Scheme, parsedURL.Host)

	rc.mu.RLock()
	cached, exists := rc.cache[robotsURL]
	rc.mu.RUnlock()

	if exists && time.Now().Before(cached.expiresAt) {
		return cached.data.TestAgent(parsedURL.Path, rc.userAgent), nil
	}

	robotsData, err := rc.fetchRobotsTxt(robotsURL)
	if err != nil {
		return true, nil
	}

	rc.mu.Lock()
	rc.cache[robotsURL] = &robotsCacheEntry{
		data:      robotsData,
		expiresAt: time.Now().Add(24 * time.Hour),
	}
	rc.mu.Unlock()

	return robotsData.TestAgent(parsedURL.Path, rc.userAgent), nil
}

// fetchRobotsTxt downloads and parses a robots.txt file
func (rc *RobotsChecker) fetchRobotsTxt(robotsURL string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequest(http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", rc.userAgent)

	resp, err := rc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return robotstxt.FromResponse(resp)
}

// ClearCache drops all cached robots.txt entries
func (rc *RobotsChecker) ClearCache() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.cache = make(map[string]*robotsCacheEntry)
}

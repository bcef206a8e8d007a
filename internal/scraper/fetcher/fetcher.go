package fetcher

import (
	"errors"
	"fmt"
)

// Mode selects how a page is fetched.
type Mode string

const (
	// ModeSimple is one HTTP GET with rotated headers.
	ModeSimple Mode = "simple"
	// ModeBrowser renders the page in headless Chrome with anti-detection.
	ModeBrowser Mode = "browser"
)

// Request describes one fetch.
type Request struct {
	URL             string
	Mode            Mode
	WaitForSelector string
	Headers         map[string]string
}

// Response is the outcome of a successful fetch.
type Response struct {
	Body        []byte
	Status      int
	FinalURL    string
	ContentType string
}

// HTTPError reports a non-success HTTP status.
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d from %s", e.Status, e.URL)
}

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == 404
}

// ErrTimeout wraps fetches that exceeded their deadline.
var ErrTimeout = errors.New("fetch timed out")

// ErrNetwork wraps transport-level failures (DNS, connect, reset).
var ErrNetwork = errors.New("network error")

// ErrRobotsDisallowed reports a robots.txt denial; it is terminal for the URL.
var ErrRobotsDisallowed = errors.New("robots.txt disallows scraping")

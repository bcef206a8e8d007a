package scraper

import "errors"

// Errors the worker pool inspects to decide between retryable and terminal
// job failures. Low-level fetch and parse errors are classified once, here
// at the scraper boundary; the queue only ever sees ack or fail.

// ErrInvalidInput reports a malformed identifier or URL. Never retried.
var ErrInvalidInput = errors.New("invalid scrape input")

// ErrCircuitOpen reports a short-circuited scrape. The job fails without
// consuming retry attempts.
var ErrCircuitOpen = errors.New("circuit breaker open")

package models

import "time"

// ScrapeSession is one row per scrape attempt that reaches the fetch stage.
type ScrapeSession struct {
	ID             int64     `json:"id"`
	Source         string    `json:"source"`
	SourceURL      string    `json:"source_url"`
	Status         string    `json:"status"`
	ProductsFound  int       `json:"products_found"`
	ProductsStored int       `json:"products_stored"`
	CreatedAt      time.Time `json:"created_at"`
}

// RawPayload holds the exact bytes of a fetched page, gzip-compressed,
// linked to the scrape session that fetched it.
type RawPayload struct {
	ID          int64     `json:"id"`
	SessionID   int64     `json:"session_id"`
	Source      string    `json:"source"`
	SourceURL   string    `json:"source_url"`
	Body        []byte    `json:"-"`
	ContentType string    `json:"content_type"`
	HTTPStatus  int       `json:"http_status"`
	ScrapedAt   time.Time `json:"scraped_at"`
}

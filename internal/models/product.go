package models

import "time"

// scrapeTracking carries the columns every source record table shares.
type scrapeTracking struct {
	ScrapeStatus       string     `json:"scrape_status"`
	LastScrapedAt      *time.Time `json:"last_scraped_at,omitempty"`
	NextScrapeAt       *time.Time `json:"next_scrape_at,omitempty"`
	ScrapeIntervalDays int        `json:"scrape_interval_days"`
	IsActive           bool       `json:"is_active"`
}

// MarketplaceItem is one catalog item on the marketplace source.
// All prices are integer cents.
type MarketplaceItem struct {
	ItemID        string `json:"item_id"`
	ItemType      string `json:"item_type"`
	Name          string `json:"name"`
	YearReleased  int    `json:"year_released,omitempty"`
	AvgPriceCents int64  `json:"avg_price_cents,omitempty"`
	MinPriceCents int64  `json:"min_price_cents,omitempty"`
	MaxPriceCents int64  `json:"max_price_cents,omitempty"`
	TimesSold     int    `json:"times_sold,omitempty"`
	VolumeBucket  string `json:"volume_bucket,omitempty"`
	ImageURL      string `json:"image_url,omitempty"`
	ImageStatus   string `json:"image_status,omitempty"`
	scrapeTracking
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RetirementSet is one set tracked by the retirement tracker.
type RetirementSet struct {
	SetNumber        string     `json:"set_number"`
	Name             string     `json:"name"`
	Theme            string     `json:"theme"`
	RetailPriceCents int64      `json:"retail_price_cents,omitempty"`
	ExpectedRetire   *time.Time `json:"expected_retirement,omitempty"`
	RetiredAt        *time.Time `json:"retired_at,omitempty"`
	scrapeTracking
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SetMetadata is the metadata-site record for one set number.
type SetMetadata struct {
	SetNumber   string `json:"set_number"`
	Name        string `json:"name"`
	Theme       string `json:"theme"`
	Subtheme    string `json:"subtheme,omitempty"`
	Year        int    `json:"year,omitempty"`
	Pieces      int    `json:"pieces,omitempty"`
	Minifigs    int    `json:"minifigs,omitempty"`
	RRPCents    int64  `json:"rrp_cents,omitempty"`
	ProductURL  string `json:"product_url,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	ImageStatus string `json:"image_status,omitempty"`
	scrapeTracking
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CommunityMention aggregates board activity for one set number.
type CommunityMention struct {
	SetNumber    string `json:"set_number"`
	MentionCount int    `json:"mention_count"`
	TopPostTitle string `json:"top_post_title,omitempty"`
	TopPostScore int    `json:"top_post_score,omitempty"`
	WindowDays   int    `json:"window_days"`
	scrapeTracking
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RetailListing is one parsed product card from a user-pasted retail page.
type RetailListing struct {
	ProductID  string    `json:"product_id"`
	SourceURL  string    `json:"source_url"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"price_cents"`
	SoldCount  int       `json:"sold_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Product is the cross-source product table row; source tables join against
// it to discover identifiers they have no record for yet.
type Product struct {
	SetNumber string    `json:"set_number"`
	ItemID    string    `json:"item_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ScrapeCandidate is one item a sweep considers enqueueing.
type ScrapeCandidate struct {
	Identifier string `json:"identifier"`
	URL        string `json:"url,omitempty"`
	ItemType   string `json:"item_type,omitempty"`
	// Overdue means next_scrape_at lagged by more than one full interval.
	Overdue bool `json:"overdue"`
	// IsNew means the identifier exists in products but has no row yet.
	IsNew bool `json:"is_new"`
}

// BatchResult reports the outcome of a multi-item upsert.
type BatchResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Total   int `json:"total"`
}

// SweepResult is the per-source outcome of one scheduler pass.
type SweepResult struct {
	Source       string         `json:"source"`
	ItemsFound   int            `json:"items_found"`
	JobsEnqueued int            `json:"jobs_enqueued"`
	Priorities   map[string]int `json:"priorities,omitempty"`
	Errors       []string       `json:"errors,omitempty"`
}

// DetectionResult reports the gaps found by the missing-data detector.
type DetectionResult struct {
	JobsEnqueued      int `json:"jobs_enqueued"`
	MissingMetadata   int `json:"missing_metadata"`
	MissingVolume     int `json:"missing_volume"`
	MissingRetirement int `json:"missing_retirement"`
}

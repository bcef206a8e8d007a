package scraper

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/pkg/logger"
)

// Downloader fetches record images on upsert. Failures are recorded in the
// record's image status column and never fail the owning scrape.
type Downloader struct {
	client  *http.Client
	logger  *logger.Logger
	enabled bool
}

// NewDownloader creates an image downloader; when disabled every call
// reports skipped.
func NewDownloader(enabled bool, log *logger.Logger) *Downloader {
	return &Downloader{
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  log.WithComponent("image-downloader"),
		enabled: enabled,
	}
}

// Download fetches the image and returns the status to store alongside the
// record.
func (d *Downloader) Download(ctx context.Context, imageURL string) string {
	if !d.enabled || imageURL == "" {
		return models.ImageStatusSkipped
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return models.ImageStatusFailed
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.WithError(err).Debugf("Image download failed: %s", imageURL)
		return models.ImageStatusFailed
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		d.logger.Debugf("Image download got status %d: %s", resp.StatusCode, imageURL)
		return models.ImageStatusFailed
	}

	// Drain so the connection can be reused; storage backends hook in here.
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 5<<20)); err != nil {
		return models.ImageStatusFailed
	}

	return models.ImageStatusSuccess
}

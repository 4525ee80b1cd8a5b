// Package ics reads public holiday calendars and writes approved schedules
// as iCalendar files.
package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	applog "taskcal/internal/log"
)

// maxFeedBytes bounds a single feed download.
const maxFeedBytes = 8 << 20

// Feed is one holiday calendar subscription.
type Feed struct {
	ID  string `yaml:"id" json:"id"`
	URL string `yaml:"url" json:"url" validate:"required,url"`
}

// FetchResult is the body of one feed, fresh or from the disk cache.
type FetchResult struct {
	Feed      Feed
	Body      []byte
	FromCache bool
}

type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads feeds with conditional requests. Each URL gets a cache
// directory holding the last body and its validators, which also serves as
// a fallback when the upstream is down.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

func NewFetcher(cacheDir string, client *http.Client) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, cacheDir: cacheDir}
}

// FetchAll fetches every feed. Failed feeds are logged and reported in
// errs; results holds only feeds that produced a body.
func (f *Fetcher) FetchAll(ctx context.Context, feeds []Feed) (results []FetchResult, errs []error) {
	for _, feed := range feeds {
		res, err := f.Fetch(ctx, feed)
		if err != nil {
			applog.Error("holiday feed fetch failed", err, "feed", feed.ID, "url", redactURL(feed.URL))
			errs = append(errs, fmt.Errorf("feed %s: %w", feed.ID, err))
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

// Fetch downloads one feed honoring ETag and Last-Modified.
func (f *Fetcher) Fetch(ctx context.Context, feed Feed) (FetchResult, error) {
	if feed.URL == "" {
		return FetchResult{}, errors.New("feed URL is empty")
	}
	dir := f.cachePath(feed.URL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return FetchResult{}, err
	}
	meta, _ := loadMeta(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, "body.ics"))

	fallback := func(cause error) (FetchResult, error) {
		if len(cached) == 0 {
			return FetchResult{}, cause
		}
		applog.Warn("holiday feed unavailable, using cached copy", "feed", feed.ID, "err", cause)
		return FetchResult{Feed: feed, Body: cached, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	req.Header.Set("Accept", "text/calendar")
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fallback(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
		if err != nil {
			return fallback(err)
		}
		if len(body) > maxFeedBytes {
			return fallback(fmt.Errorf("feed larger than %d bytes", maxFeedBytes))
		}
		next := cacheMeta{
			URL:          feed.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
		}
		if err := saveCache(dir, next, body); err != nil {
			applog.Error("holiday feed cache write failed", err, "feed", feed.ID)
		}
		applog.Debug("holiday feed fetched", "feed", feed.ID, "bytes", len(body))
		return FetchResult{Feed: feed, Body: body}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return FetchResult{}, errors.New("304 Not Modified without a cached body")
		}
		applog.Debug("holiday feed not modified", "feed", feed.ID)
		return FetchResult{Feed: feed, Body: cached, FromCache: true}, nil

	default:
		return fallback(errors.New(resp.Status))
	}
}

func (f *Fetcher) cachePath(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadMeta(dir string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}

// saveCache writes the body before the metadata so validators never point
// at a missing body.
func saveCache(dir string, meta cacheMeta, body []byte) error {
	if err := writeAtomic(filepath.Join(dir, "body.ics"), body); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, "meta.json"), data)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// redactURL keeps only scheme and host; feed paths often embed tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}

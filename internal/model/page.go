package model

import (
	"encoding/json"
	"time"
)

// Page is one rendered page of a brand site. Pages are never addressable
// on their own; they exist only inside a ScrapeResult.
type Page struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// ScrapeMeta records how a ScrapeResult was produced.
type ScrapeMeta struct {
	URL                  string    `json:"url"`
	Domain               string    `json:"domain"`
	CandidatesDiscovered int       `json:"candidates_discovered"`
	Probed               int       `json:"probed"`
	Scraped              int       `json:"scraped"`
	AfterDedupe          int       `json:"after_dedupe"`
	DurationMS           int64     `json:"duration_ms"`
	ScrapedAt            time.Time `json:"scraped_at"`
}

// ScrapeResult is the ordered page corpus for one canonical brand URL.
type ScrapeResult struct {
	Pages []Page     `json:"pages"`
	Meta  ScrapeMeta `json:"meta"`
}

// CacheEntry is a stored ScrapeResult, keyed by the canonical URL's hash.
// Entries are shared across runs; they belong to no Run. Body holds the
// marshaled ScrapeResult; the cache tiers never look inside it.
type CacheEntry struct {
	URLHash        string          `json:"url_hash"`
	URL            string          `json:"url"`
	Body           json.RawMessage `json:"body"`
	PageCount      int             `json:"page_count"`
	ScrapedAt      time.Time       `json:"scraped_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
	AccessCount    int             `json:"access_count"`
	LastAccessedAt time.Time       `json:"last_accessed_at"`
}

// Expired reports whether the entry is past its TTL.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

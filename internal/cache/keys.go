package cache

import (
	"crypto/sha1"
	"fmt"
	"time"
)

// ScrapeTTL is the default lifetime of a cached page.
const ScrapeTTL = time.Hour

// QuotaKey is the daily extraction counter for a client IP. day is the UTC
// date the window belongs to.
func QuotaKey(clientIP string, day time.Time) string {
	return fmt.Sprintf("quota:v1:%s:%s", day.UTC().Format(time.DateOnly), clientIP)
}

// ScrapeKey caches the reduced page content of a URL.
func ScrapeKey(url string) string {
	hash := sha1.Sum([]byte(url))
	return fmt.Sprintf("cache:v1:scrape:%x", hash)
}

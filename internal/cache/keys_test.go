package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQuotaKey_UsesUTCDay(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	// 21:00 in New York on the 14th is already the 15th in UTC.
	at := time.Date(2024, 3, 14, 21, 0, 0, 0, ny)
	assert.Equal(t, "quota:v1:2024-03-15:203.0.113.9", QuotaKey("203.0.113.9", at))
}

func TestScrapeKey(t *testing.T) {
	a := ScrapeKey("https://example.com/event")
	assert.Equal(t, a, ScrapeKey("https://example.com/event"))
	assert.NotEqual(t, a, ScrapeKey("https://example.com/other"))
	assert.True(t, strings.HasPrefix(a, "cache:v1:scrape:"))
	assert.Len(t, a, len("cache:v1:scrape:")+40)
}

// Package scrape fetches the pages behind detected URLs and reduces them to
// plain text for extraction.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"eventsnap/internal/cache"
)

const (
	DefaultUserAgent    = "Mozilla/5.0 (compatible; EventSnap/1.0; +https://github.com/eventsnap/eventsnap)"
	DefaultConcurrency  = 5
	DefaultMaxBodyBytes = 2 << 20
	DefaultTimeout      = 15 * time.Second
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ScrapedContent is the outcome of fetching one URL.
type ScrapedContent struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Cache stores reduced pages. *cache.RedisCache satisfies it.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

type Options struct {
	Client       *http.Client
	UserAgent    string
	Concurrency  int
	MaxBodyBytes int64
	Cache        Cache
	CacheTTL     time.Duration
}

type Scraper struct {
	client      *http.Client
	userAgent   string
	concurrency int
	maxBody     int64
	cache       Cache
	cacheTTL    time.Duration
}

func New(opts Options) *Scraper {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: DefaultTimeout}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = cache.ScrapeTTL
	}
	return &Scraper{
		client:      opts.Client,
		userAgent:   opts.UserAgent,
		concurrency: opts.Concurrency,
		maxBody:     opts.MaxBodyBytes,
		cache:       opts.Cache,
		cacheTTL:    opts.CacheTTL,
	}
}

// ScrapeAll fetches every URL concurrently and returns one result per URL in
// input order. A failing fetch never fails the others.
func (s *Scraper) ScrapeAll(ctx context.Context, urls []string) []ScrapedContent {
	results := make([]ScrapedContent, len(urls))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, u := range urls {
		g.Go(func() error {
			results[i] = s.Scrape(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	ok := 0
	for _, r := range results {
		if r.Status == StatusSuccess {
			ok++
		}
	}
	log.Info().Int("urls", len(urls)).Int("succeeded", ok).Msg("Scrape finished")
	return results
}

// Scrape fetches a single URL.
func (s *Scraper) Scrape(ctx context.Context, url string) ScrapedContent {
	key := cache.ScrapeKey(url)
	if s.cache != nil {
		var cached ScrapedContent
		if err := s.cache.GetJSON(ctx, key, &cached); err == nil {
			log.Debug().Str("url", url).Msg("Scrape cache hit")
			return cached
		} else if !errors.Is(err, cache.ErrKeyNotFound) {
			log.Warn().Err(err).Str("url", url).Msg("Scrape cache read failed")
		}
	}

	title, text, err := s.fetch(ctx, url)
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("Failed to scrape URL")
		return ScrapedContent{URL: url, Status: StatusError, Error: err.Error()}
	}

	res := ScrapedContent{URL: url, Title: title, Text: text, Status: StatusSuccess}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, res, s.cacheTTL); err != nil {
			log.Warn().Err(err).Str("url", url).Msg("Scrape cache write failed")
		}
	}
	return res
}

func (s *Scraper) fetch(ctx context.Context, url string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody))
	if err != nil {
		return "", "", fmt.Errorf("read body: %w", err)
	}

	title, text := Reduce(string(body))
	return title, text, nil
}

// Package pipeline orchestrates an extraction request end to end: quota,
// URL detection and scraping, the model call, and conversion of the result.
package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"eventsnap/internal/services/events"
	"eventsnap/internal/services/llm"
	"eventsnap/internal/services/queue"
	"eventsnap/internal/services/quota"
	"eventsnap/internal/services/scrape"
)

// MaxScrapeURLs caps how many links one request may ask to fetch.
const MaxScrapeURLs = 20

// Request is an extraction request as received from a client.
type Request struct {
	llm.Request
	// SkipURLDetection sends the text to extraction as-is.
	SkipURLDetection bool   `json:"skipUrlDetection,omitempty"`
	Filename         string `json:"filename,omitempty"`
}

// Scraper fetches pages. *scrape.Scraper satisfies it.
type Scraper interface {
	ScrapeAll(ctx context.Context, urls []string) []scrape.ScrapedContent
}

type Options struct {
	Extractor llm.Extractor
	Scraper   Scraper
	// Quota is optional; nil disables the daily limit.
	Quota *quota.Quota
	Queue *queue.Queue
	Now   func() time.Time
}

type Service struct {
	llm     llm.Extractor
	scraper Scraper
	quota   *quota.Quota
	queue   *queue.Queue
	now     func() time.Time
}

func New(opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		llm:     opts.Extractor,
		scraper: opts.Scraper,
		quota:   opts.Quota,
		queue:   opts.Queue,
		now:     opts.Now,
	}
}

// Extraction is a prepared batch extraction. It implements stream.Source;
// the model is called on the first Next.
type Extraction struct {
	Request llm.Request
	Source  events.Source
	Scraped []scrape.ScrapedContent

	batch   *llm.Batch
	counted sync.Once
	count   func(ctx context.Context)
}

// Next yields the next chunk of parsed events.
func (x *Extraction) Next(ctx context.Context) ([]events.ParsedEvent, bool, error) {
	chunk, ok, err := x.batch.Next(ctx)
	if err == nil && x.count != nil {
		x.counted.Do(func() { x.count(ctx) })
	}
	return chunk, ok, err
}

// Result is the full model answer once the first chunk was read.
func (x *Extraction) Result() *llm.BatchResult {
	return x.batch.Result()
}

// Parse extracts exactly one event.
func (s *Service) Parse(ctx context.Context, clientIP string, req Request) (*events.CalendarEvent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkQuota(ctx, clientIP); err != nil {
		return nil, err
	}

	parsed, err := s.llm.ParseEvent(ctx, req.Request)
	if err != nil {
		return nil, fmt.Errorf("parse event: %w", err)
	}
	s.incrementQuota(ctx, clientIP)

	source := events.SourceText
	if req.ImageBase64 != "" {
		source = events.SourceImage
	}
	e := s.convert([]events.ParsedEvent{*parsed}, req, source)[0]
	log.Info().Str("event_id", e.ID).Str("source", string(source)).Msg("Extracted event")
	return &e, nil
}

// Batch prepares a batch extraction. Validation, quota, URL detection and
// scraping happen here so their failures surface before any frame is
// written; the model call itself is deferred to the first Next.
func (s *Service) Batch(ctx context.Context, clientIP string, req Request) (*Extraction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkQuota(ctx, clientIP); err != nil {
		return nil, err
	}

	x := &Extraction{Request: req.Request, Source: events.SourceText}
	// Decided before URL expansion so page text cannot switch it on.
	x.Request.AllDay = req.WantsAllDay()
	if req.ImageBase64 != "" {
		x.Source = events.SourceImage
	}

	if strings.TrimSpace(req.Text) != "" && !req.SkipURLDetection {
		det, err := s.llm.DetectURLs(ctx, req.Text)
		if err != nil {
			return nil, fmt.Errorf("detect urls: %w", err)
		}
		if det.HasURLs {
			x.Scraped = s.scraper.ScrapeAll(ctx, det.URLs)
			x.Request.Text = scrape.Combine(det.RemainingText, x.Scraped)
			if x.Request.Text == "" && x.Request.ImageBase64 == "" {
				return nil, events.ErrNoExtractableContent
			}
			if x.Source == events.SourceText && anySucceeded(x.Scraped) {
				x.Source = events.SourceURL
			}
		}
	}

	batch, err := s.llm.ParseEventsBatch(ctx, x.Request)
	if err != nil {
		return nil, fmt.Errorf("parse events: %w", err)
	}
	x.batch = batch
	x.count = func(ctx context.Context) { s.incrementQuota(ctx, clientIP) }
	return x, nil
}

// Extract runs a batch extraction to completion and returns converted,
// deduplicated events. progress, when set, receives a percentage.
func (s *Service) Extract(ctx context.Context, clientIP string, req Request, progress func(int)) ([]events.CalendarEvent, error) {
	report := func(p int) {
		if progress != nil {
			progress(p)
		}
	}

	report(5)
	x, err := s.Batch(ctx, clientIP, req)
	if err != nil {
		return nil, err
	}
	report(25)

	var parsed []events.ParsedEvent
	for {
		chunk, ok, err := x.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		parsed = append(parsed, chunk...)
		if res := x.Result(); res != nil && len(res.Events) > 0 {
			report(25 + 65*len(parsed)/len(res.Events))
		}
	}

	req.AllDay = x.Request.AllDay
	converted := s.convert(parsed, req, x.Source)
	deduped := events.Deduplicate(converted)
	report(95)
	log.Info().
		Int("extracted", len(converted)).
		Int("after_dedup", len(deduped)).
		Str("source", string(x.Source)).
		Msg("Batch extraction finished")
	return deduped, nil
}

// SubmitJob queues a batch extraction. The request is validated up front;
// everything else happens on the queue.
func (s *Service) SubmitJob(clientIP string, req Request) (string, error) {
	if s.queue == nil {
		return "", errors.New("job queue is not configured")
	}
	if err := req.Validate(); err != nil {
		return "", err
	}

	typ := queue.TypeText
	if req.ImageBase64 != "" {
		typ = queue.TypeImage
	}
	meta := map[string]string{"clientIp": clientIP}
	if req.Filename != "" {
		meta["filename"] = req.Filename
	}

	id := s.queue.Add(typ, req, func(ctx context.Context, item queue.Item, progress func(int)) ([]events.CalendarEvent, error) {
		r, ok := item.Payload.(Request)
		if !ok {
			return nil, fmt.Errorf("unexpected payload %T", item.Payload)
		}
		return s.Extract(ctx, clientIP, r, progress)
	}, meta)
	return id, nil
}

// DetectURLs passes through to the model.
func (s *Service) DetectURLs(ctx context.Context, text string) (*llm.URLDetection, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text is required", events.ErrInvalidInput)
	}
	return s.llm.DetectURLs(ctx, text)
}

// Scrape fetches explicit URLs.
func (s *Service) Scrape(ctx context.Context, urls []string) ([]scrape.ScrapedContent, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: at least one url is required", events.ErrInvalidInput)
	}
	if len(urls) > MaxScrapeURLs {
		return nil, fmt.Errorf("%w: at most %d urls per request", events.ErrInvalidInput, MaxScrapeURLs)
	}
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%w: %q is not an http(s) url", events.ErrInvalidInput, raw)
		}
	}
	return s.scraper.ScrapeAll(ctx, urls), nil
}

// Quota reports the caller's remaining extractions.
func (s *Service) Quota(ctx context.Context, clientIP string) (quota.Status, error) {
	if s.quota == nil {
		return quota.Status{}, nil
	}
	st, err := s.quota.Check(ctx, clientIP)
	var rl *events.RateLimitError
	if errors.As(err, &rl) {
		return st, nil
	}
	return st, err
}

func (s *Service) checkQuota(ctx context.Context, clientIP string) error {
	if s.quota == nil {
		return nil
	}
	_, err := s.quota.Check(ctx, clientIP)
	return err
}

func (s *Service) incrementQuota(ctx context.Context, clientIP string) {
	if s.quota == nil {
		return
	}
	if _, err := s.quota.Increment(ctx, clientIP); err != nil {
		log.Error().Err(err).Str("client_ip", clientIP).Msg("Failed to record quota usage")
	}
}

// convert turns model output into events carrying the original input and
// the raw model output as attachments.
func (s *Service) convert(parsed []events.ParsedEvent, req Request, source events.Source) []events.CalendarEvent {
	var timezone string
	if req.ClientContext != nil {
		timezone = req.ClientContext.Timezone
	}
	opts := events.ConvertOptions{
		Source:         source,
		OriginalInput:  req.Text,
		ClientTimezone: timezone,
		ForceAllDay:    req.WantsAllDay(),
		Now:            s.now,
	}

	out := make([]events.CalendarEvent, len(parsed))
	for i, p := range parsed {
		// Each event owns its own copies of the input attachments.
		opts.Attachments = inputAttachments(req)
		e := events.FromParsed(p, opts)
		e.Attachments = append(e.Attachments, events.MetadataAttachment(p))
		out[i] = e
	}
	return out
}

func inputAttachments(req Request) []events.EventAttachment {
	var out []events.EventAttachment
	if req.ImageBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err == nil {
			name := req.Filename
			if name == "" {
				name = "original-image" + imageExt(req.ImageMimeType)
			}
			out = append(out, events.NewAttachment(name, req.ImageMimeType, events.AttachmentOriginalImage, data))
		} else {
			log.Warn().Err(err).Msg("Original image is not valid base64, not attaching it")
		}
	}
	if strings.TrimSpace(req.Text) != "" {
		out = append(out, events.NewAttachment("original-text.txt", "text/plain", events.AttachmentOriginalText, []byte(req.Text)))
	}
	return out
}

func imageExt(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/heic":
		return ".heic"
	default:
		return ""
	}
}

func anySucceeded(results []scrape.ScrapedContent) bool {
	for _, r := range results {
		if r.Status == scrape.StatusSuccess {
			return true
		}
	}
	return false
}

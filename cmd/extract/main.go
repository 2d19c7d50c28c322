// Command extract sends text to a running eventsnap server, collects the
// streamed events and prints them as JSON or writes an .ics file.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"eventsnap/internal/services/events"
	"eventsnap/internal/services/export"
	"eventsnap/internal/services/llm"
	"eventsnap/internal/services/stream"
)

const streamPath = "/api/v1/events/parse/stream"

type options struct {
	server       string
	icsPath      string
	timezone     string
	instructions string
	text         string
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		log.Error().Err(err).Msg("Extraction failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	opts, err := parseFlags(args, stdin)
	if err != nil {
		return err
	}

	parsed, err := fetch(ctx, http.DefaultClient, opts)
	if err != nil {
		return err
	}

	list := events.Deduplicate(events.FromParsedAll(parsed, events.ConvertOptions{
		Source:         events.SourceText,
		OriginalInput:  opts.text,
		ClientTimezone: opts.timezone,
		ForceAllDay:    llm.HasAllDayTrigger(opts.instructions),
	}))
	log.Info().Int("received", len(parsed)).Int("events", len(list)).Msg("Extraction finished")

	if opts.icsPath != "" {
		body, err := export.ICS(list, export.Options{})
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.icsPath, []byte(body), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", opts.icsPath, err)
		}
		log.Info().Str("path", opts.icsPath).Msg("Wrote calendar file")
		return nil
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(list)
}

func parseFlags(args []string, stdin io.Reader) (options, error) {
	var opts options
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	fs.StringVar(&opts.server, "server", "http://localhost:8080", "eventsnap server base URL")
	fs.StringVar(&opts.icsPath, "ics", "", "write an .ics file instead of printing JSON")
	fs.StringVar(&opts.timezone, "tz", "", "IANA timezone used to anchor relative dates (default: $TZ or UTC)")
	fs.StringVar(&opts.instructions, "instructions", "", "extra instructions for the model")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: extract [-server URL] [-ics out.ics] [-tz zone] text...")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	if opts.timezone == "" {
		opts.timezone = os.Getenv("TZ")
	}
	if opts.timezone == "" {
		opts.timezone = "UTC"
	}

	opts.text = strings.Join(fs.Args(), " ")
	if strings.TrimSpace(opts.text) == "" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return opts, fmt.Errorf("read stdin: %w", err)
		}
		opts.text = string(data)
	}
	if strings.TrimSpace(opts.text) == "" {
		return opts, errors.New("no text given")
	}
	return opts, nil
}

func fetch(ctx context.Context, client *http.Client, opts options) ([]events.ParsedEvent, error) {
	now := time.Now()
	if loc := events.LoadLocation(opts.timezone); loc != nil {
		now = now.In(loc)
	}

	payload, err := json.Marshal(llm.Request{
		Text:         opts.text,
		Instructions: opts.instructions,
		ClientContext: &llm.ClientContext{
			CurrentDateTime: now.Format(time.RFC3339),
			Timezone:        opts.timezone,
		},
	})
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(opts.server, "/") + streamPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", stream.ContentType)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, serverError(resp)
	}

	parsed, err := stream.Collect(resp.Body, func(f stream.Frame) {
		log.Debug().Int("chunk_index", f.ChunkIndex).Int("events", len(f.Events)).Msg("Chunk received")
	})
	if errors.Is(err, stream.ErrIncompleteStream) {
		return nil, fmt.Errorf("%w after %d event(s)", err, len(parsed))
	}
	return parsed, err
}

func serverError(resp *http.Response) error {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Error.Code == "" {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return fmt.Errorf("server returned %s: %s: %s", resp.Status, body.Error.Code, body.Error.Message)
}

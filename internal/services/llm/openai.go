package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog/log"

	"eventsnap/internal/services/events"
)

const defaultConfidence = 0.5

var errNoToolCall = errors.New("model response contained no tool call")

type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient talks to the OpenAI API or any compatible endpoint when
// baseURL is set. Retries are disabled: a failed call is the caller's to repeat.
func NewOpenAIClient(apiKey, model, baseURL string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	if model == "" {
		model = "gpt-4o-mini"
	}

	return &OpenAIClient{
		client: client,
		model:  model,
	}, nil
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string {
	return c.model
}

// toolEvent mirrors ParsedEvent with an optional confidence so a missing
// value can be told apart from zero.
type toolEvent struct {
	Title       *string  `json:"title"`
	StartDate   *string  `json:"startDate"`
	EndDate     *string  `json:"endDate"`
	AllDay      *bool    `json:"allDay"`
	Location    *string  `json:"location"`
	Description *string  `json:"description"`
	URL         *string  `json:"url"`
	Timezone    *string  `json:"timezone"`
	Confidence  *float64 `json:"confidence"`
}

func (t toolEvent) parsed() events.ParsedEvent {
	p := events.ParsedEvent{
		Title:       blankToNil(t.Title),
		StartDate:   blankToNil(t.StartDate),
		EndDate:     blankToNil(t.EndDate),
		AllDay:      t.AllDay,
		Location:    blankToNil(t.Location),
		Description: blankToNil(t.Description),
		URL:         blankToNil(t.URL),
		Timezone:    blankToNil(t.Timezone),
		Confidence:  defaultConfidence,
	}
	if t.Confidence != nil {
		p.Confidence = *t.Confidence
	}
	return p
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

// ParseEvent extracts a single event with the extract_event tool.
func (c *OpenAIClient) ParseEvent(ctx context.Context, req Request) (*events.ParsedEvent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	args, err := c.callTool(ctx, req, singleEventPrompt, false, toolExtractEvent,
		"Record the calendar event found in the input.", singleEventSchema())
	if err != nil {
		return nil, err
	}

	var te toolEvent
	if err := json.Unmarshal([]byte(args), &te); err != nil {
		return nil, &events.TransportError{Op: toolExtractEvent, Err: fmt.Errorf("decode tool arguments: %w", err)}
	}
	parsed := te.parsed()
	if parsed.Title == nil && parsed.StartDate == nil {
		return nil, events.ErrNoEventFound
	}

	log.Debug().
		Str("model", c.model).
		Float64("confidence", parsed.Confidence).
		Msg("Event extracted")
	return &parsed, nil
}

// ParseEventsBatch returns a Batch whose first Next performs the
// extract_events call.
func (c *OpenAIClient) ParseEventsBatch(ctx context.Context, req Request) (*Batch, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	fetch := func(ctx context.Context) (*BatchResult, error) {
		args, err := c.callTool(ctx, req, batchEventsPrompt, true, toolExtractEvents,
			"Record every calendar event found in the input.", batchEventsSchema())
		if err != nil {
			return nil, err
		}
		return decodeBatch(args)
	}
	return NewBatch(fetch, ChunkSize), nil
}

func decodeBatch(args string) (*BatchResult, error) {
	var raw struct {
		Events     []toolEvent `json:"events"`
		TotalCount int         `json:"totalCount"`
		Confidence *float64    `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(args), &raw); err != nil {
		return nil, &events.TransportError{Op: toolExtractEvents, Err: fmt.Errorf("decode tool arguments: %w", err)}
	}
	if len(raw.Events) == 0 {
		return nil, events.ErrNoEventFound
	}
	if len(raw.Events) > MaxBatchEvents {
		return nil, fmt.Errorf("%w: model returned %d events, limit is %d",
			events.ErrBatchLimitExceeded, len(raw.Events), MaxBatchEvents)
	}

	res := &BatchResult{
		Events:     make([]events.ParsedEvent, 0, len(raw.Events)),
		TotalCount: raw.TotalCount,
		Confidence: defaultConfidence,
	}
	if raw.Confidence != nil {
		res.Confidence = *raw.Confidence
	}
	for _, te := range raw.Events {
		res.Events = append(res.Events, te.parsed())
	}
	if res.TotalCount == 0 {
		res.TotalCount = len(res.Events)
	}
	return res, nil
}

// DetectURLs splits text into event links and the remaining prose.
func (c *OpenAIClient) DetectURLs(ctx context.Context, text string) (*URLDetection, error) {
	if strings.TrimSpace(text) == "" {
		return &URLDetection{URLs: []string{}, RemainingText: text}, nil
	}

	args, err := c.callTool(ctx, Request{Text: text}, detectURLsPrompt, false, toolDetectURLs,
		"Report the event links found in the text.", detectURLsSchema())
	if err != nil {
		return nil, err
	}

	var det URLDetection
	if err := json.Unmarshal([]byte(args), &det); err != nil {
		return nil, &events.TransportError{Op: toolDetectURLs, Err: fmt.Errorf("decode tool arguments: %w", err)}
	}

	urls := make([]string, 0, len(det.URLs))
	for _, u := range det.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	det.URLs = urls
	det.HasURLs = len(urls) > 0
	if !det.HasURLs && strings.TrimSpace(det.RemainingText) == "" {
		det.RemainingText = text
	}
	return &det, nil
}

// callTool sends one user message and forces the model to answer through
// the named function. It returns the raw JSON arguments.
func (c *OpenAIClient) callTool(ctx context.Context, req Request, prompt string, batch bool, name, description string, schema map[string]any) (string, error) {
	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(instructionText(prompt, req, batch)),
	}
	if req.ImageBase64 != "" {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: "data:" + req.ImageMimeType + ";base64," + req.ImageBase64,
		}))
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(parts),
		},
		Tools: []openai.ChatCompletionToolUnionParam{
			openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
				Name:        name,
				Description: openai.String(description),
				Parameters:  openai.FunctionParameters(schema),
			}),
		},
		ToolChoice: openai.ChatCompletionToolChoiceOptionUnionParam{
			OfFunctionToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: name},
			},
		},
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", &events.TransportError{Op: name, Err: err}
	}
	if len(resp.Choices) == 0 || len(resp.Choices[0].Message.ToolCalls) == 0 {
		return "", &events.TransportError{Op: name, Err: errNoToolCall}
	}

	call := resp.Choices[0].Message.ToolCalls[0]
	log.Debug().
		Str("tool", call.Function.Name).
		Int("prompt_tokens", int(resp.Usage.PromptTokens)).
		Int("completion_tokens", int(resp.Usage.CompletionTokens)).
		Msg("Tool call received")
	return call.Function.Arguments, nil
}

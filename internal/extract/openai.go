package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ent0n29/concierge/internal/booking"
)

const defaultExtractTimeout = 15 * time.Second

const extractSystemPrompt = `You extract room-booking criteria from a user message.
Reply with a single JSON object and nothing else:
{"date":"YYYY-MM-DD or empty","start_time":"HH:MM 24h or empty","end_time":"HH:MM 24h or empty","duration_minutes":0,"capacity":0,"amenities":["..."],"purpose":"..."}
Resolve relative dates against the anchor date given in the user message.
Leave a field empty or zero when the message does not state it. Never guess capacity.`

type criteriaPayload struct {
	Date            string   `json:"date"`
	StartTime       string   `json:"start_time"`
	EndTime         string   `json:"end_time"`
	DurationMinutes int      `json:"duration_minutes"`
	Capacity        int      `json:"capacity"`
	Amenities       []string `json:"amenities"`
	Purpose         string   `json:"purpose"`
}

// OpenAIExtractor asks a chat-completion model for structured criteria and
// resolves the reply against the supplied anchor.
type OpenAIExtractor struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAIExtractor(cfg Config) *OpenAIExtractor {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultExtractTimeout
	}
	return &OpenAIExtractor{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		timeout: timeout,
	}
}

func (e *OpenAIExtractor) Extract(ctx context.Context, text string, anchor time.Time) (booking.Criteria, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return booking.Criteria{}, missingFieldFailure("date", "start_time", "capacity")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("anchor date: %s (%s)\nmessage: %s", anchor.Format("2006-01-02"), anchor.Weekday(), text)},
		},
	})
	if err != nil {
		return booking.Criteria{}, &Failure{Kind: KindServiceUnavailable, Detail: "chat completion failed", Err: err}
	}
	if len(resp.Choices) == 0 {
		return booking.Criteria{}, &Failure{Kind: KindParseFailure, Detail: "empty completion"}
	}

	var payload criteriaPayload
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return booking.Criteria{}, &Failure{Kind: KindParseFailure, Detail: "malformed completion JSON", Err: err}
	}
	return buildCriteria(payload, anchor)
}

// buildCriteria validates a model payload and resolves it into concrete times.
func buildCriteria(p criteriaPayload, anchor time.Time) (booking.Criteria, error) {
	var missing []string

	date, dateOK := time.Time{}, false
	if strings.TrimSpace(p.Date) != "" {
		date, dateOK = resolveDate(p.Date, anchor)
	}
	if !dateOK {
		missing = append(missing, "date")
	}

	startClock, startOK := time.Duration(0), false
	if strings.TrimSpace(p.StartTime) != "" {
		startClock, startOK = parseClock(p.StartTime)
	}
	if !startOK {
		missing = append(missing, "start_time")
	}

	if p.Capacity < 1 {
		missing = append(missing, "capacity")
	}

	if len(missing) > 0 {
		return booking.Criteria{}, missingFieldFailure(missing...)
	}

	start := date.Add(startClock)
	var end time.Time
	switch {
	case strings.TrimSpace(p.EndTime) != "":
		endClock, ok := parseClock(p.EndTime)
		if !ok {
			return booking.Criteria{}, &Failure{Kind: KindParseFailure, Detail: fmt.Sprintf("bad end_time %q", p.EndTime)}
		}
		end = date.Add(endClock)
		if !end.After(start) {
			end = end.AddDate(0, 0, 1)
		}
	case p.DurationMinutes > 0:
		end = start.Add(time.Duration(p.DurationMinutes) * time.Minute)
	default:
		end = start.Add(time.Hour)
	}

	amenities := make([]string, 0, len(p.Amenities))
	for _, a := range p.Amenities {
		a = strings.TrimSpace(strings.ToLower(a))
		if a != "" {
			amenities = append(amenities, a)
		}
	}
	if len(amenities) == 0 {
		amenities = nil
	}

	c := booking.Criteria{
		Date:      date,
		Start:     start,
		End:       end,
		Capacity:  p.Capacity,
		Amenities: amenities,
		Purpose:   strings.TrimSpace(p.Purpose),
	}
	if err := c.Validate(); err != nil {
		return booking.Criteria{}, &Failure{Kind: KindParseFailure, Detail: err.Error(), Err: err}
	}
	return c, nil
}

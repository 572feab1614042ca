package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/concierge/internal/booking"
)

// Extractor turns a free-text booking request into structured criteria.
// The anchor fixes "tomorrow" and friends to a known instant so extraction
// stays deterministic under test.
type Extractor interface {
	Extract(ctx context.Context, text string, anchor time.Time) (booking.Criteria, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, text string, anchor time.Time) (booking.Criteria, error)

func (f ExtractorFunc) Extract(ctx context.Context, text string, anchor time.Time) (booking.Criteria, error) {
	return f(ctx, text, anchor)
}

// Config controls extractor construction.
type Config struct {
	Mode    string
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

func NewExtractor(cfg Config) (Extractor, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewOpenAIExtractor(cfg), nil
		}
		return NewRuleExtractor(), nil
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("extractor API key is required for openai mode")
		}
		return NewOpenAIExtractor(cfg), nil
	case "rules":
		return NewRuleExtractor(), nil
	default:
		return nil, fmt.Errorf("unsupported extractor mode %q", cfg.Mode)
	}
}

// Package caption asks an external service to describe an image.
//
// Backends implement Describer. Resilient wraps one with the timeout, retry,
// circuit breaker, rate limit and concurrency bound every caller needs, and
// strips markup from whatever the service answers.
package caption

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/a11yfix/config"
)

// ErrNoCredentials is returned when no API key is configured. Callers treat
// it as a degraded state, not a failure worth retrying.
var ErrNoCredentials = errors.New("caption: no credentials configured")

// Describer returns alternative text for the image at imageURL.
type Describer interface {
	Describe(ctx context.Context, imageURL string) (string, error)
}

// Func adapts a function to Describer.
type Func func(ctx context.Context, imageURL string) (string, error)

// Describe calls f.
func (f Func) Describe(ctx context.Context, imageURL string) (string, error) {
	return f(ctx, imageURL)
}

type none struct{}

func (none) Describe(context.Context, string) (string, error) { return "", ErrNoCredentials }

// None returns a Describer that always reports missing credentials.
func None() Describer { return none{} }

// FromConfig builds the configured backend wrapped in Resilient.
func FromConfig(cfg config.CaptionConfig, logger *slog.Logger) (*Resilient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var backend Describer
	switch cfg.Backend {
	case "", "none":
		backend = None()
	case "http":
		backend = NewHTTP(cfg.Endpoint, cfg.APIKey, &http.Client{})
	case "openai":
		backend = NewOpenAI(cfg.APIKey, cfg.Model, cfg.Endpoint)
	default:
		return nil, fmt.Errorf("caption: unknown backend %q", cfg.Backend)
	}
	return NewResilient(backend,
		WithTimeout(cfg.Timeout),
		WithRetries(cfg.Retries, cfg.Backoff),
		WithRate(cfg.Rate),
		WithConcurrency(cfg.Concurrency),
		WithLogger(logger),
	), nil
}

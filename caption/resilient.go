package caption

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hazyhaar/a11yfix/connectivity"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "a11yfix_caption_requests_total",
		Help: "Caption requests by outcome.",
	}, []string{"outcome"})
	requestSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "a11yfix_caption_request_seconds",
		Help:    "Caption request latency including retries.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
)

// maxAltLength bounds the text kept from a service answer.
const maxAltLength = 150

// Resilient wraps a Describer with per-attempt timeout, retries with
// exponential backoff, a circuit breaker, a rate limit and a concurrency
// bound. Answers are reduced to plain text.
type Resilient struct {
	next    Describer
	handler connectivity.Handler
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	breaker *connectivity.Breaker
	policy  *bluemonday.Policy
	logger  *slog.Logger

	timeout     time.Duration
	retries     int
	backoff     time.Duration
	rps         float64
	concurrency int64
}

// Option configures a Resilient.
type Option func(*Resilient)

// WithTimeout bounds each attempt. Default: 10s.
func WithTimeout(d time.Duration) Option { return func(r *Resilient) { r.timeout = d } }

// WithRetries sets the retry count and the first backoff. Default: 2, 500ms.
func WithRetries(n int, backoff time.Duration) Option {
	return func(r *Resilient) { r.retries, r.backoff = n, backoff }
}

// WithRate limits requests per second. Zero or less disables the limit.
func WithRate(rps float64) Option { return func(r *Resilient) { r.rps = rps } }

// WithConcurrency bounds in-flight requests. Default: 4.
func WithConcurrency(n int64) Option { return func(r *Resilient) { r.concurrency = n } }

// WithBreaker replaces the default breaker (5 failures, 30s).
func WithBreaker(b *connectivity.Breaker) Option { return func(r *Resilient) { r.breaker = b } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Resilient) { r.logger = l } }

// NewResilient wraps next.
func NewResilient(next Describer, opts ...Option) *Resilient {
	r := &Resilient{
		next:        next,
		timeout:     10 * time.Second,
		retries:     2,
		backoff:     500 * time.Millisecond,
		concurrency: 4,
		policy:      bluemonday.StrictPolicy(),
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.breaker == nil {
		r.breaker = connectivity.NewBreaker(5, 30*time.Second)
	}
	if r.concurrency <= 0 {
		r.concurrency = 1
	}
	r.sem = semaphore.NewWeighted(r.concurrency)
	if r.rps > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(r.rps), 1)
	}

	r.handler = connectivity.Chain(
		connectivity.WithBreaker(r.breaker, "caption"),
		connectivity.WithRetry(r.retries, r.backoff, r.logger),
		connectivity.WithTimeout(r.timeout),
	)(r.attempt)
	return r
}

func (r *Resilient) attempt(ctx context.Context, payload []byte) ([]byte, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	text, err := r.next.Describe(ctx, string(payload))
	if errors.Is(err, ErrNoCredentials) {
		return nil, connectivity.Permanent(err)
	}
	if err != nil {
		return nil, err
	}
	return []byte(text), nil
}

// Describe implements Describer.
func (r *Resilient) Describe(ctx context.Context, imageURL string) (string, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("caption: acquire: %w", err)
	}
	defer r.sem.Release(1)

	start := time.Now()
	out, err := r.handler(ctx, []byte(imageURL))
	requestSeconds.Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, ErrNoCredentials):
		requestsTotal.WithLabelValues("no_credentials").Inc()
		return "", ErrNoCredentials
	case err != nil:
		var open *connectivity.ErrCircuitOpen
		if errors.As(err, &open) {
			requestsTotal.WithLabelValues("circuit_open").Inc()
		} else {
			requestsTotal.WithLabelValues("error").Inc()
		}
		r.logger.WarnContext(ctx, "caption: describe failed", "url", imageURL, "error", err)
		return "", err
	}
	requestsTotal.WithLabelValues("ok").Inc()
	return r.Clean(string(out)), nil
}

// Clean strips markup and surrounding quotes, collapses whitespace and
// truncates to a sane alt text length.
func (r *Resilient) Clean(s string) string {
	s = html.UnescapeString(r.policy.Sanitize(s))
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, "\"'“”")
	if runes := []rune(s); len(runes) > maxAltLength {
		s = strings.TrimSpace(string(runes[:maxAltLength]))
	}
	return s
}

// Breaker exposes the circuit breaker state.
func (r *Resilient) Breaker() *connectivity.Breaker { return r.breaker }

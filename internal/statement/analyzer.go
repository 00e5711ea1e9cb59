package statement

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"
)

// MaxRetries bounds oracle attempts per analysis.
const MaxRetries = 3

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

// Analysis is the outcome of analysing one statement.
type Analysis struct {
	Parsed
	EffectiveRate float64  `json:"effectiveRate"`
	Insights      []string `json:"insights"`
}

// Analyzer runs the oracle over statement text and sanitises its reply.
type Analyzer struct {
	oracle  Oracle
	log     *slog.Logger
	now     func() time.Time
	backoff func(attempt int) time.Duration
}

func NewAnalyzer(o Oracle, log *slog.Logger) *Analyzer {
	if log == nil {
		log = slog.Default()
	}
	return &Analyzer{oracle: o, log: log, now: time.Now, backoff: Backoff}
}

// Analyze retries transient oracle failures with backoff, honouring a
// server-supplied Retry-After when it is longer.
func (a *Analyzer) Analyze(ctx context.Context, text string) (Analysis, error) {
	var (
		raw     string
		lastErr error
	)
	for attempt := range MaxRetries {
		raw, lastErr = a.oracle.ExtractFields(ctx, text)
		if lastErr == nil || !IsRetryable(lastErr) || attempt == MaxRetries-1 {
			break
		}
		wait := a.backoff(attempt)
		var re *RetryableError
		if errors.As(lastErr, &re) && re.RetryAfter > wait {
			wait = re.RetryAfter
		}
		a.log.Warn("retryable oracle error", "attempt", attempt, "wait", wait, "error", lastErr)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return Analysis{}, ctx.Err()
		}
	}
	if lastErr != nil {
		return Analysis{}, lastErr
	}

	parsed, err := Parse(raw, a.now())
	if err != nil {
		return Analysis{}, err
	}
	if len(parsed.Defaulted) > 0 {
		a.log.Info("statement fields defaulted", "count", len(parsed.Defaulted), "fields", parsed.Defaulted)
	}
	return Analysis{
		Parsed:        parsed,
		EffectiveRate: EffectiveRate(parsed.Data),
		Insights:      Insights(parsed.Data),
	}, nil
}

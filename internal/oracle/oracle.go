package oracle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aretw0/droidscout/internal/logging"
	"github.com/aretw0/droidscout/pkg/ports"
	"github.com/cenkalti/backoff/v4"
)

// Oracle wraps a Classifier with reply parsing and bounded retries.
// A failed attempt is either a classifier error or an unparseable reply.
type Oracle struct {
	classifier ports.Classifier
	attempts   int
	delay      time.Duration
	logger     *slog.Logger
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithAttempts sets the total number of attempts per question (default 3).
func WithAttempts(n int) Option {
	return func(o *Oracle) {
		if n > 0 {
			o.attempts = n
		}
	}
}

// WithDelay sets the fixed wait between attempts (default 600ms).
func WithDelay(d time.Duration) Option {
	return func(o *Oracle) {
		o.delay = d
	}
}

// WithLogger sets the logger used to report failed attempts.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Oracle) {
		o.logger = logger
	}
}

// New creates an Oracle over c.
func New(c ports.Classifier, opts ...Option) *Oracle {
	o := &Oracle{
		classifier: c,
		attempts:   3,
		delay:      600 * time.Millisecond,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Ask sends req and decodes the reply into out, retrying with a fixed backoff.
// The last error is returned once every attempt has failed; callers then apply their own default.
func (o *Oracle) Ask(ctx context.Context, req ports.Request, out any) error {
	attempt := 0
	op := func() error {
		attempt++
		resp, err := o.classifier.Classify(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			o.logger.Warn("classifier call failed", "task", req.Task, "attempt", attempt, "error", err)
			return err
		}
		if err := Decode(resp.Text, out); err != nil {
			o.logger.Warn("classifier reply rejected", "task", req.Task, "attempt", attempt, "error", err)
			return err
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.delay), uint64(o.attempts-1)),
		ctx,
	)
	err := backoff.Retry(op, policy)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

// Text sends req and returns the trimmed reply text without JSON decoding.
// It is used for free-form answers such as one-sentence descriptions.
func (o *Oracle) Text(ctx context.Context, req ports.Request) (string, error) {
	var text string
	op := func() error {
		resp, err := o.classifier.Classify(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		text = resp.Text
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.delay), uint64(o.attempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return "", perm.Err
		}
		return "", err
	}
	return trimReply(text), nil
}

package app

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/thanhcanhit/bond-hub-call/internal/config"
)

// RetryPolicy bounds one retried operation: exponential backoff up to
// MaxAttempts total tries. A MaxAttempts of zero means a single try.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
}

func policyFromConfig(cfg *config.Config, maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Initial:     cfg.RetryInitial,
		Max:         cfg.RetryMax,
		Multiplier:  cfg.RetryMultiplier,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = p.Initial
	ebo.MaxInterval = p.Max
	ebo.Multiplier = p.Multiplier
	ebo.MaxElapsedTime = 0

	var b backoff.BackOff = ebo
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(ebo, uint64(p.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// withRetry runs op under the policy. An abort of the negotiation queue is
// never retried: teardown has started and the caller must fall back to its
// recovery path instead of hammering a dying session.
func withRetry(ctx context.Context, name string, p RetryPolicy, op func(context.Context) error) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNegotiationAborted) || errors.Is(err, ErrStaleSession) || errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		log.Warn().
			Err(err).
			Str("module", "app").
			Str("op", name).
			Int("attempt", attempt).
			Int("max", p.MaxAttempts).
			Msg("operation failed, backing off")
		return err
	}, p.backOff(ctx))
}

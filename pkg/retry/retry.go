// Package retry runs an operation with bounded exponential backoff and a
// per-attempt timeout. Only errors the policy classifies as transient are
// retried; everything else is returned on first sight.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Policy struct {
	// Total budget across attempts; 10s when zero.
	MaxElapsed time.Duration
	// Deadline given to each attempt; none when zero.
	AttemptTimeout time.Duration
	// First wait; 25ms when zero.
	InitialInterval time.Duration
	// Nil means nothing is retried.
	Transient func(error) bool
	Log       *slog.Logger
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 25 * time.Millisecond
	if p.InitialInterval > 0 {
		bo.InitialInterval = p.InitialInterval
	}
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 10 * time.Second
	if p.MaxElapsed > 0 {
		bo.MaxElapsedTime = p.MaxElapsed
	}
	return backoff.WithContext(bo, ctx)
}

// Do calls op until it succeeds, fails permanently, or the budget runs out.
// The last attempt's error is returned unwrapped so callers can errors.Is it.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempt := 0
	wrapped := func() error {
		attempt++
		actx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		defer cancel()

		err := op(actx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || p.Transient == nil || !p.Transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		if p.Log != nil {
			p.Log.Warn("retrying transient failure", "attempt", attempt, "wait", wait, "err", err)
		}
	}
	return backoff.RetryNotify(wrapped, p.backOff(ctx), notify)
}

package model

import (
	"context"
	"errors"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/logging"
)

// RetryOptions configures WithRetry.
type RetryOptions struct {
	MaxRetries uint64
	// NewBackOff builds the policy for one Generate call.
	NewBackOff func() backoff.BackOff
	Logger     logging.Logger
}

// RetryModel retries Generate calls that fail with core.ErrTransientService
// before the first chunk is delivered. Once output has been forwarded a
// failure is reported as is, since replaying would duplicate content.
type RetryModel struct {
	inner Model
	opts  RetryOptions
}

// WithRetry wraps m with exponential backoff retries.
func WithRetry(m Model, optFns ...func(o *RetryOptions)) *RetryModel {
	opts := RetryOptions{
		MaxRetries: 3,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &RetryModel{inner: m, opts: opts}
}

// Info implements Model.
func (r *RetryModel) Info() Info { return r.inner.Info() }

// Generate implements Model.
func (r *RetryModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	out := make(chan Response)
	errOut := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errOut)

		attempt := 0
		op := func() error {
			attempt++
			started, err := r.forward(ctx, req, out)
			if err == nil {
				return nil
			}
			if !started && errors.Is(err, core.ErrTransientService) {
				r.opts.Logger.Warn("model.retry", "attempt", attempt, "model", r.inner.Info().Name, "error", err.Error())
				return err
			}
			return backoff.Permanent(err)
		}

		b := backoff.WithContext(backoff.WithMaxRetries(r.opts.NewBackOff(), r.opts.MaxRetries), ctx)
		if err := backoff.Retry(op, b); err != nil {
			errOut <- err
		}
	}()

	return out, errOut
}

// forward runs one attempt, reporting whether any chunk reached the caller.
func (r *RetryModel) forward(ctx context.Context, req Request, out chan<- Response) (bool, error) {
	respCh, errCh := r.inner.Generate(ctx, req)
	started := false

	var firstErr error
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return started, ctx.Err()
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			select {
			case out <- resp:
				started = true
			case <-ctx.Done():
				return started, ctx.Err()
			}
		}
	}

	return started, firstErr
}

var _ Model = (*RetryModel)(nil)

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides the retry policy and HTTP helpers shared by
// the download and reference stages.
package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/pdiddy/arxiv-harvest/pkg/types"
)

const defaultMaxAttempts = 5

// ErrRetriesExhausted wraps the last error once a bounded policy gives up.
var ErrRetriesExhausted = errors.New("retries exhausted")

// SleepScale multiplies every wait passed to Sleep. Tests set it near zero.
var SleepScale = 1.0

// DownloadPolicy is the archive metadata policy: 5 attempts, waits of
// min(60s * 2^attempt, 600s) plus up to 5s of jitter.
func DownloadPolicy() types.RetryPolicy {
	return types.RetryPolicy{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   60 * time.Second,
		MaxDelay:    600 * time.Second,
		Jitter:      5 * time.Second,
	}
}

// ReferencePolicy is the bibliographic API policy: a fixed 2s delay,
// bounded at 10 attempts. Set Unbounded to poll until cancelled.
func ReferencePolicy() types.RetryPolicy {
	return types.RetryPolicy{
		MaxAttempts: 10,
		BaseDelay:   2 * time.Second,
		Fixed:       true,
	}
}

// ProbePolicy is used for existence probes during range resolution.
func ProbePolicy() types.RetryPolicy {
	return types.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   3 * time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      time.Second,
	}
}

// MaxAttempts returns the attempt bound for p, or -1 when unbounded.
func MaxAttempts(p types.RetryPolicy) int {
	if p.Unbounded {
		return -1
	}
	if p.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return p.MaxAttempts
}

// Backoff returns the jitter-free wait after the given zero-based attempt.
func Backoff(p types.RetryPolicy, attempt int) time.Duration {
	if p.Fixed {
		return p.BaseDelay
	}
	d := time.Duration(math.Pow(2, float64(attempt)) * float64(p.BaseDelay))
	if p.MaxDelay > 0 && (d > p.MaxDelay || d < 0) {
		d = p.MaxDelay
	}
	return d
}

// Delay returns Backoff plus a random jitter in [0, p.Jitter).
func Delay(p types.RetryPolicy, attempt int) time.Duration {
	d := Backoff(p, attempt)
	if p.Jitter > 0 {
		d += rand.N(p.Jitter)
	}
	return d
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the
// latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	d = time.Duration(float64(d) * SleepScale)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry runs op until it succeeds, returns an error that retryable rejects,
// runs out of attempts, or ctx ends. notify, when non-nil, is called before
// each wait. Exhaustion returns an error wrapping both ErrRetriesExhausted
// and the last error from op.
func Retry(ctx context.Context, p types.RetryPolicy, retryable func(error) bool, notify func(attempt int, wait time.Duration, err error), op func(context.Context) error) error {
	limit := MaxAttempts(p)
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !retryable(err) {
			return err
		}
		if limit > 0 && attempt+1 >= limit {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt+1, err)
		}

		wait := Delay(p, attempt)
		if notify != nil {
			notify(attempt+1, wait, err)
		}
		if err := Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// IsThrottledStatus reports whether an HTTP status asks the caller to back off.
func IsThrottledStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

// DoWithRetry executes an HTTP request and retries on HTTP 429 and 503
// responses using p. On each throttled response the body is drained and
// closed before sleeping. Transport errors are returned immediately. If the
// context is cancelled during a backoff wait the function returns
// ctx.Err(). After exhausting attempts the last throttled response is
// returned so the caller can inspect it.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, p types.RetryPolicy) (*http.Response, error) {
	limit := MaxAttempts(p)
	for attempt := 0; ; attempt++ {
		resp, err := client.Do(req.Clone(ctx))
		if err != nil {
			return nil, err
		}

		if !IsThrottledStatus(resp.StatusCode) {
			return resp, nil
		}

		if limit > 0 && attempt+1 >= limit {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if err := Sleep(ctx, Delay(p, attempt)); err != nil {
			return nil, err
		}
	}
}

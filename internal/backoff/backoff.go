// Package backoff provides cancellable waits between retries of an operation
// that is expected to succeed eventually, such as reading a path another
// process has not written yet.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Waiter blocks between attempts. attempt is 1-based. Wait returns the
// context error if ctx is cancelled first.
type Waiter interface {
	Wait(ctx context.Context, attempt int) error
}

// Config shapes the delay of an Exponential waiter.
type Config struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// Delay returns the retry delay for attempt N (1-based).
func Delay(cfg Config, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// Fixed waits the same interval before every retry.
type Fixed time.Duration

// Wait implements Waiter.
func (f Fixed) Wait(ctx context.Context, _ int) error {
	return sleep(ctx, time.Duration(f))
}

// Exponential grows the delay with every attempt.
type Exponential struct {
	Config Config

	mu  sync.Mutex
	rng *rand.Rand
}

// NewExponential creates an exponential waiter. A nil rng disables jitter
// randomness but keeps the fixed 0.5 factor when Jitter is set.
func NewExponential(cfg Config, rng *rand.Rand) *Exponential {
	return &Exponential{Config: cfg, rng: rng}
}

// Wait implements Waiter.
func (e *Exponential) Wait(ctx context.Context, attempt int) error {
	e.mu.Lock()
	d := Delay(e.Config, attempt, e.rng)
	e.mu.Unlock()
	return sleep(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Func adapts a function to the Waiter interface. Tests use it to make data
// available between attempts without sleeping.
type Func func(ctx context.Context, attempt int) error

// Wait implements Waiter.
func (f Func) Wait(ctx context.Context, attempt int) error {
	return f(ctx, attempt)
}

// Retry calls op until it reports done, waiting between attempts. It stops on
// the first error from op or from the waiter.
func Retry(ctx context.Context, w Waiter, op func(attempt int) (done bool, err error)) error {
	for attempt := 1; ; attempt++ {
		done, err := op(attempt)
		if err != nil || done {
			return err
		}
		if err := w.Wait(ctx, attempt); err != nil {
			return err
		}
	}
}

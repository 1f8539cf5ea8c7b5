package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/kjannette/pvpc-backend/internal/models"
)

// Options control the retry envelope around an operation.
type Options struct {
	MaxRetries int // retries after the first attempt
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	MaxJitter  time.Duration
	RetryIf    func(error) bool
}

// DefaultOptions returns 3 retries, 1s base delay doubling up to 30s, and up to 1s of jitter.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2,
		MaxJitter:  1 * time.Second,
		RetryIf:    IsRetryable,
	}
}

func (o Options) normalized() Options {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 1 * time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.Multiplier < 1 {
		o.Multiplier = 2
	}
	if o.MaxJitter < 0 {
		o.MaxJitter = 0
	}
	if o.RetryIf == nil {
		o.RetryIf = IsRetryable
	}
	return o
}

// Delay is the wait before retry number attempt (1-based):
// min(base*mult^(attempt-1) + jitter, max), with jitter in [0, MaxJitter) scaled by r in [0,1).
func (o Options) Delay(attempt int, r float64) time.Duration {
	o = o.normalized()
	if attempt < 1 {
		attempt = 1
	}
	exp := float64(o.BaseDelay) * math.Pow(o.Multiplier, float64(attempt-1))
	d := exp + r*float64(o.MaxJitter)
	if d > float64(o.MaxDelay) {
		return o.MaxDelay
	}
	return time.Duration(d)
}

// BreakerSettings configure the circuit breaker of an Executor.
type BreakerSettings struct {
	FailureThreshold  uint32        // consecutive failures that open the circuit
	RecoveryTimeout   time.Duration // time spent open before probing
	HalfOpenSuccesses uint32        // consecutive successes that close it again
}

// Executor wraps one logical resource with retry and a circuit breaker.
// One instance is shared by every caller of that resource.
type Executor struct {
	name string
	cb   *gobreaker.CircuitBreaker
	log  zerolog.Logger

	onStateChange func(name, from, to string)
	sleep         func(ctx context.Context, d time.Duration) error
	random        func() float64

	mu          sync.Mutex
	lastFailure time.Time
}

// NewExecutor builds an executor; onStateChange may be nil.
func NewExecutor(name string, bs BreakerSettings, log zerolog.Logger, onStateChange func(name, from, to string)) *Executor {
	if bs.FailureThreshold == 0 {
		bs.FailureThreshold = 5
	}
	if bs.RecoveryTimeout <= 0 {
		bs.RecoveryTimeout = 60 * time.Second
	}
	if bs.HalfOpenSuccesses == 0 {
		bs.HalfOpenSuccesses = 2
	}

	e := &Executor{
		name:          name,
		log:           log.With().Str("breaker", name).Logger(),
		onStateChange: onStateChange,
		sleep:         sleepCtx,
		random:        rand.Float64,
	}

	threshold := bs.FailureThreshold
	e.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: bs.HalfOpenSuccesses,
		Timeout:     bs.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: e.stateChanged,
	})
	return e
}

func (e *Executor) Name() string { return e.name }

func (e *Executor) stateChanged(name string, from, to gobreaker.State) {
	ev := e.log.Info()
	if to == gobreaker.StateOpen {
		ev = e.log.Error()
	}
	ev.Str("from", stateName(from)).Str("to", stateName(to)).Msg("circuit breaker transition")
	if e.onStateChange != nil {
		e.onStateChange(name, stateName(from), stateName(to))
	}
}

// ExecuteWithCircuitBreaker runs op once through the breaker. While the circuit
// is open, op is not invoked and the error wraps ErrCircuitOpen.
func (e *Executor) ExecuteWithCircuitBreaker(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := e.cb.Execute(func() (interface{}, error) {
		return nil, op(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", e.name, ErrCircuitOpen)
	}
	if err != nil {
		e.mu.Lock()
		e.lastFailure = time.Now()
		e.mu.Unlock()
	}
	return err
}

// ExecuteWithRetry runs op with backoff retries, each attempt routed through the breaker.
func (e *Executor) ExecuteWithRetry(ctx context.Context, op func(ctx context.Context) error, opts Options) error {
	_, err := Retry(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts)
	return err
}

// Retry runs op up to opts.MaxRetries+1 times. An error rejected by opts.RetryIf
// fails immediately wrapping ErrNonRetryable; a spent budget wraps ErrExhaustedRetries.
func Retry[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	opts = opts.normalized()
	var zero T
	var lastErr error

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := opts.Delay(attempt, e.random())
			e.log.Info().
				Int("attempt", attempt).
				Int("maxRetries", opts.MaxRetries).
				Dur("delay", delay).
				Msg("retrying operation")
			if err := e.sleep(ctx, delay); err != nil {
				return zero, fmt.Errorf("retry aborted: %w (last error: %v)", err, lastErr)
			}
		}

		var result T
		err := e.ExecuteWithCircuitBreaker(ctx, func(ctx context.Context) error {
			var opErr error
			result, opErr = op(ctx)
			return opErr
		})
		if err == nil {
			if attempt > 0 {
				e.log.Info().Int("retries", attempt).Msg("operation succeeded after retries")
			}
			return result, nil
		}
		lastErr = err

		if !opts.RetryIf(err) {
			e.log.Error().Err(err).Msg("non-retryable error")
			return zero, fmt.Errorf("%w: %w", ErrNonRetryable, err)
		}
		if attempt == opts.MaxRetries {
			e.log.Error().Err(err).Int("maxRetries", opts.MaxRetries).Msg("max retries exceeded")
			break
		}
		e.log.Warn().Err(err).Int("attempt", attempt+1).Msg("attempt failed")
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhaustedRetries, opts.MaxRetries+1, lastErr)
}

// Status is a snapshot of the breaker for health reporting.
func (e *Executor) Status() models.CircuitBreakerState {
	state := e.cb.State()
	counts := e.cb.Counts()

	e.mu.Lock()
	last := e.lastFailure
	e.mu.Unlock()

	st := models.CircuitBreakerState{
		Name:            e.name,
		State:           stateName(state),
		FailureCount:    counts.ConsecutiveFailures,
		LastFailureTime: last,
	}
	if state == gobreaker.StateHalfOpen {
		st.SuccessCount = counts.ConsecutiveSuccesses
	}
	return st
}

func stateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return "OPEN"
	case gobreaker.StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

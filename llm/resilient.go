package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// DefaultTimeout bounds a single completion, retries included.
const DefaultTimeout = 30 * time.Second

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("llm: circuit breaker open")

// Resilient wraps a Provider with a per-call timeout and a circuit breaker.
// A cancelled caller context does not count against the breaker.
type Resilient struct {
	next    Provider
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

var _ VisionProvider = (*Resilient)(nil)

// NewResilient wraps p. A zero timeout uses DefaultTimeout.
func NewResilient(name string, p Provider, timeout time.Duration) *Resilient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resilient{
		next:    p,
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 3,
			Interval:    30 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				slog.Warn("llm: circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// Chat runs the wrapped Chat under the timeout and breaker.
func (r *Resilient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return r.execute(ctx, func(ctx context.Context) (*ChatResponse, error) {
		return r.next.Chat(ctx, req)
	})
}

// ChatWithImages requires the wrapped provider to support vision.
func (r *Resilient) ChatWithImages(ctx context.Context, req VisionChatRequest) (*ChatResponse, error) {
	vp, ok := r.next.(VisionProvider)
	if !ok {
		return nil, errors.New("llm: provider does not support images")
	}
	return r.execute(ctx, func(ctx context.Context) (*ChatResponse, error) {
		return vp.ChatWithImages(ctx, req)
	})
}

// State reports the breaker state, mainly for health endpoints.
func (r *Resilient) State() string {
	return r.breaker.State().String()
}

func (r *Resilient) execute(ctx context.Context, fn func(context.Context) (*ChatResponse, error)) (*ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.breaker.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	return result.(*ChatResponse), nil
}

// Package resilience wraps an upstream resourceloader.Loader call with
// failsafe-go retry and circuit-breaker policies. A cache miss or
// revalidation goes through here before it touches the network; policies
// are opt-in and disabled unless configured.
package resilience

import (
	"context"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/sandrolain/respcache/resourceloader"
)

// Config holds the resilience policies applied to upstream fetches.
// A nil field disables that policy.
type Config struct {
	RetryPolicy    retrypolicy.RetryPolicy[*resourceloader.Response]
	CircuitBreaker circuitbreaker.CircuitBreaker[*resourceloader.Response]
}

// RetryPolicyBuilder returns a retry builder preconfigured to retry on
// network errors and 5xx upstream statuses, up to three retries (four
// attempts in all) with exponential backoff from 100ms to 10s.
func RetryPolicyBuilder() retrypolicy.Builder[*resourceloader.Response] {
	return retrypolicy.NewBuilder[*resourceloader.Response]().
		HandleIf(func(r *resourceloader.Response, err error) bool {
			if err != nil {
				return true
			}
			return r != nil && r.Status >= 500
		}).
		WithMaxRetries(3).
		WithBackoff(100*time.Millisecond, 10*time.Second)
}

// CircuitBreakerBuilder returns a circuit breaker builder preconfigured to
// open after 5 consecutive failures and probe again after 60s.
func CircuitBreakerBuilder() circuitbreaker.Builder[*resourceloader.Response] {
	return circuitbreaker.NewBuilder[*resourceloader.Response]().
		HandleIf(func(r *resourceloader.Response, err error) bool {
			if err != nil {
				return true
			}
			return r != nil && r.Status >= 500
		}).
		WithFailureThreshold(5).
		WithSuccessThreshold(2).
		WithDelay(60 * time.Second)
}

// Loader wraps a resourceloader.Loader, running SendRequest through the
// configured policies. A Config with no policies set behaves exactly like
// the wrapped Loader.
type Loader struct {
	next resourceloader.Loader
	cfg  Config
}

// Wrap returns a Loader that applies cfg's policies around next.
func Wrap(next resourceloader.Loader, cfg Config) *Loader {
	return &Loader{next: next, cfg: cfg}
}

func (l *Loader) SendRequest(ctx context.Context, method string, addr resourceloader.Address, header http.Header, body []byte) (*resourceloader.Response, error) {
	fn := func() (*resourceloader.Response, error) {
		return l.next.SendRequest(ctx, method, addr, header, body)
	}

	var policies []failsafe.Policy[*resourceloader.Response]
	if l.cfg.RetryPolicy != nil {
		policies = append(policies, l.cfg.RetryPolicy)
	}
	if l.cfg.CircuitBreaker != nil {
		policies = append(policies, l.cfg.CircuitBreaker)
	}
	if len(policies) == 0 {
		return fn()
	}
	return failsafe.With(policies...).Get(fn)
}

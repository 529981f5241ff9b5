package device

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Gateway so that every call waits for a limiter token.
type RateLimited struct {
	next    Gateway
	limiter *rate.Limiter
}

// NewRateLimited limits calls to rps per second. rps <= 0 defaults to 10.
func NewRateLimited(next Gateway, rps float64) *RateLimited {
	if rps <= 0 {
		rps = 10.0
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *RateLimited) List(ctx context.Context, kind Kind) ([]Entity, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.List(ctx, kind)
}

func (r *RateLimited) Set(ctx context.Context, kind Kind, id, attr, value string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.next.Set(ctx, kind, id, attr, value)
}

func (r *RateLimited) Create(ctx context.Context, kind Kind, id string, args Attributes) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.next.Create(ctx, kind, id, args)
}

func (r *RateLimited) Delete(ctx context.Context, kind Kind, id string, args Attributes) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.next.Delete(ctx, kind, id, args)
}

func (r *RateLimited) Apply(ctx context.Context, kind Kind, id string, attrs Attributes) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.next.Apply(ctx, kind, id, attrs)
}

package webhook

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often a failed send is repeated. MaxRetries counts
// additional attempts after the first one.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, Delay: time.Second}
}

// BackOff yields Delay exactly MaxRetries times, then stops. It also stops
// once ctx is done.
func (p RetryPolicy) BackOff(ctx context.Context) backoff.BackOff {
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(retries))
	return backoff.WithContext(b, ctx)
}

package integrations

import (
	"context"
	"time"

	"github.com/avast/retry-go"
)

// RetryPolicy is the shared backoff policy for every outbound WeKan call:
// exponential backoff with jitter, bounded by Attempts. Only transient errors
// are retried; terminal 4xx surface immediately.
type RetryPolicy struct {
	Attempts  uint
	Delay     time.Duration
	MaxJitter time.Duration
}

func NewRetryPolicy(attempts int, delay time.Duration) RetryPolicy {
	if attempts < 1 {
		attempts = 1
	}
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	return RetryPolicy{
		Attempts:  uint(attempts),
		Delay:     delay,
		MaxJitter: delay / 2,
	}
}

func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	return retry.Do(
		op,
		retry.Context(ctx),
		retry.Attempts(p.Attempts),
		retry.Delay(p.Delay),
		retry.MaxJitter(p.MaxJitter),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsTransient),
	)
}

package crashstore

import (
	"context"

	"github.com/cenkalti/backoff/v5"
)

// retryDelete runs del until it succeeds, reports the target already gone,
// or the policy runs out of attempts. It returns true when this caller
// removed the target.
func retryDelete(ctx context.Context, policy RetryPolicy, del func() (bool, error)) (bool, error) {
	return backoff.Retry(ctx, del,
		backoff.WithBackOff(backoff.NewConstantBackOff(policy.Delay)),
		backoff.WithMaxTries(policy.MaxTries),
	)
}

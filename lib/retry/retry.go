package retry

import (
	"context"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("retry")

// Retry calls f up to attempts times, sleeping sleep between tries and
// doubling it each time. Only errors retryable reports true for are
// retried; anything else is returned immediately. Meant for idempotent
// reads like blockhash fetches and directory pages.
func Retry[T any](ctx context.Context, attempts int, sleep time.Duration, retryable func(error) bool, f func() (T, error)) (result T, err error) {
	for i := 0; i < attempts; i++ {
		if i > 0 {
			log.Infof("retrying after error: %s", err)
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return result, ctx.Err()
			}
			sleep *= 2
		}
		result, err = f()
		if err == nil || !retryable(err) {
			return result, err
		}
	}
	log.Errorf("failed after %d attempts, last error: %s", attempts, err)
	return result, err
}

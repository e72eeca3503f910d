package exchange

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/pvelab/graphtrader/internal/logger"
	"github.com/pvelab/graphtrader/pkg/errors"
)

// Do runs fn with the venue retry policy: up to three attempts with
// increasing delays (1s then 3s). A rejection carrying ErrCodeExchangeClient
// is the caller's fault and is never retried; everything else counts as
// transient.
func Do(ctx context.Context, log *logger.Logger, op string, fn func() error) error {
	if log == nil {
		log = logger.NewNopLogger()
	}

	delays := []time.Duration{time.Second, 3 * time.Second}
	attempt := 0

	policy := backoff.WithContext(&sliceBackOff{delays: delays}, ctx)

	err := backoff.Retry(func() error {
		attempt++

		err := fn()
		if err == nil {
			return nil
		}

		if errors.HasCode(err, errors.ErrCodeExchangeClient) {
			return backoff.Permanent(err)
		}

		log.Warn("exchange call failed, will retry",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))

		return err
	}, policy)

	if err == nil {
		return nil
	}

	if errors.HasCode(err, errors.ErrCodeExchangeClient) {
		return err
	}

	return errors.Wrapf(errors.ErrCodeRetryExhausted, err, "%s failed after %d attempts", op, attempt)
}

// sliceBackOff replays a fixed delay schedule and then stops. It gives the
// retry helper exactly len(delays)+1 attempts.
type sliceBackOff struct {
	delays []time.Duration
	next   int
}

var _ backoff.BackOff = (*sliceBackOff)(nil)

func (b *sliceBackOff) NextBackOff() time.Duration {
	if b.next >= len(b.delays) {
		return backoff.Stop
	}

	d := b.delays[b.next]
	b.next++

	return d
}

func (b *sliceBackOff) Reset() { b.next = 0 }

// Package timer runs periodic jobs on a jittered ticker.
package timer

import (
	"context"
	"math/rand"
	"reflect"
	"runtime"
	"time"

	"github.com/lthibault/jitterbug"

	log "github.com/sirupsen/logrus"
)

type Interval struct {
	Duration time.Duration
	Jitter   time.Duration
}

// symmetricJitter spreads ticks uniformly within +/- MaxJitter of the base duration.
type symmetricJitter struct {
	MaxJitter time.Duration
}

func (j symmetricJitter) Jitter(d time.Duration) time.Duration {
	if j.MaxJitter >= d {
		log.Fatal("symmetricJitter: MaxJitter must be smaller than the base duration")
	}
	if j.MaxJitter == 0 {
		return d
	}
	return d - j.MaxJitter + time.Duration(rand.Int63n(int64(2*j.MaxJitter)))
}

// RunWithTicker runs f periodically at the given interval. It exits when the
// context is cancelled or when f returns an error.
func RunWithTicker(ctx context.Context, interval *Interval, f func(ctx context.Context) error) error {
	funcName := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()

	j := jitterbug.New(interval.Duration, &symmetricJitter{MaxJitter: interval.Jitter})
	defer j.Stop()

	log.Debugf("RunWithTicker: running %s with interval %v (jitter %v)", funcName, interval.Duration, interval.Jitter)

	for {
		select {
		case <-ctx.Done():
			log.Debugf("RunWithTicker: context cancelled for %s", funcName)
			return ctx.Err()
		case <-j.C:
			if err := f(ctx); err != nil {
				log.Errorf("RunWithTicker: function %s returned error: %v", funcName, err)
				return err
			}
		}
	}
}

package scheduler

import (
	"context"
	"time"

	"marlin/internal/logger"
)

// Aligned runs a task on wall-clock boundaries of Interval, plus an
// Offset. Aligning to the candle interval means every pass sees a
// freshly closed bar instead of a half-formed one.
type Aligned struct {
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewAligned(interval, offset time.Duration) *Aligned {
	return &Aligned{Interval: interval, Offset: offset, nowFn: time.Now}
}

// Start blocks until ctx is canceled, invoking task at every aligned
// boundary.
func (s *Aligned) Start(ctx context.Context, task func()) {
	if s == nil || task == nil {
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("scheduler: invalid interval %s, exiting", s.Interval)
		return
	}
	if s.Offset < 0 {
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if s.RunImmediately {
		task()
	}

	for {
		now := s.nowFn().UTC()
		wakeAt, wait := s.next(now)
		logger.Debugf("scheduler: next run at %s (in %s)",
			wakeAt.Format(time.RFC3339), wait.Truncate(time.Second))

		if wait <= 0 {
			task()
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("scheduler: stopped")
			return
		case <-timer.C:
		}
		task()
	}
}

func (s *Aligned) next(now time.Time) (wakeAt time.Time, wait time.Duration) {
	boundary := now.Truncate(s.Interval).Add(s.Interval)
	wakeAt = boundary.Add(s.Offset)
	return wakeAt, wakeAt.Sub(now)
}

// Package scheduler runs periodic background jobs, one goroutine per job.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Ticker abstracts time.Ticker so tests can drive ticks by hand.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory builds a ticker for an interval. Nil means time.NewTicker.
type TickerFactory func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func newRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

type Scheduler struct {
	Log     *zap.Logger
	Tickers TickerFactory

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start launches every job on its own interval. A job error is logged and
// the ticker keeps running; a panic inside a job is recovered the same way.
func (s *Scheduler) Start(jobs ...Job) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	newTicker := s.Tickers
	if newTicker == nil {
		newTicker = newRealTicker
	}

	for _, job := range jobs {
		job := job
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			tk := newTicker(job.Every)
			defer tk.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-tk.C():
					s.runOne(ctx, job)
				}
			}
		}()
	}
}

func (s *Scheduler) runOne(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil && s.Log != nil {
			s.Log.Error("job_panic",
				zap.String("job", job.Name),
				zap.Any("panic", r),
			)
		}
	}()
	if err := job.Run(ctx); err != nil && s.Log != nil {
		s.Log.Warn("job_error",
			zap.String("job", job.Name),
			zap.Error(err),
		)
	}
}

// Stop cancels the jobs and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

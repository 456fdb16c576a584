package wallet

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/giroflow-backend/internal/cache"
)

// ErrPollBudgetExhausted ends a poll that never reached a final state.
// Callers log it; the nightly sync picks up whatever the poll missed.
var ErrPollBudgetExhausted = errors.New("poll budget exhausted")

// PollTask calls Tick on a timer until it reports done, the budget runs out
// or the task is cancelled. A tick that is not done may fail without stopping
// the poll; the last such error is returned together with
// ErrPollBudgetExhausted. A done tick always ends the poll and Run returns
// its error, if any.
type PollTask struct {
	Tick       func(ctx context.Context, n int) (bool, error)
	StartDelay time.Duration
	Interval   time.Duration
	Budget     time.Duration
	Clock      cache.Clock

	mu        sync.Mutex
	cancel    context.CancelFunc
	cancelled bool
	done      chan struct{}
	err       error
}

// Run blocks until the poll ends.
func (p *PollTask) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.cancelled {
		p.mu.Unlock()
		return context.Canceled
	}
	p.cancel = cancel
	p.mu.Unlock()

	clock := p.Clock
	if clock == nil {
		clock = cache.SystemClock
	}
	started := clock.Now()
	timer := time.NewTimer(p.StartDelay)
	defer timer.Stop()

	var lastErr error
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		if p.Budget > 0 && clock.Now().Sub(started) > p.Budget {
			return multierr.Append(ErrPollBudgetExhausted, lastErr)
		}
		done, err := p.Tick(ctx, n)
		if done {
			return err
		}
		if err != nil {
			lastErr = err
		}
		timer.Reset(p.Interval)
	}
}

// Start runs the poll in its own goroutine. Wait returns its result.
func (p *PollTask) Start(ctx context.Context) {
	p.mu.Lock()
	if p.done != nil {
		p.mu.Unlock()
		return
	}
	p.done = make(chan struct{})
	p.mu.Unlock()

	go func() {
		err := p.Run(ctx)
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
}

// Wait blocks until a started poll ends. It returns nil if Start was never called.
func (p *PollTask) Wait() error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Cancel stops the poll. Cancelling before Run makes Run return at once.
func (p *PollTask) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = true
	if p.cancel != nil {
		p.cancel()
	}
}

package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const sweepTimeout = 30 * time.Second

// Sweeper one periodic state check. Sweep must be safe to run concurrently
// with message handling; it never sees overlapping calls from its own Loop.
type Sweeper interface {
	Name() string
	Sweep(ctx context.Context) error
}

// Loop runs a Sweeper every interval until stopped. It owns its cancellation.
type Loop struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewLoop(sweeper Sweeper, interval time.Duration, logger *zap.Logger) *Loop {
	return &Loop{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger.With(zap.String("monitor", sweeper.Name())),
	}
}

// Start launches the loop; the first sweep happens one interval later.
func (l *Loop) Start(ctx context.Context) error {
	if l.interval <= 0 {
		return fmt.Errorf("monitor %s: interval must be positive", l.sweeper.Name())
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return fmt.Errorf("monitor %s already started", l.sweeper.Name())
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.wg.Add(1)
	go l.run(ctx)

	l.logger.Info("Monitor started", zap.Duration("interval", l.interval))
	return nil
}

// Stop cancels the loop and waits for an in-flight sweep to return
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	l.wg.Wait()
	l.logger.Info("Monitor stopped")
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick one sweep; a failure is logged and the next tick retries
func (l *Loop) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	if err := l.sweeper.Sweep(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		l.logger.Error("Sweep failed", zap.Error(err))
	}
}

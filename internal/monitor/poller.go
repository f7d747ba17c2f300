package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryan-buckman/instarelay/internal/logging"
)

// Policy decides what happens when a tick arrives while a cycle still runs.
type Policy string

const (
	// PolicyAllowOverlap starts a new cycle on every tick.
	PolicyAllowOverlap Policy = "allow"
	// PolicySerialize runs one cycle at a time. Ticks and on-demand runs
	// that arrive while a cycle is running are refused.
	PolicySerialize Policy = "serialize"
)

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyAllowOverlap, "":
		return PolicyAllowOverlap, nil
	case PolicySerialize:
		return PolicySerialize, nil
	default:
		return "", fmt.Errorf("unknown overlap policy %q", s)
	}
}

// Runner runs one monitoring cycle subject to its overlap policy. *Cycle
// implements it.
type Runner interface {
	TryRun(ctx context.Context) (Result, error)
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Cycle    Runner
	Interval time.Duration
	Logger   logging.Logger
}

// Poller fires a monitoring cycle on a fixed interval. The first cycle runs
// one interval after Start. Whether a tick may overlap a running cycle is
// decided by the Runner, so on-demand runs share the same gate.
type Poller struct {
	cycle    Runner
	interval time.Duration
	logger   logging.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	skipped atomic.Int64
}

// NewPoller creates a scheduler.
func NewPoller(cfg PollerConfig) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Poller{
		cycle:    cfg.Cycle,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the ticker loop in the background. Cycles receive a context
// that is cancelled by Stop or by the parent.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.logger.WithField("interval", p.interval.String()).Info("Monitoring scheduled")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.dispatch(ctx)
			}
		}
	}()
}

func (p *Poller) dispatch(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if _, err := p.cycle.TryRun(ctx); errors.Is(err, ErrCycleRunning) {
			p.skipped.Add(1)
			p.logger.Warn("Previous cycle still running, skipping tick")
		}
	}()
}

// Skipped returns how many ticks found a serialized cycle still running.
func (p *Poller) Skipped() int64 {
	return p.skipped.Load()
}

// Stop stops the ticker, cancels in-flight cycles and waits for them to
// return. Watermarks already written stay written.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("Monitoring stopped")
}

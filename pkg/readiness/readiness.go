// Package readiness sequences store initialization for waiting callers.
//
// A [Gate] moves forward through Uninitialized, FeaturesReady and
// StatsReady. Failed can be entered from any state before StatsReady and is
// sticky: every pending and future waiter, on every tier, gets the same
// error.
package readiness

import (
	"context"
	"errors"
	"sync"
)

// ErrFailed is used when [Gate.Fail] is called with a nil error.
var ErrFailed = errors.New("readiness: initialization failed")

// State is the gate's progress.
type State int

// Gate states, in order of progression.
const (
	Uninitialized State = iota
	FeaturesReady
	StatsReady
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case FeaturesReady:
		return "features-ready"
	case StatsReady:
		return "stats-ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Tier is what a waiter needs before it may proceed.
type Tier int

// Tiers callers can wait for.
const (
	TierFeatures Tier = iota // feature queries
	TierStats                // summary statistics and reference membership
)

// Gate is a one-shot readiness latch. The zero value is not usable; create
// one with [New].
type Gate struct {
	mu       sync.Mutex
	state    State
	err      error
	features chan struct{} // closed on FeaturesReady
	stats    chan struct{} // closed on StatsReady
	failed   chan struct{} // closed on Failed
}

// New returns a gate in the Uninitialized state.
func New() *Gate {
	return &Gate{
		features: make(chan struct{}),
		stats:    make(chan struct{}),
		failed:   make(chan struct{}),
	}
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.state
}

// Err returns the failure, or nil if the gate has not failed.
func (g *Gate) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.err
}

// FeaturesReady moves Uninitialized to FeaturesReady. It reports false if the
// gate was already past Uninitialized.
func (g *Gate) FeaturesReady() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != Uninitialized {
		return false
	}

	g.state = FeaturesReady
	close(g.features)

	return true
}

// StatsReady moves the gate to StatsReady, releasing feature waiters too if
// FeaturesReady was skipped. It reports false once the gate is terminal.
func (g *Gate) StatsReady() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case Uninitialized:
		close(g.features)
	case FeaturesReady:
	default:
		return false
	}

	g.state = StatsReady
	close(g.stats)

	return true
}

// Fail moves the gate to Failed with err. It reports false once the gate is
// terminal (StatsReady or Failed); the first failure wins.
func (g *Gate) Fail(err error) bool {
	if err == nil {
		err = ErrFailed
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StatsReady || g.state == Failed {
		return false
	}

	g.state = Failed
	g.err = err
	close(g.failed)

	return true
}

// Wait blocks until tier is reached, the gate fails, or ctx is done. Once
// the gate has failed, every tier returns the failure, including tiers that
// were reached before it.
func (g *Gate) Wait(ctx context.Context, tier Tier) error {
	ready := g.features
	if tier == TierStats {
		ready = g.stats
	}

	select {
	case <-g.failed:
		return g.Err()
	default:
	}

	select {
	case <-ready:
		return nil
	default:
	}

	select {
	case <-ready:
		return nil
	case <-g.failed:
		return g.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

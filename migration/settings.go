package migration

import (
	"fmt"
	"math"
	"time"
)

// MigrationPrecedence orders the candidate nodes within a pool before they
// are carved into chunks, so that the cheapest-to-lose nodes drain first.
type MigrationPrecedence string

const (
	// PrecedenceTaskCount sorts ascending by orchestrator-reported task
	// count: lightly loaded nodes go first.
	PrecedenceTaskCount MigrationPrecedence = "task_count"

	// PrecedenceUptime sorts descending by instance uptime: the oldest
	// nodes go first.
	PrecedenceUptime MigrationPrecedence = "uptime"
)

// PoolPortion expresses a chunk size either as an absolute node count or as
// a fraction of the pool's total size. Exactly one of Count or Fraction is
// set; Of resolves it against a concrete total.
type PoolPortion struct {
	Count    int
	Fraction float64
}

// NewCountPortion builds a PoolPortion representing an absolute node count.
func NewCountPortion(n int) PoolPortion {
	return PoolPortion{Count: n}
}

// NewFractionPortion builds a PoolPortion representing a fraction of the
// pool's total size.
func NewFractionPortion(f float64) PoolPortion {
	return PoolPortion{Fraction: f}
}

// Of resolves the portion against total, always returning at least 1: a
// fraction is rounded to the nearest node count, and a count is capped at
// total.
func (p PoolPortion) Of(total int) int {
	if p.Fraction > 0 {
		return int(math.Max(1, math.Round(p.Fraction*float64(total))))
	}
	if p.Count > 0 {
		if p.Count > total {
			return max(1, total)
		}
		return p.Count
	}
	return 1
}

// WorkerSetup bundles the tunables a migration worker needs in order to
// select, chunk, and monitor the nodes it drains. It is built once per
// uptime or event worker invocation and threaded through unchanged.
type WorkerSetup struct {
	// Rate is the chunk size used by drainNodeSelection.
	Rate PoolPortion

	// Precedence orders candidates within the pool before chunking.
	Precedence MigrationPrecedence

	// BootstrapTimeoutSeconds is the health-check budget for each chunk
	// drainNodeSelection submits, counted from the chunk's start: the pool
	// must report healthy again within it before the next chunk begins.
	// The pre-migration health gate uses InitialPoolHealthTimeout instead.
	BootstrapTimeoutSeconds int

	// HealthCheckIntervalSeconds is how often monitorPoolHealth polls.
	HealthCheckIntervalSeconds int

	// IgnorePodHealth skips the pods_healthy latch entirely, useful for
	// pools without a meaningful readiness signal.
	IgnorePodHealth bool

	// DisableAutoscaling, when true, has the caller pause the pool's
	// autoscaler for the duration of an event-triggered migration and
	// resume it before the worker returns.
	DisableAutoscaling bool

	// Prescaling, when set, bumps the pool's target capacity by this
	// portion of the pool before an event-triggered migration starts
	// draining, so replacement capacity is already on its way up.
	Prescaling *PoolPortion

	// BootstrapWait is how long drainNodeSelection sleeps after
	// submitting a chunk for draining before it starts polling pool
	// health, giving the orchestrator time to notice the drained nodes.
	BootstrapWait time.Duration

	// ExpectedDuration bounds the two waiting stages of an event-triggered
	// migration: it is the timeout passed to the pool lock acquisition and the
	// wall-clock budget the whole drain routine must finish within.
	ExpectedDuration time.Duration
}

// Validate returns an error describing the first invalid field found.
func (w WorkerSetup) Validate() error {
	if w.Rate.Count <= 0 && w.Rate.Fraction <= 0 {
		return fmt.Errorf("worker setup: rate must be a positive count or fraction")
	}
	switch w.Precedence {
	case PrecedenceTaskCount, PrecedenceUptime:
	default:
		return fmt.Errorf("worker setup: unknown precedence %q", w.Precedence)
	}
	if w.HealthCheckIntervalSeconds <= 0 {
		return fmt.Errorf("worker setup: health check interval must be positive")
	}
	return nil
}

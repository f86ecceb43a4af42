package migration

import (
	"context"

	"github.com/yelp/clusterman/cluster"
	"github.com/yelp/clusterman/draining"
)

// PoolManager is the narrow view of a cluster/pool the migration engine
// needs: enough to select candidates, judge health, and hand a selected
// node off to the drain pipeline. Concrete implementations live in the
// cluster package and reload both orchestrator and cloud-provider state on
// every call to Nodes.
type PoolManager interface {
	// Nodes returns the current joined agent/instance view of every node
	// in the pool.
	Nodes(ctx context.Context) ([]cluster.NodeMetadata, error)

	// CapacitySatisfied reports whether the pool currently meets its
	// target capacity, used as one of monitorPoolHealth's latches.
	CapacitySatisfied(ctx context.Context) (bool, error)

	// UnschedulablePods returns the count of pods the orchestrator
	// cannot currently place, used as monitorPoolHealth's pod-health
	// latch. Pools without a meaningful readiness signal (e.g. Mesos)
	// are expected to be driven with WorkerSetup.IgnorePodHealth set,
	// in which case this is never called.
	UnschedulablePods(ctx context.Context) (int, error)

	// SubmitForDraining hands node off to the drain pipeline for the
	// given reason.
	SubmitForDraining(ctx context.Context, node cluster.NodeMetadata, reason draining.TerminationReason) error

	// SetAutoscalingEnabled toggles the pool's own autoscaler, used by
	// EventMigrationWorker to pause scaling decisions while a
	// disruptive migration is in flight.
	SetAutoscalingEnabled(ctx context.Context, enabled bool) error

	// TargetCapacity returns the pool's current desired capacity.
	TargetCapacity(ctx context.Context) (int, error)

	// ModifyTargetCapacity sets the pool's desired capacity, used by
	// EventMigrationWorker to pre-scale ahead of a disruptive migration.
	ModifyTargetCapacity(ctx context.Context, capacity int) error
}

package migration

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/yelp/clusterman/cluster"
	"github.com/yelp/clusterman/draining"
	"github.com/yelp/clusterman/monitoring"
)

// UptimeCheckInterval is how often the uptime-driven worker re-scans its
// pool for nodes that have crossed the configured age threshold.
const UptimeCheckInterval = time.Hour

// InitialPoolHealthTimeout bounds how long EventMigrationWorker waits for a
// pool to already be healthy before it starts selecting nodes to drain.
const InitialPoolHealthTimeout = 15 * time.Minute

// NodeMigrationError reports a migration worker giving up on a pool,
// distinguishing operator-actionable failures (pool never became healthy,
// lock contention, cloud/orchestrator calls failing) from a clean
// "nothing to do" return.
type NodeMigrationError struct {
	Cluster string
	Pool    string
	Reason  string
}

func (e *NodeMigrationError) Error() string {
	return fmt.Sprintf("node migration failed for %s/%s: %s", e.Cluster, e.Pool, e.Reason)
}

// monitorPoolHealth blocks until the pool reports healthy or deadline
// passes. Health is tracked with three one-way latches, mirroring the
// engine's original polling loop: once a latch trips it stays tripped for
// the remainder of the call, so a momentary flap in a later poll can't
// undo an earlier success.
//
//   - drainingHappened: every node in drained has been replaced, i.e. the
//     agent the orchestrator now reports at that node's ip no longer has
//     the agent id it had when the node was submitted for draining. An
//     empty drained set (the pre-migration health gate) is vacuously
//     satisfied from the start.
//   - capacitySatisfied: the pool currently meets its target capacity.
//   - podsHealthy: the orchestrator reports zero unschedulable pods
//     (skipped entirely when setup.IgnorePodHealth is set).
//
// capacitySatisfied and podsHealthy only start counting once
// drainingHappened has tripped, and the call only returns nil once all
// three have.
func monitorPoolHealth(ctx context.Context, log hclog.Logger, manager PoolManager, deadline time.Time, drained []cluster.NodeMetadata, setup WorkerSetup) error {
	interval := time.Duration(setup.HealthCheckIntervalSeconds) * time.Second

	drainingHappened := len(drained) == 0
	capacitySatisfied := false
	podsHealthy := setup.IgnorePodHealth

	for {
		if !drainingHappened {
			nodes, err := manager.Nodes(ctx)
			if err != nil {
				return fmt.Errorf("monitor pool health: list nodes: %w", err)
			}
			currentAgentByIP := make(map[string]string, len(nodes))
			for _, n := range nodes {
				currentAgentByIP[n.Agent.IPAddress] = n.Agent.AgentID
			}
			replaced := true
			for _, d := range drained {
				if currentAgentByIP[d.Agent.IPAddress] == d.Agent.AgentID {
					replaced = false
					break
				}
			}
			drainingHappened = replaced
		}

		if drainingHappened && !capacitySatisfied {
			sat, err := manager.CapacitySatisfied(ctx)
			if err != nil {
				return fmt.Errorf("monitor pool health: capacity check: %w", err)
			}
			if sat {
				capacitySatisfied = true
			}
		}

		if drainingHappened && !setup.IgnorePodHealth && !podsHealthy {
			unschedulable, err := manager.UnschedulablePods(ctx)
			if err != nil {
				return fmt.Errorf("monitor pool health: unschedulable pods: %w", err)
			}
			if unschedulable == 0 {
				podsHealthy = true
			}
		}

		if drainingHappened && capacitySatisfied && podsHealthy {
			return nil
		}

		log.Info("pool not healthy yet", "draining_happened", drainingHappened, "capacity_satisfied", capacitySatisfied, "pods_healthy", podsHealthy)

		if !time.Now().Before(deadline) {
			return fmt.Errorf("pool did not become healthy before deadline (draining_happened=%t capacity_satisfied=%t pods_healthy=%t)",
				drainingHappened, capacitySatisfied, podsHealthy)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// drainNodeSelection selects every node in the pool matching selector,
// sorts them by setup.Precedence, and drains them in chunks sized by
// setup.Rate. After submitting a chunk it sleeps setup.BootstrapWait to
// give the orchestrator time to notice, then waits for the pool to report
// healthy within setup.BootstrapTimeoutSeconds of the chunk's start before
// moving to the next one. It returns the number of nodes successfully
// submitted for draining.
func drainNodeSelection(ctx context.Context, log hclog.Logger, manager PoolManager, selector func(cluster.NodeMetadata) bool, reason draining.TerminationReason, setup WorkerSetup) (int, error) {
	nodes, err := manager.Nodes(ctx)
	if err != nil {
		return 0, fmt.Errorf("drain node selection: list nodes: %w", err)
	}

	var candidates []cluster.NodeMetadata
	for _, n := range nodes {
		if selector(n) {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	sortCandidates(candidates, setup.Precedence)

	chunkSize := setup.Rate.Of(len(nodes))
	if chunkSize < 1 {
		chunkSize = 1
	}

	bootstrapTimeout := time.Duration(setup.BootstrapTimeoutSeconds) * time.Second

	drained := 0
	for len(candidates) > 0 {
		n := chunkSize
		if n > len(candidates) {
			n = len(candidates)
		}
		chunk := candidates[:n]
		candidates = candidates[n:]

		chunkStart := time.Now()
		for _, node := range chunk {
			if err := manager.SubmitForDraining(ctx, node, reason); err != nil {
				return drained, fmt.Errorf("drain node selection: submit %s: %w", node.Agent.AgentID, err)
			}
			drained++
			monitoring.Count("clusterman.node_migration.drain_count", 1)
			monitoring.Gauge("clusterman.node_migration.drained_node_uptime", node.Instance.Uptime.Seconds())
			log.Info("submitted node for draining", "agent_id", node.Agent.AgentID)
		}

		select {
		case <-ctx.Done():
			return drained, ctx.Err()
		case <-time.After(setup.BootstrapWait):
		}

		if err := monitorPoolHealth(ctx, log, manager, chunkStart.Add(bootstrapTimeout), chunk, setup); err != nil {
			return drained, fmt.Errorf("drain node selection: %w", err)
		}
	}

	return drained, nil
}

func sortCandidates(nodes []cluster.NodeMetadata, precedence MigrationPrecedence) {
	switch precedence {
	case PrecedenceTaskCount:
		sort.SliceStable(nodes, func(i, j int) bool {
			return nodes[i].Agent.TaskCount < nodes[j].Agent.TaskCount
		})
	case PrecedenceUptime:
		sort.SliceStable(nodes, func(i, j int) bool {
			return nodes[i].Instance.Uptime > nodes[j].Instance.Uptime
		})
	}
}

// UptimeMigrationWorker drains every node in the pool whose instance
// uptime is at or beyond threshold. It holds the pool lock for its entire
// run, so it cannot interleave with an EventMigrationWorker on the same
// pool.
func UptimeMigrationWorker(ctx context.Context, log hclog.Logger, manager PoolManager, lock *PoolLock, threshold time.Duration, setup WorkerSetup) error {
	if err := setup.Validate(); err != nil {
		return err
	}

	release, err := lock.Lock(ctx)
	if err != nil {
		return fmt.Errorf("uptime migration worker: acquire pool lock: %w", err)
	}
	defer release()

	start := time.Now()
	selector := func(n cluster.NodeMetadata) bool { return n.Instance.Uptime >= threshold }

	drained, err := drainNodeSelection(ctx, log, manager, selector, draining.ReasonScaleIn, setup)
	monitoring.Timing("clusterman.node_migration.duration", time.Since(start))
	if err != nil {
		return &NodeMigrationError{Cluster: lock.Cluster, Pool: lock.Pool, Reason: err.Error()}
	}

	log.Info("uptime migration complete", "cluster", lock.Cluster, "pool", lock.Pool, "drained", drained)
	return nil
}

// EventMigrationWorker drains every node in the pool that event.Targets
// selects: registered with the orchestrator and not already satisfying
// event's condition. It pauses the pool's own autoscaler for the duration
// of the run when setup.DisableAutoscaling is set, pre-scales the pool's
// target capacity when setup.Prescaling is set, requires the pool to
// already be healthy (within InitialPoolHealthTimeout) before it starts
// draining, and bounds the pool lock wait and the drain stage each to
// setup.ExpectedDuration. Autoscaling, once paused, is always
// re-enabled before returning, even on error.
func EventMigrationWorker(ctx context.Context, log hclog.Logger, manager PoolManager, lock *PoolLock, event *MigrationEvent, setup WorkerSetup) (err error) {
	if err := setup.Validate(); err != nil {
		return err
	}

	lockCtx := ctx
	if setup.ExpectedDuration > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, setup.ExpectedDuration)
		defer cancel()
	}
	release, lockErr := lock.Lock(lockCtx)
	if lockErr != nil {
		return &NodeMigrationError{Cluster: event.Cluster, Pool: event.Pool, Reason: fmt.Sprintf("acquire pool lock: %s", lockErr)}
	}
	defer release()

	if setup.DisableAutoscaling {
		if err := manager.SetAutoscalingEnabled(ctx, false); err != nil {
			return fmt.Errorf("event migration worker: disable autoscaling: %w", err)
		}
		defer func() {
			if reErr := manager.SetAutoscalingEnabled(ctx, true); reErr != nil && err == nil {
				err = fmt.Errorf("event migration worker: re-enable autoscaling: %w", reErr)
			}
		}()
		// Target capacity is deliberately not reset after pre-scaling:
		// the autoscaler is trusted to readjust it on its own shortly
		// after it resumes.
	}

	if setup.Prescaling != nil {
		if err := applyPrescaling(ctx, log, manager, event, *setup.Prescaling); err != nil {
			return fmt.Errorf("event migration worker: prescale: %w", err)
		}
	}

	gateSetup := setup
	gateSetup.IgnorePodHealth = true
	if healthErr := monitorPoolHealth(ctx, log, manager, time.Now().Add(InitialPoolHealthTimeout), nil, gateSetup); healthErr != nil {
		return &NodeMigrationError{Cluster: event.Cluster, Pool: event.Pool, Reason: fmt.Sprintf("pool not healthy before migration: %s", healthErr)}
	}

	selector := func(n cluster.NodeMetadata) bool {
		targets, tErr := event.Targets(n)
		if tErr != nil {
			log.Warn("condition evaluation failed, skipping node", "agent_id", n.Agent.AgentID, "error", tErr)
			return false
		}
		return targets
	}

	drainCtx := ctx
	var drainCancel context.CancelFunc
	if setup.ExpectedDuration > 0 {
		drainCtx, drainCancel = context.WithTimeout(ctx, setup.ExpectedDuration)
		defer drainCancel()
	}

	start := time.Now()
	drained, drainErr := drainNodeSelection(drainCtx, log, manager, selector, draining.ReasonNodeMigration, setup)
	monitoring.Timing("clusterman.node_migration.duration", time.Since(start))
	if drainErr != nil {
		reason := drainErr.Error()
		if drainCtx.Err() == context.DeadlineExceeded {
			reason = fmt.Sprintf("did not complete within expected duration %s: %s", setup.ExpectedDuration, reason)
		}
		return &NodeMigrationError{Cluster: event.Cluster, Pool: event.Pool, Reason: reason}
	}

	log.Info("event migration complete", "cluster", event.Cluster, "pool", event.Pool, "drained", drained)
	return nil
}

// applyPrescaling bumps the pool's target capacity ahead of a disruptive
// migration by round(target_capacity + offset*avg_weight), where offset is
// prescaling resolved against the pool's current size and avg_weight is
// the mean cloud-instance weight across the pool.
func applyPrescaling(ctx context.Context, log hclog.Logger, manager PoolManager, event *MigrationEvent, prescaling PoolPortion) error {
	nodes, err := manager.Nodes(ctx)
	if err != nil {
		return fmt.Errorf("list nodes: %w", err)
	}
	if len(nodes) == 0 {
		return nil
	}

	offset := prescaling.Of(len(nodes))

	var totalWeight float64
	for _, n := range nodes {
		totalWeight += n.Instance.Weight
	}
	avgWeight := totalWeight / float64(len(nodes))

	target, err := manager.TargetCapacity(ctx)
	if err != nil {
		return fmt.Errorf("read target capacity: %w", err)
	}

	prescaled := int(math.Round(float64(target) + float64(offset)*avgWeight))
	log.Info("applying pre-scaling", "cluster", event.Cluster, "pool", event.Pool, "offset", offset, "target_capacity", prescaled)
	return manager.ModifyTargetCapacity(ctx, prescaled)
}

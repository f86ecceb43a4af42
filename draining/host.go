// Package draining implements the cooperative node-drain pipeline: an
// SQS-backed queue of hosts moving through draining, warning, and
// termination, and the state machines that advance them.
package draining

import "fmt"

// TerminationReason records why a host was queued for removal, forwarded
// to the cloud provider call that actually terminates it.
type TerminationReason string

const (
	ReasonScaleIn        TerminationReason = "scale_in"
	ReasonSpotInterruption TerminationReason = "spot_interruption"
	ReasonNodeMigration   TerminationReason = "node_migration"
)

// Scheduler names the orchestrator a Host's pool runs under. Draining
// semantics differ materially between the two: Mesos maintenance mode has
// no notion of readiness, so process_drain_queue treats it as a one-shot
// "drain then forward immediately" step, while Kubernetes drains are
// retried until the API confirms evacuation.
type Scheduler string

const (
	SchedulerKubernetes Scheduler = "kubernetes"
	SchedulerMesos      Scheduler = "mesos"
)

// Host identifies a single node moving through the drain/terminate
// pipeline, carrying everything the pipeline needs to act on it without a
// further orchestrator or cloud lookup.
type Host struct {
	InstanceID string
	Hostname   string
	IPAddress  string
	AgentID    string
	GroupID    string
	Pool       string
	Scheduler  Scheduler
	Sender     string // resource group kind: "asg" or "sfr"

	Reason           TerminationReason
	DrainingStartTime int64 // unix seconds
	Attempt          int
}

// Validate reports whether the host carries the minimum identity needed to
// be queued at all.
func (h Host) Validate() error {
	if h.InstanceID == "" {
		return fmt.Errorf("host: instance_id is required")
	}
	return nil
}

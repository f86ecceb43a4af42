package cluster

import "context"

// ClusterConnector is the orchestrator-facing half of a pool: everything
// the migration engine needs to know about and act on the scheduler's view
// of a node, independent of which cloud instance backs it. Kubernetes and
// Mesos pools each get their own implementation; see
// github.com/yelp/clusterman/mesos for the Mesos one and
// k8sconnector.go for Kubernetes.
type ClusterConnector interface {
	// Agents lists every node the orchestrator currently knows about.
	Agents(ctx context.Context) ([]AgentMetadata, error)

	// Drain attempts to evacuate agentID's workload, returning whether
	// it is now fully drained.
	Drain(ctx context.Context, agentID string) (bool, error)

	// Uncordon restores agentID to service after an abandoned drain.
	Uncordon(ctx context.Context, agentID string) error

	// UnschedulablePods returns the count of pods the orchestrator
	// cannot currently place. Implementations without a meaningful
	// notion of pod scheduling (Mesos) return 0, nil; callers that care
	// should pair this with WorkerSetup.IgnorePodHealth instead of
	// relying on the zero value.
	UnschedulablePods(ctx context.Context) (int, error)
}

// CloudGroup is the cloud-provider-facing half of a pool: the resource
// group (ASG or spot fleet) backing it. aws.ASGResourceGroup implements this
// interface structurally; cluster never imports the aws package directly
// so the two can be tested independently.
type CloudGroup interface {
	// Instances lists every cloud instance currently in the group.
	Instances(ctx context.Context) ([]InstanceMetadata, error)

	// CapacitySatisfied reports whether the group currently meets its
	// target capacity.
	CapacitySatisfied(ctx context.Context) (bool, error)

	// SetAutoscalingEnabled toggles the group's own scaling policy.
	SetAutoscalingEnabled(ctx context.Context, enabled bool) error

	// TargetCapacity returns the group's current desired capacity.
	TargetCapacity(ctx context.Context) (int, error)

	// ModifyTargetCapacity sets the group's desired capacity, used to
	// pre-scale a pool ahead of a disruptive migration.
	ModifyTargetCapacity(ctx context.Context, capacity int) error
}

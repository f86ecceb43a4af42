package cluster

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/yelp/clusterman/draining"
)

// PoolManager joins a ClusterConnector (orchestrator) and a CloudGroup
// (cloud provider) into the single view the migration engine consumes. It
// satisfies github.com/yelp/clusterman/migration.PoolManager structurally.
type PoolManager struct {
	log hclog.Logger

	ClusterName string
	PoolName    string

	connector ClusterConnector
	cloud     CloudGroup
	queue     *draining.DrainingClient
}

// NewPoolManager builds a PoolManager for one cluster/pool pair.
func NewPoolManager(log hclog.Logger, clusterName, poolName string, connector ClusterConnector, cloud CloudGroup, queue *draining.DrainingClient) *PoolManager {
	return &PoolManager{
		log:         log.Named("pool_manager").With("cluster", clusterName, "pool", poolName),
		ClusterName: clusterName,
		PoolName:    poolName,
		connector:   connector,
		cloud:       cloud,
		queue:       queue,
	}
}

// Nodes joins the orchestrator's agents with the cloud provider's
// instances by IP address, the same join key the original engine used
// since an agent's IP is reliably present on both sides even when agent
// IDs and instance IDs use unrelated ID schemes.
func (m *PoolManager) Nodes(ctx context.Context) ([]NodeMetadata, error) {
	agents, err := m.connector.Agents(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool manager: list agents: %w", err)
	}
	instances, err := m.cloud.Instances(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool manager: list instances: %w", err)
	}

	byIP := make(map[string]InstanceMetadata, len(instances))
	for _, inst := range instances {
		byIP[inst.IPAddress] = inst
	}

	nodes := make([]NodeMetadata, 0, len(agents))
	for _, agent := range agents {
		inst, ok := byIP[agent.IPAddress]
		if !ok {
			m.log.Debug("agent has no matching cloud instance, skipping", "agent_id", agent.AgentID)
			continue
		}
		nodes = append(nodes, NodeMetadata{Agent: agent, Instance: inst})
	}
	return nodes, nil
}

// CapacitySatisfied delegates to the cloud group: whether the resource
// group currently meets its desired capacity.
func (m *PoolManager) CapacitySatisfied(ctx context.Context) (bool, error) {
	return m.cloud.CapacitySatisfied(ctx)
}

// UnschedulablePods delegates to the orchestrator connector.
func (m *PoolManager) UnschedulablePods(ctx context.Context) (int, error) {
	return m.connector.UnschedulablePods(ctx)
}

// SetAutoscalingEnabled delegates to the cloud group.
func (m *PoolManager) SetAutoscalingEnabled(ctx context.Context, enabled bool) error {
	return m.cloud.SetAutoscalingEnabled(ctx, enabled)
}

// TargetCapacity delegates to the cloud group.
func (m *PoolManager) TargetCapacity(ctx context.Context) (int, error) {
	return m.cloud.TargetCapacity(ctx)
}

// ModifyTargetCapacity delegates to the cloud group.
func (m *PoolManager) ModifyTargetCapacity(ctx context.Context, capacity int) error {
	return m.cloud.ModifyTargetCapacity(ctx, capacity)
}

// SubmitForDraining hands node off to the drain queue, stamping the
// resource group identity the terminate pipeline will eventually need and
// defaulting the node's scheduler to Kubernetes unless the connector says
// otherwise; Mesos connectors wrap their Agents call to tag agents
// accordingly via the host's Scheduler field on submission.
func (m *PoolManager) SubmitForDraining(ctx context.Context, node NodeMetadata, reason draining.TerminationReason) error {
	host := draining.Host{
		InstanceID: node.Instance.InstanceID,
		IPAddress:  node.Agent.IPAddress,
		AgentID:    node.Agent.AgentID,
		Pool:       m.PoolName,
		Scheduler:  draining.SchedulerKubernetes,
		Reason:     reason,
	}
	return m.queue.SubmitHostForDraining(ctx, host, 0, 0)
}

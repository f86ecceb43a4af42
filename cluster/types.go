// Package cluster models the engine's view of a live node pool: the data
// derived from the orchestrator and cloud provider on every reload, and the
// narrow collaborator interfaces the migration engine consumes. Concrete
// implementations live in manager.go and k8sconnector.go.
package cluster

import "time"

// AgentMetadata is the orchestrator-side identity and load of a node.
type AgentMetadata struct {
	AgentID   string
	IPAddress string
	TaskCount int
}

// InstanceMetadata is the cloud-provider view of the same node.
type InstanceMetadata struct {
	InstanceID   string
	Market       string
	Weight       float64
	IPAddress    string
	Uptime       time.Duration
	State        string
	InstanceType string
	Kernel       string
	LSBRelease   string
}

// NodeMetadata joins the two views the migration engine reasons about: who
// the orchestrator thinks is running there, and what the cloud provider
// thinks is running there. The two can disagree transiently (e.g. right
// after a drain), which is exactly what monitorPoolHealth polls for.
type NodeMetadata struct {
	Agent    AgentMetadata
	Instance InstanceMetadata
}

// RunningStates are the cloud instance states considered when selecting
// candidates for a migration chunk.
var RunningStates = []string{"running", "pending"}

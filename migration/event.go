package migration

import (
	"fmt"

	"github.com/yelp/clusterman/cluster"
)

// MigrationEvent describes an externally-triggered migration: a resource
// name, a cluster and pool, the condition nodes must satisfy to be
// selected, and the label selectors used to scope the orchestrator query.
// It is the Go analogue of the CRD body the original emitted for its
// operator to consume; ToCRDBody keeps that wire shape so existing
// consumers of the CRD are unaffected.
type MigrationEvent struct {
	ResourceName   string
	Cluster        string
	Pool           string
	Condition      *MigrationCondition
	LabelSelectors []string
}

// Targets reports whether node is in the set this event should migrate: it
// must already be registered with the orchestrator (AgentID set) and must
// not satisfy the event's condition, since the condition describes the
// compliant state nodes are being migrated towards.
func (e *MigrationEvent) Targets(node cluster.NodeMetadata) (bool, error) {
	if node.Agent.AgentID == "" {
		return false, nil
	}

	agentVersion := node.Instance.Kernel
	if e.Condition.Trait == TraitLSBRelease {
		agentVersion = node.Instance.LSBRelease
	}

	match, err := e.Condition.Matches(agentVersion, node.Instance.InstanceType, node.Instance.Uptime)
	if err != nil {
		return false, err
	}
	return !match, nil
}

// ToCRDBody renders the event as the nested map structure the cluster's
// custom resource expects, merging caller-supplied labels into metadata.
func (e *MigrationEvent) ToCRDBody(labels map[string]string) map[string]interface{} {
	trait, op, target := e.Condition.Serialize()

	name := e.ResourceName
	if name == "" {
		name = fmt.Sprintf("%s-%s-migration", e.Cluster, e.Pool)
	}
	meta := map[string]interface{}{
		"name": name,
	}
	if len(labels) > 0 {
		meta["labels"] = labels
	}

	return map[string]interface{}{
		"metadata": meta,
		"spec": map[string]interface{}{
			"cluster": e.Cluster,
			"pool":    e.Pool,
			"condition": map[string]interface{}{
				"trait":    string(trait),
				"operator": string(op),
				"target":   target,
			},
			"label_selectors": e.LabelSelectors,
		},
	}
}

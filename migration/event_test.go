package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yelp/clusterman/cluster"
)

func TestMigrationEvent_ToCRDBody(t *testing.T) {
	cond, err := ParseCondition(TraitUptime, OpGreaterEqual, "30d")
	require.NoError(t, err)

	event := &MigrationEvent{
		Cluster:        "mesos-test",
		Pool:           "bar",
		Condition:      cond,
		LabelSelectors: []string{"pool=bar"},
	}

	body := event.ToCRDBody(map[string]string{"team": "compute-infra"})

	metadata := body["metadata"].(map[string]interface{})
	assert.Equal(t, "mesos-test-bar-migration", metadata["name"])
	assert.Equal(t, map[string]string{"team": "compute-infra"}, metadata["labels"])

	spec := body["spec"].(map[string]interface{})
	assert.Equal(t, "mesos-test", spec["cluster"])
	assert.Equal(t, "bar", spec["pool"])
	assert.Equal(t, []string{"pool=bar"}, spec["label_selectors"])

	condition := spec["condition"].(map[string]interface{})
	assert.Equal(t, "uptime", condition["trait"])
	assert.Equal(t, "ge", condition["operator"])
	assert.Equal(t, "30d", condition["target"])
}

func TestMigrationEvent_ToCRDBodyPrefersResourceName(t *testing.T) {
	cond, err := ParseCondition(TraitUptime, OpGreaterEqual, "30d")
	require.NoError(t, err)

	event := &MigrationEvent{
		ResourceName: "mesos-test-bar-111222333",
		Cluster:      "mesos-test",
		Pool:         "bar",
		Condition:    cond,
	}

	body := event.ToCRDBody(nil)
	metadata := body["metadata"].(map[string]interface{})
	assert.Equal(t, "mesos-test-bar-111222333", metadata["name"])
}

func TestMigrationEvent_Targets(t *testing.T) {
	cond, err := ParseCondition(TraitLSBRelease, OpGreaterEqual, "22.04")
	require.NoError(t, err)
	event := &MigrationEvent{Cluster: "mesos-test", Pool: "bar", Condition: cond}

	noAgent := cluster.NodeMetadata{Instance: cluster.InstanceMetadata{LSBRelease: "20.04"}}
	targets, err := event.Targets(noAgent)
	require.NoError(t, err)
	assert.False(t, targets, "a node not yet registered with the orchestrator is never a target")

	compliant := cluster.NodeMetadata{
		Agent:    cluster.AgentMetadata{AgentID: "agent-1"},
		Instance: cluster.InstanceMetadata{LSBRelease: "22.04"},
	}
	targets, err = event.Targets(compliant)
	require.NoError(t, err)
	assert.False(t, targets, "a node already satisfying the condition is not migrated")

	stale := cluster.NodeMetadata{
		Agent:    cluster.AgentMetadata{AgentID: "agent-2"},
		Instance: cluster.InstanceMetadata{LSBRelease: "20.04"},
	}
	targets, err = event.Targets(stale)
	require.NoError(t, err)
	assert.True(t, targets, "a registered node failing the condition is migrated")
}

package mesos

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDriver(t *testing.T, handler http.HandlerFunc) (*Driver, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &Driver{
		log:        hclog.NewNullLogger(),
		masterAddr: server.URL,
		httpClient: server.Client(),
		hostnames:  make(map[string]string),
	}, server
}

func agentsResponse() map[string]interface{} {
	return map[string]interface{}{
		"agents": []map[string]interface{}{
			{
				"agent_info": map[string]interface{}{
					"id":       map[string]string{"value": "agent-1"},
					"hostname": "host-1.example.com",
				},
			},
		},
	}
}

func TestDriver_AgentsPopulatesHostnameCache(t *testing.T) {
	driver, _ := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(agentsResponse())
	})

	agents, err := driver.Agents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "agent-1", agents[0].AgentID)
	assert.Equal(t, "host-1.example.com", driver.hostnames["agent-1"])
}

func TestDriver_DrainResolvesHostnameAndStartsMaintenance(t *testing.T) {
	var lastBody map[string]interface{}
	driver, _ := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&lastBody)
		if lastBody["type"] == "GET_AGENTS" {
			_ = json.NewEncoder(w).Encode(agentsResponse())
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	drained, err := driver.Drain(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.True(t, drained, "mesos drain is immediate, no evacuation polling")
	assert.Equal(t, "UPDATE_MAINTENANCE_SCHEDULE", lastBody["type"])
}

func TestDriver_DrainFailsForUnknownAgent(t *testing.T) {
	driver, _ := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"agents": []interface{}{}})
	})

	_, err := driver.Drain(context.Background(), "ghost-agent")
	assert.Error(t, err)
}

func TestDriver_UncordonIsNoop(t *testing.T) {
	driver, _ := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("uncordon should never call the master")
	})
	assert.NoError(t, driver.Uncordon(context.Background(), "agent-1"))
}

func TestDriver_CallSurfacesNon2xxAsError(t *testing.T) {
	driver, _ := newTestDriver(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := driver.MesosUp(context.Background(), "host-1.example.com")
	assert.Error(t, err)
}

// Package mesos implements the cluster connector and maintenance-mode
// client for Mesos-scheduled pools, talking to the Mesos master's Operator
// HTTP API directly since no maintained Go Mesos SDK exists in the
// ecosystem. The HTTP client setup mirrors the engine's own
// rate-limited, connection-pooled client used for its other HTTP
// collaborators.
package mesos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/yelp/clusterman/cluster"
	"github.com/yelp/clusterman/rate_limiter"
)

// Driver is a thin client over the Mesos master's /api/v1 Operator
// endpoint, implementing cluster.ClusterConnector (agent listing and
// maintenance-drain) and draining.MesosMaintainer (maintenance window
// toggling around termination).
type Driver struct {
	log        hclog.Logger
	masterAddr string

	httpClient *http.Client

	hostnamesMu sync.Mutex
	hostnames   map[string]string // agent ID -> hostname, refreshed on every Agents call
}

// NewDriver builds a Driver against masterAddr (scheme://host:port),
// rate-limiting and instrumenting outbound requests via
// rate_limiter.NewInstrumentedWrapper to stay within the master's own
// request budget and to feed the same metrics sink as the rest of the
// engine's HTTP collaborators.
func NewDriver(log hclog.Logger, masterAddr string, ratePerSec int) *Driver {
	return &Driver{
		log:        log.Named("mesos_driver"),
		masterAddr: masterAddr,
		httpClient: rate_limiter.NewInstrumentedWrapper("mesos", ratePerSec, nil),
		hostnames:  make(map[string]string),
	}
}

// Agents lists the master's registered agents, with AgentID set to the
// Mesos agent ID (not the hostname, which the maintenance API addresses
// separately).
func (d *Driver) Agents(ctx context.Context) ([]cluster.AgentMetadata, error) {
	var resp struct {
		Agents []struct {
			AgentInfo struct {
				ID       struct{ Value string } `json:"id"`
				Hostname string                 `json:"hostname"`
			} `json:"agent_info"`
		} `json:"agents"`
	}
	if err := d.call(ctx, map[string]string{"type": "GET_AGENTS"}, &resp); err != nil {
		return nil, fmt.Errorf("mesos driver: get agents: %w", err)
	}

	d.hostnamesMu.Lock()
	defer d.hostnamesMu.Unlock()

	agents := make([]cluster.AgentMetadata, 0, len(resp.Agents))
	for _, a := range resp.Agents {
		d.hostnames[a.AgentInfo.ID.Value] = a.AgentInfo.Hostname
		agents = append(agents, cluster.AgentMetadata{AgentID: a.AgentInfo.ID.Value})
	}
	return agents, nil
}

// Drain starts Mesos maintenance mode for agentID's host and reports true
// immediately: Mesos maintenance has no evacuation-progress signal to poll,
// so the drain pipeline treats a Mesos host as fully drained the instant
// maintenance mode is requested and moves straight to termination.
func (d *Driver) Drain(ctx context.Context, agentID string) (bool, error) {
	hostname, err := d.hostnameForAgent(ctx, agentID)
	if err != nil {
		return false, err
	}
	if err := d.startMaintenance(ctx, hostname); err != nil {
		return false, err
	}
	return true, nil
}

// Uncordon is a no-op for Mesos: maintenance windows expire on their own
// schedule and there is no mid-flight cancellation used by this engine.
func (d *Driver) Uncordon(ctx context.Context, agentID string) error {
	return nil
}

// UnschedulablePods always reports zero: Mesos has no pod abstraction, so
// pools running under it must set WorkerSetup.IgnorePodHealth.
func (d *Driver) UnschedulablePods(ctx context.Context) (int, error) {
	return 0, nil
}

// MesosDown puts hostname into maintenance (draining) mode.
func (d *Driver) MesosDown(ctx context.Context, hostname string) error {
	return d.startMaintenance(ctx, hostname)
}

// MesosUp replaces the master's maintenance schedule with an empty one,
// used after a termination call so the host record doesn't linger as
// "draining" forever once the underlying instance is gone. hostname is not
// sent: every maintenance window is cleared, not only hostname's.
func (d *Driver) MesosUp(ctx context.Context, hostname string) error {
	body := map[string]interface{}{
		"type": "UPDATE_MAINTENANCE_SCHEDULE",
		"update_maintenance_schedule": map[string]interface{}{
			"schedule": map[string]interface{}{"windows": []interface{}{}},
		},
	}
	return d.call(ctx, body, nil)
}

func (d *Driver) startMaintenance(ctx context.Context, hostname string) error {
	body := map[string]interface{}{
		"type": "UPDATE_MAINTENANCE_SCHEDULE",
		"update_maintenance_schedule": map[string]interface{}{
			"schedule": map[string]interface{}{
				"windows": []interface{}{
					map[string]interface{}{
						"machine_ids": []interface{}{map[string]string{"hostname": hostname}},
						"unavailability": map[string]interface{}{
							"start":    map[string]int64{"nanoseconds": time.Now().UnixNano()},
							"duration": map[string]int64{"nanoseconds": int64(time.Hour)},
						},
					},
				},
			},
		},
	}
	return d.call(ctx, body, nil)
}

func (d *Driver) hostnameForAgent(ctx context.Context, agentID string) (string, error) {
	d.hostnamesMu.Lock()
	hostname, ok := d.hostnames[agentID]
	d.hostnamesMu.Unlock()
	if ok {
		return hostname, nil
	}

	if _, err := d.Agents(ctx); err != nil {
		return "", err
	}

	d.hostnamesMu.Lock()
	defer d.hostnamesMu.Unlock()
	hostname, ok = d.hostnames[agentID]
	if !ok {
		return "", fmt.Errorf("mesos driver: no agent found for id %s", agentID)
	}
	return hostname, nil
}

func (d *Driver) call(ctx context.Context, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("mesos driver: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.masterAddr+"/api/v1", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("mesos driver: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.log.Warn("mesos master request failed", "error", err)
		return fmt.Errorf("mesos driver: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		d.log.Warn("mesos master returned error status", "status", resp.Status)
		return fmt.Errorf("mesos driver: master responded %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

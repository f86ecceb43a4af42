package draining

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
)

// MaxDrainingTime bounds how long a host may sit in the draining state
// before the pipeline gives up waiting for the orchestrator and forces it
// toward termination.
const MaxDrainingTime = 90 * time.Minute

// ForceTerminationOnExpiry controls what happens when a host exceeds
// MaxDrainingTime: true terminates it immediately, false uncordons it and
// leaves it in service. It is a package variable rather than a pipeline
// field because it reflects an operator-wide safety posture, not a
// per-pipeline tunable.
var ForceTerminationOnExpiry = false

// ClusterConnector is the narrow slice of orchestrator operations the
// drain pipeline needs: draining a node and, on expiry without forced
// termination, giving it back to the scheduler.
type ClusterConnector interface {
	// Drain attempts to evacuate agentID's workload. The returned bool
	// reports whether the node is now fully drained; false means the
	// pipeline should resubmit the host with an incremented attempt.
	Drain(ctx context.Context, agentID string) (bool, error)

	// Uncordon reverses a Drain that the pipeline is abandoning due to
	// expiry, restoring the node to service.
	Uncordon(ctx context.Context, agentID string) error
}

// Terminator is the cloud-side counterpart: it actually removes a host
// from its resource group.
type Terminator interface {
	TerminateHost(ctx context.Context, h Host) error
}

// DrainPipeline advances hosts sitting on the drain queue: it resolves
// orphaned messages, enforces the dedup cache, drains Kubernetes hosts
// through the orchestrator (retrying on incomplete eviction) and forwards
// Mesos hosts straight to termination, since Mesos maintenance mode has no
// polling signal to retry against.
type DrainPipeline struct {
	log     hclog.Logger
	queue   *DrainingClient
	cluster ClusterConnector
}

// NewDrainPipeline builds a DrainPipeline over queue, using cluster to
// perform orchestrator-side drains.
func NewDrainPipeline(log hclog.Logger, queue *DrainingClient, cluster ClusterConnector) *DrainPipeline {
	return &DrainPipeline{log: log.Named("drain_pipeline"), queue: queue, cluster: cluster}
}

// ProcessOne receives and advances a single drain queue message, if one is
// available. It returns false when the queue was empty.
func (p *DrainPipeline) ProcessOne(ctx context.Context) (bool, error) {
	msg, err := p.queue.GetHostToDrain(ctx)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}
	return true, p.process(ctx, msg)
}

func (p *DrainPipeline) process(ctx context.Context, msg *Message) error {
	host := msg.Host

	// A non-Kubernetes host with neither a hostname nor an agent ID has
	// nothing left to drain: forward it straight to termination. Kubernetes
	// hosts without an agent ID go through orphan resolution below instead.
	if host.Hostname == "" && host.AgentID == "" && host.Scheduler != SchedulerKubernetes {
		if err := p.forwardToTermination(ctx, host, 0); err != nil {
			return err
		}
		return p.queue.DeleteDrainMessages(ctx, msg.ReceiptHandle)
	}

	if p.queue.ProcessingCache().SeenRecently(host.InstanceID, time.Now()) {
		p.log.Debug("instance already being processed, skipping", "instance_id", host.InstanceID)
		return p.queue.DeleteDrainMessages(ctx, msg.ReceiptHandle)
	}

	// Orphaned agent ID: re-resolve via the cloud provider before
	// deciding what to do with it.
	if host.AgentID == "" && host.Scheduler == SchedulerKubernetes {
		return p.handleOrphan(ctx, msg)
	}

	if host.DrainingStartTime != 0 && time.Since(time.Unix(host.DrainingStartTime, 0)) > MaxDrainingTime {
		return p.handleExpiry(ctx, msg)
	}

	if host.Scheduler == SchedulerMesos {
		if _, err := p.cluster.Drain(ctx, host.AgentID); err != nil {
			return err
		}
		if err := p.forwardToTermination(ctx, host, defaultTerminationDelaySeconds); err != nil {
			return err
		}
		return p.queue.DeleteDrainMessages(ctx, msg.ReceiptHandle)
	}

	drained, err := p.cluster.Drain(ctx, host.AgentID)
	if err != nil {
		return err
	}
	if drained {
		if err := p.forwardToTermination(ctx, host, 0); err != nil {
			return err
		}
		return p.queue.DeleteDrainMessages(ctx, msg.ReceiptHandle)
	}

	if err := p.queue.SubmitHostForDraining(ctx, host, 0, host.Attempt+1); err != nil {
		return err
	}
	return p.queue.DeleteDrainMessages(ctx, msg.ReceiptHandle)
}

func (p *DrainPipeline) handleOrphan(ctx context.Context, msg *Message) error {
	host := msg.Host
	resolved, err := p.queue.HostFromInstanceID(ctx, host.InstanceID)
	if err != nil {
		return err
	}
	if resolved == nil {
		return p.queue.DeleteDrainMessages(ctx, msg.ReceiptHandle)
	}
	if resolved.AgentID == "" {
		if err := p.forwardToTermination(ctx, host, 0); err != nil {
			return err
		}
		return p.queue.DeleteDrainMessages(ctx, msg.ReceiptHandle)
	}

	host.AgentID = resolved.AgentID
	if err := p.queue.SubmitHostForDraining(ctx, host, 0, 2); err != nil {
		return err
	}
	return p.queue.DeleteDrainMessages(ctx, msg.ReceiptHandle)
}

func (p *DrainPipeline) handleExpiry(ctx context.Context, msg *Message) error {
	host := msg.Host
	if !ForceTerminationOnExpiry {
		if err := p.cluster.Uncordon(ctx, host.AgentID); err != nil {
			return err
		}
		return p.queue.DeleteDrainMessages(ctx, msg.ReceiptHandle)
	}
	if err := p.forwardToTermination(ctx, host, 0); err != nil {
		return err
	}
	return p.queue.DeleteDrainMessages(ctx, msg.ReceiptHandle)
}

func (p *DrainPipeline) forwardToTermination(ctx context.Context, host Host, delay int) error {
	return p.queue.SubmitHostForTermination(ctx, host, delay)
}

// TerminatePipeline advances hosts sitting on the terminate queue: it asks
// the cloud provider's resource group to remove the host, and, for Mesos
// pools, toggles the Mesos maintenance window closed around the call.
type TerminatePipeline struct {
	log             hclog.Logger
	queue           *DrainingClient
	resourceGroups  map[string]Terminator // keyed by Host.Sender
	mesosMaintainer MesosMaintainer
}

// MesosMaintainer brackets a Mesos host's termination with maintenance
// mode transitions, a no-op for pools that don't run Mesos.
type MesosMaintainer interface {
	MesosDown(ctx context.Context, hostname string) error
	MesosUp(ctx context.Context, hostname string) error
}

// NewTerminatePipeline builds a TerminatePipeline. resourceGroups maps a
// Host's Sender field ("asg", "sfr") to the Terminator responsible for it.
func NewTerminatePipeline(log hclog.Logger, queue *DrainingClient, resourceGroups map[string]Terminator, mesos MesosMaintainer) *TerminatePipeline {
	return &TerminatePipeline{
		log:             log.Named("terminate_pipeline"),
		queue:           queue,
		resourceGroups:  resourceGroups,
		mesosMaintainer: mesos,
	}
}

// ProcessOne receives and advances a single terminate queue message, if
// one is available. It returns false when the queue was empty.
func (p *TerminatePipeline) ProcessOne(ctx context.Context) (bool, error) {
	msg, err := p.queue.GetHostToTerminate(ctx)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}
	return true, p.process(ctx, msg)
}

func (p *TerminatePipeline) process(ctx context.Context, msg *Message) error {
	host := msg.Host

	if host.Scheduler == SchedulerMesos && host.Hostname != "" {
		if err := p.mesosMaintainer.MesosDown(ctx, host.Hostname); err != nil {
			return err
		}
	}

	rg, ok := p.resourceGroups[host.Sender]
	if !ok {
		p.log.Warn("no resource group for sender, dropping", "sender", host.Sender, "instance_id", host.InstanceID)
		return p.queue.DeleteTerminateMessages(ctx, msg.ReceiptHandle)
	}
	if err := rg.TerminateHost(ctx, host); err != nil {
		return err
	}

	if host.Scheduler == SchedulerMesos && host.Hostname != "" {
		if err := p.mesosMaintainer.MesosUp(ctx, host.Hostname); err != nil {
			return err
		}
	}

	return p.queue.DeleteTerminateMessages(ctx, msg.ReceiptHandle)
}

// ProcessWarningQueue drains at most one spot-interruption warning, queuing
// the resolved host for draining and acknowledging the warning message.
func ProcessWarningQueue(ctx context.Context, queue *DrainingClient) error {
	host, err := queue.GetWarnedHost(ctx)
	if err != nil {
		return err
	}
	if host == nil {
		return nil
	}
	return queue.SubmitHostForDraining(ctx, *host, 0, 0)
}

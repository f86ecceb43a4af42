package draining

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgWithBody(body, handle string) sqstypes.Message {
	return sqstypes.Message{Body: &body, ReceiptHandle: &handle}
}

type fakeConnector struct {
	drainResult  bool
	drainErr     error
	uncordoned   []string
	drainedAgent []string
}

func (f *fakeConnector) Drain(ctx context.Context, agentID string) (bool, error) {
	f.drainedAgent = append(f.drainedAgent, agentID)
	return f.drainResult, f.drainErr
}

func (f *fakeConnector) Uncordon(ctx context.Context, agentID string) error {
	f.uncordoned = append(f.uncordoned, agentID)
	return nil
}

type fakeTerminator struct {
	terminated []Host
}

func (f *fakeTerminator) TerminateHost(ctx context.Context, h Host) error {
	f.terminated = append(f.terminated, h)
	return nil
}

type fakeMaintainer struct {
	down []string
	up   []string
}

func (f *fakeMaintainer) MesosDown(ctx context.Context, hostname string) error {
	f.down = append(f.down, hostname)
	return nil
}

func (f *fakeMaintainer) MesosUp(ctx context.Context, hostname string) error {
	f.up = append(f.up, hostname)
	return nil
}

func newTestClient(sqsClient *fakeSQS, ec2Client *fakeEC2) *DrainingClient {
	return NewDrainingClient(hclog.NewNullLogger(), sqsClient, ec2Client, "drain-url", "warning-url", "terminate-url")
}

func sentBody(t *testing.T, sqsClient *fakeSQS, i int) drainBody {
	t.Helper()
	var body drainBody
	require.NoError(t, json.Unmarshal([]byte(*sqsClient.sent[i].MessageBody), &body))
	return body
}

func TestDrainPipeline_KubernetesDrainedForwardsToTermination(t *testing.T) {
	sqsClient := newFakeSQS()
	client := newTestClient(sqsClient, &fakeEC2{})
	connector := &fakeConnector{drainResult: true}
	pipeline := NewDrainPipeline(hclog.NewNullLogger(), client, connector)

	host := Host{InstanceID: "i-1", AgentID: "agent-1", Scheduler: SchedulerKubernetes, DrainingStartTime: time.Now().Unix()}
	sqsClient.enqueue("drain-url", toDrainBody(host))

	ok, err := pipeline.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"agent-1"}, connector.drainedAgent)
	require.Len(t, sqsClient.sent, 1, "drained host forwarded to terminate queue")
	assert.Len(t, sqsClient.deleted, 1, "drain message acknowledged")
}

func TestDrainPipeline_KubernetesIncompleteDrainResubmits(t *testing.T) {
	sqsClient := newFakeSQS()
	client := newTestClient(sqsClient, &fakeEC2{})
	connector := &fakeConnector{drainResult: false}
	pipeline := NewDrainPipeline(hclog.NewNullLogger(), client, connector)

	host := Host{InstanceID: "i-1", AgentID: "agent-1", Scheduler: SchedulerKubernetes, DrainingStartTime: time.Now().Unix(), Attempt: 1}
	sqsClient.enqueue("drain-url", toDrainBody(host))

	_, err := pipeline.ProcessOne(context.Background())
	require.NoError(t, err)
	require.Len(t, sqsClient.sent, 1)
	assert.Equal(t, 2, sentBody(t, sqsClient, 0).Attempt, "resubmit increments attempt")
}

func TestDrainPipeline_MesosForwardsImmediatelyWithDelay(t *testing.T) {
	sqsClient := newFakeSQS()
	client := newTestClient(sqsClient, &fakeEC2{})
	connector := &fakeConnector{drainResult: true}
	pipeline := NewDrainPipeline(hclog.NewNullLogger(), client, connector)

	host := Host{InstanceID: "i-1", AgentID: "agent-1", Scheduler: SchedulerMesos, DrainingStartTime: time.Now().Unix()}
	sqsClient.enqueue("drain-url", toDrainBody(host))

	_, err := pipeline.ProcessOne(context.Background())
	require.NoError(t, err)
	require.Len(t, sqsClient.sent, 1)
	assert.Equal(t, int32(defaultTerminationDelaySeconds), sqsClient.sent[0].DelaySeconds)
}

func TestDrainPipeline_OrphanResolvedWithoutAgentIDForwardsToTermination(t *testing.T) {
	sqsClient := newFakeSQS()
	ec2Client := &fakeEC2{instances: map[string]ec2types.Instance{
		"i-1": {
			InstanceId: strp("i-1"),
			Tags: []ec2types.Tag{
				{Key: strp("aws:autoscaling:groupName"), Value: strp("my-asg")},
			},
		},
	}}
	client := newTestClient(sqsClient, ec2Client)
	connector := &fakeConnector{drainResult: true}
	pipeline := NewDrainPipeline(hclog.NewNullLogger(), client, connector)

	host := Host{InstanceID: "i-1", Scheduler: SchedulerKubernetes, DrainingStartTime: time.Now().Unix()}
	sqsClient.enqueue("drain-url", toDrainBody(host))

	_, err := pipeline.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.Empty(t, connector.drainedAgent, "orphan handling never calls Drain directly")

	require.Len(t, sqsClient.sent, 1, "resolved-but-agentless orphan forwards straight to termination")
}

func TestDrainPipeline_OrphanUnresolvableDropsMessage(t *testing.T) {
	sqsClient := newFakeSQS()
	client := newTestClient(sqsClient, &fakeEC2{})
	connector := &fakeConnector{}
	pipeline := NewDrainPipeline(hclog.NewNullLogger(), client, connector)

	host := Host{InstanceID: "i-gone", Scheduler: SchedulerKubernetes, DrainingStartTime: time.Now().Unix()}
	sqsClient.enqueue("drain-url", toDrainBody(host))

	_, err := pipeline.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sqsClient.sent, "unresolvable orphan forwards nowhere")
	assert.Len(t, sqsClient.deleted, 1, "message still acknowledged")
}

func TestDrainPipeline_ExpiryUncordonsByDefault(t *testing.T) {
	sqsClient := newFakeSQS()
	client := newTestClient(sqsClient, &fakeEC2{})
	connector := &fakeConnector{}
	pipeline := NewDrainPipeline(hclog.NewNullLogger(), client, connector)

	ForceTerminationOnExpiry = false
	host := Host{InstanceID: "i-1", AgentID: "agent-1", Scheduler: SchedulerKubernetes, DrainingStartTime: time.Now().Add(-2 * MaxDrainingTime).Unix()}
	sqsClient.enqueue("drain-url", toDrainBody(host))

	_, err := pipeline.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-1"}, connector.uncordoned)
	assert.Empty(t, sqsClient.sent)
}

func TestDrainPipeline_ExpiryForcesTerminationWhenConfigured(t *testing.T) {
	sqsClient := newFakeSQS()
	client := newTestClient(sqsClient, &fakeEC2{})
	connector := &fakeConnector{}
	pipeline := NewDrainPipeline(hclog.NewNullLogger(), client, connector)

	ForceTerminationOnExpiry = true
	defer func() { ForceTerminationOnExpiry = false }()

	host := Host{InstanceID: "i-1", AgentID: "agent-1", Scheduler: SchedulerKubernetes, DrainingStartTime: time.Now().Add(-2 * MaxDrainingTime).Unix()}
	sqsClient.enqueue("drain-url", toDrainBody(host))

	_, err := pipeline.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.Empty(t, connector.uncordoned)
	assert.Len(t, sqsClient.sent, 1, "expiry with forced termination forwards to terminate queue")
}

func TestTerminatePipeline_MesosBracketsWithMaintenanceMode(t *testing.T) {
	sqsClient := newFakeSQS()
	client := newTestClient(sqsClient, &fakeEC2{})
	terminator := &fakeTerminator{}
	maintainer := &fakeMaintainer{}
	pipeline := NewTerminatePipeline(hclog.NewNullLogger(), client, map[string]Terminator{"asg": terminator}, maintainer)

	host := Host{InstanceID: "i-1", Hostname: "host-1", Scheduler: SchedulerMesos, Sender: "asg"}
	sqsClient.enqueue("terminate-url", toDrainBody(host))
	sqsClient.toRecv["terminate-url"][0].MessageAttributes = map[string]sqstypes.MessageAttributeValue{
		"Sender": {DataType: strp("String"), StringValue: strp(host.Sender)},
	}

	ok, err := pipeline.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"host-1"}, maintainer.down)
	assert.Equal(t, []string{"host-1"}, maintainer.up)
	require.Len(t, terminator.terminated, 1)
	assert.Equal(t, "i-1", terminator.terminated[0].InstanceID)
}

func TestTerminatePipeline_UnknownSenderDropsMessage(t *testing.T) {
	sqsClient := newFakeSQS()
	client := newTestClient(sqsClient, &fakeEC2{})
	pipeline := NewTerminatePipeline(hclog.NewNullLogger(), client, map[string]Terminator{}, &fakeMaintainer{})

	host := Host{InstanceID: "i-1", Sender: "unknown", Scheduler: SchedulerKubernetes}
	sqsClient.enqueue("terminate-url", toDrainBody(host))

	_, err := pipeline.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.Len(t, sqsClient.deleted, 1)
}

func TestProcessWarningQueue_SubmitsResolvedHostForDraining(t *testing.T) {
	sqsClient := newFakeSQS()
	ec2Client := &fakeEC2{instances: map[string]ec2types.Instance{
		"i-1": {
			InstanceId: strp("i-1"),
			Tags: []ec2types.Tag{
				{Key: strp("aws:autoscaling:groupName"), Value: strp("my-asg")},
			},
		},
	}}
	client := newTestClient(sqsClient, ec2Client)

	warning, _ := json.Marshal(map[string]string{"instance_id": "i-1"})
	handle := "warning-handle"
	str := string(warning)
	sqsClient.toRecv["warning-url"] = append(sqsClient.toRecv["warning-url"], msgWithBody(str, handle))

	require.NoError(t, ProcessWarningQueue(context.Background(), client))
	require.Len(t, sqsClient.sent, 1)
	assert.Equal(t, string(ReasonSpotInterruption), sentBody(t, sqsClient, 0).TerminationReason)
}

package draining

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	clustermanerror "github.com/yelp/clusterman/sdk/helper/error"
)

// defaultTerminationDelaySeconds matches the delay the original queue used
// when scheduling a host for termination without an explicit delay: give
// in-flight drain acknowledgements a chance to land before the terminate
// pipeline picks the message back up.
const defaultTerminationDelaySeconds = 90

// SQSAPI is the subset of the SQS client the draining queue depends on,
// narrowed so tests can supply an in-memory fake.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// EC2API is the subset of the EC2 client used to resolve a bare instance ID
// into a Host when a queue message arrives without full identity attached.
type EC2API interface {
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// Message wraps a received queue entry with the receipt handle needed to
// delete it once the pipeline has acted on it.
type Message struct {
	Host          Host
	ReceiptHandle string
}

// DrainingClient is the SQS-backed transport for the drain, warning, and
// terminate queues. One DrainingClient is shared by both pipeline state
// machines and by the event-driven migration path that submits hosts for
// draining directly.
type DrainingClient struct {
	log hclog.Logger

	sqsClient SQSAPI
	ec2Client EC2API

	drainQueueURL     string
	warningQueueURL   string // empty disables warning queue operations
	terminateQueueURL string

	cache *dedupCache
}

// NewDrainingClient builds a client bound to the given queue URLs. An empty
// warningQueueURL disables spot-warning handling: GetWarnedHost and
// DeleteWarningMessages become no-ops, matching pools with no spot fleet
// warning source configured.
func NewDrainingClient(log hclog.Logger, sqsClient SQSAPI, ec2Client EC2API, drainQueueURL, warningQueueURL, terminateQueueURL string) *DrainingClient {
	return &DrainingClient{
		log:               log.Named("draining_queue"),
		sqsClient:         sqsClient,
		ec2Client:         ec2Client,
		drainQueueURL:     drainQueueURL,
		warningQueueURL:   warningQueueURL,
		terminateQueueURL: terminateQueueURL,
		cache:             newDedupCache(60 * time.Second),
	}
}

type drainBody struct {
	AgentID           string `json:"agent_id"`
	Attempt           int    `json:"attempt"`
	DrainingStartTime int64  `json:"draining_start_time"`
	GroupID           string `json:"group_id"`
	Hostname          string `json:"hostname"`
	InstanceID        string `json:"instance_id"`
	IP                string `json:"ip"`
	Pool              string `json:"pool"`
	TerminationReason string `json:"termination_reason"`
	Scheduler         string `json:"scheduler"`
}

func toDrainBody(h Host) drainBody {
	return drainBody{
		AgentID:           h.AgentID,
		Attempt:           h.Attempt,
		DrainingStartTime: h.DrainingStartTime,
		GroupID:           h.GroupID,
		Hostname:          h.Hostname,
		InstanceID:        h.InstanceID,
		IP:                h.IPAddress,
		Pool:              h.Pool,
		TerminationReason: string(h.Reason),
		Scheduler:         string(h.Scheduler),
	}
}

func fromDrainBody(b drainBody) Host {
	return Host{
		AgentID:           b.AgentID,
		Attempt:           b.Attempt,
		DrainingStartTime: b.DrainingStartTime,
		GroupID:           b.GroupID,
		Hostname:          b.Hostname,
		InstanceID:        b.InstanceID,
		IPAddress:         b.IP,
		Pool:              b.Pool,
		Reason:            TerminationReason(b.TerminationReason),
		Scheduler:         Scheduler(b.Scheduler),
	}
}

// SubmitHostForDraining enqueues host onto the drain queue with its attempt
// count set to attempt, stamping the draining start time when the host does
// not carry one yet and preserving it otherwise.
func (c *DrainingClient) SubmitHostForDraining(ctx context.Context, h Host, delaySeconds, attempt int) error {
	h.Attempt = attempt
	if h.DrainingStartTime == 0 {
		h.DrainingStartTime = nowUnix()
	}
	return c.sendHost(ctx, c.drainQueueURL, h, delaySeconds)
}

// SubmitHostForTermination enqueues host directly onto the terminate queue,
// skipping any further draining.
func (c *DrainingClient) SubmitHostForTermination(ctx context.Context, h Host, delaySeconds int) error {
	return c.sendHost(ctx, c.terminateQueueURL, h, delaySeconds)
}

// SubmitHostForTerminationDefault is SubmitHostForTermination with the
// standard 90 second delay used throughout the pipeline.
func (c *DrainingClient) SubmitHostForTerminationDefault(ctx context.Context, h Host) error {
	return c.SubmitHostForTermination(ctx, h, defaultTerminationDelaySeconds)
}

func (c *DrainingClient) sendHost(ctx context.Context, queueURL string, h Host, delaySeconds int) error {
	body, err := json.Marshal(toDrainBody(h))
	if err != nil {
		return fmt.Errorf("draining queue: marshal host: %w", err)
	}

	_, err = c.sqsClient.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     &queueURL,
		MessageBody:  strPtr(string(body)),
		DelaySeconds: int32(delaySeconds),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"Sender": {
				DataType:    strPtr("String"),
				StringValue: strPtr(h.Sender),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("draining queue: send message: %w", err)
	}
	return nil
}

// GetHostToDrain receives at most one message from the drain queue.
func (c *DrainingClient) GetHostToDrain(ctx context.Context) (*Message, error) {
	return c.receiveOne(ctx, c.drainQueueURL)
}

// GetHostToTerminate receives at most one message from the terminate queue.
func (c *DrainingClient) GetHostToTerminate(ctx context.Context) (*Message, error) {
	return c.receiveOne(ctx, c.terminateQueueURL)
}

func (c *DrainingClient) receiveOne(ctx context.Context, queueURL string) (*Message, error) {
	out, err := c.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              &queueURL,
		MaxNumberOfMessages:   1,
		MessageAttributeNames: []string{"Sender"},
	})
	if err != nil {
		return nil, fmt.Errorf("draining queue: receive message: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	msg := out.Messages[0]
	var body drainBody
	if err := json.Unmarshal([]byte(*msg.Body), &body); err != nil {
		return nil, fmt.Errorf("draining queue: unmarshal message body: %w", err)
	}

	host := fromDrainBody(body)
	if attr, ok := msg.MessageAttributes["Sender"]; ok && attr.StringValue != nil {
		host.Sender = *attr.StringValue
	}
	return &Message{Host: host, ReceiptHandle: *msg.ReceiptHandle}, nil
}

// DeleteDrainMessages deletes the given receipt handles from the drain
// queue.
func (c *DrainingClient) DeleteDrainMessages(ctx context.Context, handles ...string) error {
	return c.deleteMessages(ctx, c.drainQueueURL, handles)
}

// DeleteTerminateMessages deletes the given receipt handles from the
// terminate queue.
func (c *DrainingClient) DeleteTerminateMessages(ctx context.Context, handles ...string) error {
	return c.deleteMessages(ctx, c.terminateQueueURL, handles)
}

// DeleteWarningMessages deletes the given receipt handles from the warning
// queue. It is a no-op when no warning queue is configured.
func (c *DrainingClient) DeleteWarningMessages(ctx context.Context, handles ...string) error {
	if c.warningQueueURL == "" {
		return nil
	}
	return c.deleteMessages(ctx, c.warningQueueURL, handles)
}

func (c *DrainingClient) deleteMessages(ctx context.Context, queueURL string, handles []string) error {
	var result *multierror.Error
	for _, h := range handles {
		handle := h
		_, err := c.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      &queueURL,
			ReceiptHandle: &handle,
		})
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("delete message %s: %w", handle, err))
		}
	}
	return clustermanerror.FormattedMultiError(result)
}

// GetWarnedHost receives one spot-interruption warning, resolving it to a
// Host via EC2 tags. A warning whose instance can no longer be resolved
// (already gone) is deleted and (nil, nil) is returned. An empty
// warningQueueURL short-circuits to (nil, nil) without touching SQS.
func (c *DrainingClient) GetWarnedHost(ctx context.Context) (*Host, error) {
	if c.warningQueueURL == "" {
		return nil, nil
	}

	out, err := c.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &c.warningQueueURL,
		MaxNumberOfMessages: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("draining queue: receive warning: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}
	msg := out.Messages[0]

	var payload struct {
		InstanceID string `json:"instance_id"`
	}
	if err := json.Unmarshal([]byte(*msg.Body), &payload); err != nil {
		return nil, fmt.Errorf("draining queue: unmarshal warning: %w", err)
	}

	host, err := c.HostFromInstanceID(ctx, payload.InstanceID)
	if err != nil {
		return nil, err
	}
	if host == nil {
		_ = c.deleteMessages(ctx, c.warningQueueURL, []string{*msg.ReceiptHandle})
		return nil, nil
	}
	host.Reason = ReasonSpotInterruption
	return host, nil
}

// HostFromInstanceID resolves a bare EC2 instance ID into a Host by
// inspecting its tags. It returns (nil, nil), not an error, whenever the
// instance cannot be resolved to a usable host: a failed describe call, no
// matching instance, or no resource-group tag identifying its owning
// ASG/spot fleet. No hostname lookup is made: the returned Host's Hostname
// (and AgentID) are left empty.
func (c *DrainingClient) HostFromInstanceID(ctx context.Context, instanceID string) (*Host, error) {
	out, err := c.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		c.log.Warn("describe instances failed", "instance_id", instanceID, "error", err)
		return nil, nil
	}

	var inst *ec2types.Instance
	for _, res := range out.Reservations {
		for i := range res.Instances {
			inst = &res.Instances[i]
		}
	}
	if inst == nil {
		return nil, nil
	}

	tags := map[string]string{}
	for _, t := range inst.Tags {
		if t.Key != nil && t.Value != nil {
			tags[*t.Key] = *t.Value
		}
	}

	var sender string
	switch {
	case tags["aws:ec2spot:fleet-request-id"] != "":
		sender = "sfr"
	case tags["aws:autoscaling:groupName"] != "":
		sender = "asg"
	default:
		return nil, nil
	}

	h := &Host{
		InstanceID: instanceID,
		Sender:     sender,
	}
	if inst.PrivateIpAddress != nil {
		h.IPAddress = *inst.PrivateIpAddress
	}
	if cluster := tags["KubernetesCluster"]; cluster != "" {
		h.Scheduler = SchedulerKubernetes
	} else {
		h.Scheduler = SchedulerMesos
	}
	return h, nil
}

// dedupCache is a TTL set used to suppress reprocessing the same
// instance ID within ttl of its last sighting. Boundary is exclusive: an
// entry exactly ttl old is considered expired.
type dedupCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
}

func newDedupCache(ttl time.Duration) *dedupCache {
	return &dedupCache{ttl: ttl, entries: make(map[string]time.Time)}
}

// SeenRecently reports whether key was recorded within the last ttl, and
// records the current sighting either way.
func (d *dedupCache) SeenRecently(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	last, ok := d.entries[key]
	d.entries[key] = now
	if !ok {
		return false
	}
	return now.Sub(last) < d.ttl
}

// Clean evicts entries whose last sighting is ttl or more in the past.
func (d *dedupCache) Clean(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, t := range d.entries {
		if now.Sub(t) >= d.ttl {
			delete(d.entries, k)
		}
	}
}

// ProcessingCache exposes the client's instance-ID dedup cache so the
// drain pipeline can guard against handling the same message twice within
// one visibility cycle.
func (c *DrainingClient) ProcessingCache() *dedupCache { return c.cache }

func strPtr(s string) *string { return &s }

// nowUnix is a var so tests can stub the draining start-time stamp without
// threading a clock through every call site.
var nowUnix = func() int64 { return time.Now().Unix() }

package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/hashicorp/go-hclog"

	"github.com/yelp/clusterman/cluster"
	"github.com/yelp/clusterman/draining"
	clustermanerror "github.com/yelp/clusterman/sdk/helper/error"
)

// ASGAPI is the subset of the Auto Scaling client ASGResourceGroup
// depends on, narrowed so tests can supply an in-memory fake.
type ASGAPI interface {
	DescribeAutoScalingGroups(ctx context.Context, in *autoscaling.DescribeAutoScalingGroupsInput, opts ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
	SuspendProcesses(ctx context.Context, in *autoscaling.SuspendProcessesInput, opts ...func(*autoscaling.Options)) (*autoscaling.SuspendProcessesOutput, error)
	ResumeProcesses(ctx context.Context, in *autoscaling.ResumeProcessesInput, opts ...func(*autoscaling.Options)) (*autoscaling.ResumeProcessesOutput, error)
	TerminateInstanceInAutoScalingGroup(ctx context.Context, in *autoscaling.TerminateInstanceInAutoScalingGroupInput, opts ...func(*autoscaling.Options)) (*autoscaling.TerminateInstanceInAutoScalingGroupOutput, error)
	UpdateAutoScalingGroup(ctx context.Context, in *autoscaling.UpdateAutoScalingGroupInput, opts ...func(*autoscaling.Options)) (*autoscaling.UpdateAutoScalingGroupOutput, error)
}

// EC2API is the subset of the EC2 client ASGResourceGroup depends on.
type EC2API interface {
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// ASGResourceGroup adapts one Auto Scaling Group into cluster.CloudGroup
// and draining.Terminator, the way the teacher's aws-asg target plugin
// adapts an ASG into its own Scale/Status surface.
type ASGResourceGroup struct {
	log hclog.Logger

	asgClient ASGAPI
	ec2Client EC2API

	Name string
}

// NewASGResourceGroup builds a resource group bound to the named ASG.
func NewASGResourceGroup(log hclog.Logger, asgClient ASGAPI, ec2Client EC2API, name string) *ASGResourceGroup {
	return &ASGResourceGroup{
		log:       log.Named("asg_resource_group").With("asg", name),
		asgClient: asgClient,
		ec2Client: ec2Client,
		Name:      name,
	}
}

func (g *ASGResourceGroup) describe(ctx context.Context) (*asgtypes.AutoScalingGroup, error) {
	out, err := g.asgClient.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{g.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("asg resource group: describe %s: %w", g.Name, err)
	}
	if len(out.AutoScalingGroups) == 0 {
		return nil, fmt.Errorf("asg resource group: %s not found", g.Name)
	}
	return &out.AutoScalingGroups[0], nil
}

// Instances returns the cloud-provider metadata for every instance
// currently in the group, enriched with the EC2 description needed for
// uptime and instance-type based migration conditions.
func (g *ASGResourceGroup) Instances(ctx context.Context) ([]cluster.InstanceMetadata, error) {
	asg, err := g.describe(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, i := range asg.Instances {
		ids = append(ids, *i.InstanceId)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	out, err := g.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: ids})
	if err != nil {
		return nil, fmt.Errorf("asg resource group: describe instances: %w", err)
	}

	var result []cluster.InstanceMetadata
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			meta := cluster.InstanceMetadata{
				InstanceID:   *inst.InstanceId,
				Market:       "on-demand",
				Weight:       1.0,
				State:        string(inst.State.Name),
				InstanceType: string(inst.InstanceType),
			}
			if inst.SpotInstanceRequestId != nil {
				meta.Market = "spot"
			}
			if inst.PrivateIpAddress != nil {
				meta.IPAddress = *inst.PrivateIpAddress
			}
			if inst.LaunchTime != nil {
				meta.Uptime = time.Since(*inst.LaunchTime)
			}
			result = append(result, meta)
		}
	}
	return result, nil
}

// CapacitySatisfied reports whether the ASG's in-service instance count
// currently meets its desired capacity: a migration that has just drained
// a node should not be considered healthy until the replacement has
// actually joined.
func (g *ASGResourceGroup) CapacitySatisfied(ctx context.Context) (bool, error) {
	asg, err := g.describe(ctx)
	if err != nil {
		return false, err
	}

	inService := 0
	for _, i := range asg.Instances {
		if i.LifecycleState == asgtypes.LifecycleStateInService {
			inService++
		}
	}

	desired := int32(0)
	if asg.DesiredCapacity != nil {
		desired = *asg.DesiredCapacity
	}
	return int32(inService) >= desired, nil
}

// SetAutoscalingEnabled suspends or resumes the ASG's own scaling
// processes, used by EventMigrationWorker to prevent the autoscaler from
// fighting a disruptive migration.
func (g *ASGResourceGroup) SetAutoscalingEnabled(ctx context.Context, enabled bool) error {
	processes := []string{"Launch", "Terminate", "AlarmNotification", "ScheduledActions"}
	if enabled {
		_, err := g.asgClient.ResumeProcesses(ctx, &autoscaling.ResumeProcessesInput{
			AutoScalingGroupName: &g.Name,
			ScalingProcesses:     processes,
		})
		if err != nil {
			return fmt.Errorf("asg resource group: resume processes: %w", err)
		}
		return nil
	}

	_, err := g.asgClient.SuspendProcesses(ctx, &autoscaling.SuspendProcessesInput{
		AutoScalingGroupName: &g.Name,
		ScalingProcesses:     processes,
	})
	if err != nil {
		return fmt.Errorf("asg resource group: suspend processes: %w", err)
	}
	return nil
}

// TargetCapacity returns the ASG's current desired capacity.
func (g *ASGResourceGroup) TargetCapacity(ctx context.Context) (int, error) {
	asg, err := g.describe(ctx)
	if err != nil {
		return 0, err
	}
	if asg.DesiredCapacity == nil {
		return 0, nil
	}
	return int(*asg.DesiredCapacity), nil
}

// ModifyTargetCapacity sets the ASG's desired capacity, used to pre-scale
// a pool ahead of a disruptive migration.
func (g *ASGResourceGroup) ModifyTargetCapacity(ctx context.Context, capacity int) error {
	desired := int32(capacity)
	_, err := g.asgClient.UpdateAutoScalingGroup(ctx, &autoscaling.UpdateAutoScalingGroupInput{
		AutoScalingGroupName: &g.Name,
		DesiredCapacity:      &desired,
	})
	if err != nil {
		return fmt.Errorf("asg resource group: update desired capacity: %w", err)
	}
	return nil
}

// TerminateHost removes host's underlying instance from the ASG. Desired
// capacity is decremented only for hosts whose Reason is ReasonScaleIn, so
// the autoscaler doesn't immediately replace it out from under an
// intentional scale-in; other terminations leave it unchanged.
func (g *ASGResourceGroup) TerminateHost(ctx context.Context, host draining.Host) error {
	_, err := g.asgClient.TerminateInstanceInAutoScalingGroup(ctx, &autoscaling.TerminateInstanceInAutoScalingGroupInput{
		InstanceId:                     &host.InstanceID,
		ShouldDecrementDesiredCapacity: host.Reason == draining.ReasonScaleIn,
	})
	if err != nil {
		// The instance may already be gone by the time the terminate
		// pipeline gets to it, e.g. a spot interruption racing our own
		// call; treat that as success rather than surfacing an error
		// for a host that no longer exists either way.
		if clustermanerror.APIErrIs(err, 0, "is not part of") || clustermanerror.APIErrIs(err, 0, "not found") {
			g.log.Debug("instance already gone from asg", "instance_id", host.InstanceID)
			return nil
		}
		return fmt.Errorf("asg resource group: terminate %s: %w", host.InstanceID, err)
	}
	return nil
}

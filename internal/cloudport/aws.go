package cloudport

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/ec2metadata"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/autoscaling"
	"github.com/aws/aws-sdk-go/service/ec2"

	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/logging"
	"github.com/mathworks-ref-arch/matlab-parallel-server-on-aws/internal/structs"
)

// AWSAdapter implements Port against an EC2 Auto Scaling group, following
// the session/service-client setup used throughout
// cloud/aws/aws_cloud_provider.go in the teacher project.
type AWSAdapter struct {
	asg *autoscaling.AutoScaling
	ec2 *ec2.EC2

	asgName        string
	headNodeID     string
	workersPerNode int

	log *logging.Logger
}

// NewAWSAdapter builds an AWSAdapter for the given region and Auto Scaling
// group name, with the head node's instance ID and workers-per-node count
// supplied directly (both are resolved once at process start-up from
// instance metadata and runtime configuration, rather than rediscovered on
// every call).
func NewAWSAdapter(region, asgName, headNodeID string, workersPerNode int, log *logging.Logger) *AWSAdapter {
	if log == nil {
		log = logging.Nop()
	}
	sess := session.Must(session.NewSession())
	cfg := &awssdk.Config{Region: awssdk.String(region)}

	return &AWSAdapter{
		asg:            autoscaling.New(sess, cfg),
		ec2:            ec2.New(sess, cfg),
		asgName:        asgName,
		headNodeID:     headNodeID,
		workersPerNode: workersPerNode,
		log:            log.Component("cloudport.aws"),
	}
}

// HeadNodeIDFromMetadata reads the running instance's ID from EC2 instance
// metadata, used at process start-up before the AWSAdapter is built.
func HeadNodeIDFromMetadata(ctx context.Context) (string, error) {
	sess := session.Must(session.NewSession())
	client := ec2metadata.New(sess)
	doc, err := client.GetInstanceIdentityDocumentWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("cloudport: unable to read instance identity document: %w", err)
	}
	return doc.InstanceID, nil
}

func (a *AWSAdapter) describeASG(ctx context.Context) (*autoscaling.Group, error) {
	out, err := a.asg.DescribeAutoScalingGroupsWithContext(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []*string{awssdk.String(a.asgName)},
	})
	if err != nil {
		return nil, fmt.Errorf("cloudport: describe auto scaling group %s: %w", a.asgName, err)
	}
	if len(out.AutoScalingGroups) == 0 {
		return nil, fmt.Errorf("cloudport: auto scaling group %s not found", a.asgName)
	}
	return out.AutoScalingGroups[0], nil
}

// GetCloudCapacity implements Port.
func (a *AWSAdapter) GetCloudCapacity(ctx context.Context) (structs.CloudCapacity, error) {
	group, err := a.describeASG(ctx)
	if err != nil {
		return structs.CloudCapacity{}, err
	}

	current := 0
	for _, inst := range group.Instances {
		if awssdk.StringValue(inst.HealthStatus) == "Healthy" &&
			(awssdk.StringValue(inst.LifecycleState) == "Pending" ||
				awssdk.StringValue(inst.LifecycleState) == "InService") {
			current++
		}
	}

	return structs.CloudCapacity{
		DesiredNodes:   int(awssdk.Int64Value(group.DesiredCapacity)),
		MinimumNodes:   int(awssdk.Int64Value(group.MinSize)),
		MaximumNodes:   int(awssdk.Int64Value(group.MaxSize)),
		CurrentNodes:   current,
		WorkersPerNode: a.workersPerNode,
	}, nil
}

// GetIdleTimeoutSeconds implements Port.
func (a *AWSAdapter) GetIdleTimeoutSeconds(ctx context.Context) (int, error) {
	group, err := a.describeASG(ctx)
	if err != nil {
		return IdleTimeoutDefaultMins * 60, err
	}

	for _, tag := range group.Tags {
		if awssdk.StringValue(tag.Key) != IdleTimeoutTag {
			continue
		}
		var minutes float64
		if _, scanErr := fmt.Sscanf(awssdk.StringValue(tag.Value), "%f", &minutes); scanErr != nil {
			a.log.Debug("tag %s value %q is not a number, resetting to default", IdleTimeoutTag, awssdk.StringValue(tag.Value))
			a.resetIdleTimeoutTag(ctx)
			return IdleTimeoutDefaultMins * 60, nil
		}
		seconds := int(minutes * 60)
		if seconds < 0 {
			a.log.Debug("tag %s value %q is negative, resetting to default", IdleTimeoutTag, awssdk.StringValue(tag.Value))
			a.resetIdleTimeoutTag(ctx)
			return IdleTimeoutDefaultMins * 60, nil
		}
		return seconds, nil
	}

	a.log.Debug("tag %s was not found, using default", IdleTimeoutTag)
	return IdleTimeoutDefaultMins * 60, nil
}

func (a *AWSAdapter) resetIdleTimeoutTag(ctx context.Context) {
	_, err := a.asg.CreateOrUpdateTagsWithContext(ctx, &autoscaling.CreateOrUpdateTagsInput{
		Tags: []*autoscaling.Tag{
			{
				ResourceId:        awssdk.String(a.asgName),
				ResourceType:      awssdk.String("auto-scaling-group"),
				Key:               awssdk.String(IdleTimeoutTag),
				Value:             awssdk.String(fmt.Sprintf("%d", IdleTimeoutDefaultMins)),
				PropagateAtLaunch: awssdk.Bool(false),
			},
		},
	})
	if err != nil {
		a.log.Warn("unable to reset %s tag: %v", IdleTimeoutTag, err)
	}
}

func (a *AWSAdapter) hostToID(ctx context.Context) (map[string]string, error) {
	group, err := a.describeASG(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]*string, 0, len(group.Instances))
	for _, inst := range group.Instances {
		ids = append(ids, inst.InstanceId)
	}
	if len(ids) == 0 {
		return map[string]string{}, nil
	}

	out, err := a.ec2.DescribeInstancesWithContext(ctx, &ec2.DescribeInstancesInput{InstanceIds: ids})
	if err != nil {
		return nil, fmt.Errorf("cloudport: describe instances: %w", err)
	}

	hostToID := make(map[string]string)
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			if awssdk.StringValue(inst.State.Name) == "terminated" {
				continue
			}
			hostToID[awssdk.StringValue(inst.PrivateDnsName)] = awssdk.StringValue(inst.InstanceId)
		}
	}
	return hostToID, nil
}

// GetWorkerNodes implements Port.
func (a *AWSAdapter) GetWorkerNodes(ctx context.Context) (structs.HostSet, error) {
	group, err := a.describeASG(ctx)
	if err != nil {
		return nil, err
	}

	var ids []*string
	for _, inst := range group.Instances {
		if awssdk.StringValue(inst.LifecycleState) == "InService" &&
			awssdk.StringValue(inst.HealthStatus) == "Healthy" &&
			awssdk.BoolValue(inst.ProtectedFromScaleIn) {
			ids = append(ids, inst.InstanceId)
		}
	}
	if len(ids) == 0 {
		return structs.NewHostSet(), nil
	}

	out, err := a.ec2.DescribeInstancesWithContext(ctx, &ec2.DescribeInstancesInput{InstanceIds: ids})
	if err != nil {
		return nil, fmt.Errorf("cloudport: describe instances: %w", err)
	}

	now := time.Now().UTC()
	hosts := make([]string, 0, len(ids))
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			uptime := now.Sub(awssdk.TimeValue(inst.LaunchTime))
			if uptime > time.Duration(InstanceGracePeriodMins)*time.Minute {
				hosts = append(hosts, awssdk.StringValue(inst.PrivateDnsName))
			}
		}
	}
	return structs.NewHostSet(hosts...), nil
}

// SetCloudCapacity implements Port.
func (a *AWSAdapter) SetCloudCapacity(ctx context.Context, desiredNodes int) error {
	_, err := a.asg.UpdateAutoScalingGroupWithContext(ctx, &autoscaling.UpdateAutoScalingGroupInput{
		AutoScalingGroupName: awssdk.String(a.asgName),
		DesiredCapacity:      awssdk.Int64(int64(desiredNodes)),
		HonorCooldown:        awssdk.Bool(false),
	})
	if err != nil {
		return fmt.Errorf("cloudport: set desired capacity to %d: %w", desiredNodes, err)
	}
	return nil
}

// SetMinNodes implements Port.
func (a *AWSAdapter) SetMinNodes(ctx context.Context, nodes int) error {
	_, err := a.asg.UpdateAutoScalingGroupWithContext(ctx, &autoscaling.UpdateAutoScalingGroupInput{
		AutoScalingGroupName: awssdk.String(a.asgName),
		MinSize:              awssdk.Int64(int64(nodes)),
	})
	if err != nil {
		return fmt.Errorf("cloudport: set min nodes to %d: %w", nodes, err)
	}
	return nil
}

// SetNodesUnhealthy implements Port.
func (a *AWSAdapter) SetNodesUnhealthy(ctx context.Context, hosts structs.HostSet) error {
	hostToID, err := a.hostToID(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for _, host := range hosts.Slice() {
		id, ok := hostToID[host]
		if !ok {
			a.log.Error("unknown hostname: %s", host)
			if firstErr == nil {
				firstErr = fmt.Errorf("cloudport: unknown hostname %s", host)
			}
			continue
		}
		_, err := a.asg.SetInstanceHealthWithContext(ctx, &autoscaling.SetInstanceHealthInput{
			InstanceId:   awssdk.String(id),
			HealthStatus: awssdk.String("Unhealthy"),
		})
		if err != nil {
			a.log.Error("unable to set instance health for %s: %v", host, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SetNodesProtection implements Port.
func (a *AWSAdapter) SetNodesProtection(ctx context.Context, hosts structs.HostSet, protect bool) (structs.HostSet, error) {
	hostToID, err := a.hostToID(ctx)
	if err != nil {
		return nil, err
	}

	idToHost := make(map[string]string, len(hostToID))
	var ids []string
	for host := range hosts {
		id, ok := hostToID[host]
		if !ok {
			continue
		}
		idToHost[id] = host
		ids = append(ids, id)
	}

	succeeded := structs.NewHostSet()
	for i := 0; i < len(ids); i += MaxInstanceIDsPerRequest {
		end := i + MaxInstanceIDsPerRequest
		if end > len(ids) {
			end = len(ids)
		}
		slice := ids[i:end]

		awsIDs := make([]*string, len(slice))
		for j, id := range slice {
			awsIDs[j] = awssdk.String(id)
		}

		_, err := a.asg.SetInstanceProtectionWithContext(ctx, &autoscaling.SetInstanceProtectionInput{
			AutoScalingGroupName: awssdk.String(a.asgName),
			InstanceIds:          awsIDs,
			ProtectedFromScaleIn: awssdk.Bool(protect),
		})
		if err != nil {
			a.log.Error("unable to set instance protection for batch of %d: %v", len(slice), err)
			continue
		}
		for _, id := range slice {
			succeeded[idToHost[id]] = struct{}{}
		}
	}

	return succeeded, nil
}

// UnprotectAllNodes implements Port.
func (a *AWSAdapter) UnprotectAllNodes(ctx context.Context) error {
	hostToID, err := a.hostToID(ctx)
	if err != nil {
		return err
	}
	if len(hostToID) == 0 {
		return nil
	}

	hosts := make([]string, 0, len(hostToID))
	for h := range hostToID {
		hosts = append(hosts, h)
	}
	all := structs.NewHostSet(hosts...)

	succeeded, err := a.SetNodesProtection(ctx, all, false)
	if err != nil {
		return err
	}
	if len(succeeded) != len(all) {
		return fmt.Errorf("cloudport: unprotected %d of %d nodes", len(succeeded), len(all))
	}
	return nil
}

var afterHoursPattern = regexp.MustCompile(`(?i)^After (\d{1,2}) hours?$`)

// ValidTerminationPolicy normalizes and validates a termination policy
// string, returning "" when it does not match any accepted form:
// "on_idle", "never", "After N hours" (1-24), or an RFC1123 date.
func ValidTerminationPolicy(policy string) string {
	lower := strings.ToLower(policy)
	if lower == "on_idle" || lower == "never" {
		return lower
	}
	if m := afterHoursPattern.FindStringSubmatch(policy); m != nil {
		var hours int
		fmt.Sscanf(m[1], "%d", &hours)
		if hours >= 1 && hours <= 24 {
			return policy
		}
	}
	if _, err := time.Parse(time.RFC1123, policy); err == nil {
		return policy
	}
	return ""
}

// GetClusterTerminationPolicy implements Port.
func (a *AWSAdapter) GetClusterTerminationPolicy(ctx context.Context) (string, error) {
	out, err := a.ec2.DescribeTagsWithContext(ctx, &ec2.DescribeTagsInput{
		Filters: []*ec2.Filter{
			{Name: awssdk.String("resource-id"), Values: []*string{awssdk.String(a.headNodeID)}},
			{Name: awssdk.String("key"), Values: []*string{awssdk.String(ClusterTerminationTag)}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("cloudport: describe tags: %w", err)
	}
	if len(out.Tags) == 0 {
		return "", nil
	}
	return ValidTerminationPolicy(awssdk.StringValue(out.Tags[0].Value)), nil
}

// SetClusterTerminationPolicy implements Port.
func (a *AWSAdapter) SetClusterTerminationPolicy(ctx context.Context, policy string) error {
	validated := ValidTerminationPolicy(policy)
	if validated == "" {
		return fmt.Errorf("cloudport: invalid termination policy %q", policy)
	}
	return a.createHeadNodeTag(ctx, ClusterTerminationTag, validated)
}

// SetMWStateTag implements Port.
func (a *AWSAdapter) SetMWStateTag(ctx context.Context, state string) error {
	return a.createHeadNodeTag(ctx, MWStateTag, state)
}

func (a *AWSAdapter) createHeadNodeTag(ctx context.Context, key, value string) error {
	_, err := a.ec2.CreateTagsWithContext(ctx, &ec2.CreateTagsInput{
		Resources: []*string{awssdk.String(a.headNodeID)},
		Tags:      []*ec2.Tag{{Key: awssdk.String(key), Value: awssdk.String(value)}},
	})
	if err != nil {
		return fmt.Errorf("cloudport: set tag %s=%s: %w", key, value, err)
	}
	return nil
}

// IsSpotInstanceMarkedForRemoval implements Port. The spot/instance-action
// metadata path only exists once AWS has scheduled the interruption, so its
// absence (the common case) is reported as false rather than an error.
func (a *AWSAdapter) IsSpotInstanceMarkedForRemoval(ctx context.Context) (bool, error) {
	sess := session.Must(session.NewSession())
	client := ec2metadata.New(sess)

	_, err := client.GetMetadataWithContext(ctx, "spot/instance-action")
	return err == nil, nil
}

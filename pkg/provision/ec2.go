package provision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sandstream/stoker/pkg/faults"
)

// stokerNamespace seeds deterministic idempotency tokens; UUIDv5(slot) is
// stable across process restarts, so a retried RunInstances after a lost
// response cannot launch a second instance.
var stokerNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// EC2Provisioner provisions the worker as a tagged EC2 instance.
type EC2Provisioner struct {
	client  *ec2.Client
	slot    string
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewEC2Provisioner builds a provisioner for one slot in one region. All API
// calls share a small rate budget so retry storms cannot trip provider
// throttling on their own.
func NewEC2Provisioner(ctx context.Context, region, slot string) (*EC2Provisioner, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &EC2Provisioner{
		client:  ec2.NewFromConfig(cfg),
		slot:    slot,
		limiter: rate.NewLimiter(rate.Limit(2), 4),
		log:     slog.Default().With("component", "provision", "slot", slot),
	}, nil
}

// Create launches the worker instance, first re-checking for one a prior
// interrupted attempt may have launched.
func (p *EC2Provisioner) Create(ctx context.Context, spec Spec) (string, error) {
	existing, err := p.Describe(ctx)
	if err != nil {
		return "", err
	}
	if existing != nil {
		p.log.Info("adopting existing instance", "instance_id", existing.ID)
		return existing.ID, nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return "", faults.Transientf("rate wait: %w", err)
	}

	in := &ec2.RunInstancesInput{
		ImageId:      aws.String(spec.ImageID),
		InstanceType: types.InstanceType(spec.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		ClientToken:  aws.String(uuid.NewSHA1(stokerNamespace, []byte("create:"+p.slot)).String()),
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags: []types.Tag{
				{Key: aws.String(SlotTagKey), Value: aws.String(p.slot)},
				{Key: aws.String("Name"), Value: aws.String("stoker-" + p.slot)},
			},
		}},
	}
	if spec.KeyName != "" {
		in.KeyName = aws.String(spec.KeyName)
	}
	if spec.SubnetID != "" {
		in.SubnetId = aws.String(spec.SubnetID)
	}
	if spec.SecurityGroup != "" {
		in.SecurityGroupIds = []string{spec.SecurityGroup}
	}

	out, err := p.client.RunInstances(ctx, in)
	if err != nil {
		return "", classifyAWS("run instances", err)
	}
	if len(out.Instances) == 0 || out.Instances[0].InstanceId == nil {
		return "", faults.Transientf("run instances returned no instance")
	}
	id := *out.Instances[0].InstanceId
	p.log.Info("instance launched", "instance_id", id)
	return id, nil
}

// Destroy terminates the instance, tolerating "already gone".
func (p *EC2Provisioner) Destroy(ctx context.Context, id string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return faults.Transientf("rate wait: %w", err)
	}
	_, err := p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return classifyAWS("terminate instances", err)
	}
	return nil
}

// Describe finds the slot's live instance by tag. Terminated and
// shutting-down instances are invisible: the tag outlives the resource.
func (p *EC2Provisioner) Describe(ctx context.Context) (*Instance, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, faults.Transientf("rate wait: %w", err)
	}
	out, err := p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []types.Filter{
			{Name: aws.String("tag:" + SlotTagKey), Values: []string{p.slot}},
			{Name: aws.String("instance-state-name"), Values: []string{"pending", "running"}},
		},
	})
	if err != nil {
		return nil, classifyAWS("describe instances", err)
	}
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			if inst.InstanceId == nil {
				continue
			}
			found := &Instance{
				ID:      *inst.InstanceId,
				Running: inst.State != nil && inst.State.Name == types.InstanceStateNameRunning,
			}
			if inst.PublicIpAddress != nil {
				found.Addr = *inst.PublicIpAddress
			} else if inst.PrivateIpAddress != nil {
				found.Addr = *inst.PrivateIpAddress
			}
			if inst.LaunchTime != nil {
				found.LaunchedAt = *inst.LaunchTime
			}
			return found, nil
		}
	}
	return nil, nil
}

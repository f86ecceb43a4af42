// Package aws adapts AWS EC2 Auto Scaling Groups and Spot Fleet requests
// into cluster.CloudGroup and draining.Terminator, the two cloud-side
// collaborator interfaces the migration and draining engines depend on.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/ec2rolecreds"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Clients bundles the AWS SDK clients the engine talks to, constructed
// once at startup and threaded through every resource group and the
// draining queue.
type Clients struct {
	ASG *autoscaling.Client
	EC2 *ec2.Client
	SQS *sqs.Client
}

// StaticCredentials holds an operator-supplied access key pair. Both
// AccessKeyID and SecretAccessKey must be set for them to be used;
// SessionToken is optional. Left zero-valued, the client falls back to the
// EC2 instance role.
type StaticCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// NewClients loads the AWS config for region, preferring operator-supplied
// static credentials when both halves of the key pair are present and
// falling back to the EC2 instance role otherwise, then builds every
// client the engine needs from it.
func NewClients(ctx context.Context, region string, creds StaticCredentials) (*Clients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("aws clients: load config: %w", err)
	}

	if creds.AccessKeyID != "" && creds.SecretAccessKey != "" {
		cfg.Credentials = credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)
	} else {
		cfg.Credentials = aws.NewCredentialsCache(ec2rolecreds.New())
	}

	return &Clients{
		ASG: autoscaling.NewFromConfig(cfg),
		EC2: ec2.NewFromConfig(cfg),
		SQS: sqs.NewFromConfig(cfg),
	}, nil
}

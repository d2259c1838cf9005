package aws

import (
	"context"
	"fmt"
	"sync"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
)

// EC2API abstracts the EC2 SDK methods used by the provider and the price
// source, enabling mock-based testing without AWS credentials.
type EC2API interface {
	CreateFleet(ctx context.Context, params *ec2.CreateFleetInput, optFns ...func(*ec2.Options)) (*ec2.CreateFleetOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	DescribeSpotPriceHistory(ctx context.Context, params *ec2.DescribeSpotPriceHistoryInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSpotPriceHistoryOutput, error)
}

// ClientFactory returns the EC2 client of a region.
type ClientFactory func(region string) EC2API

// LoadClients loads the shared AWS configuration and returns a factory
// handing out one cached EC2 client per region.
func LoadClients(ctx context.Context, profile string) (ClientFactory, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return regionalClients(cfg), nil
}

func regionalClients(cfg awssdk.Config) ClientFactory {
	var mutex sync.Mutex
	clients := map[string]EC2API{}

	return func(region string) EC2API {
		mutex.Lock()
		defer mutex.Unlock()

		if client, ok := clients[region]; ok {
			return client
		}
		client := ec2.NewFromConfig(cfg, func(o *ec2.Options) {
			o.Region = region
		})
		clients[region] = client
		return client
	}
}

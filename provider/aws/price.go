package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/SerranoZz/mc-fleet/pricing"
	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// PriceSource reads current spot prices from the EC2 spot price history.
type PriceSource struct {
	clients            ClientFactory
	productDescription string
	now                func() time.Time
}

// PriceSource implements pricing.Source
var _ pricing.Source = (*PriceSource)(nil)

func NewPriceSource(clients ClientFactory) *PriceSource {
	return &PriceSource{
		clients:            clients,
		productDescription: "Linux/UNIX",
		now:                time.Now,
	}
}

func (s *PriceSource) SpotPrices(ctx context.Context, query pricing.Query) (pricing.Prices, error) {
	if query.Market != "" && query.Market != pricing.MarketSpot {
		return nil, fmt.Errorf("unsupported market '%s'", query.Market)
	}

	paginator := ec2.NewDescribeSpotPriceHistoryPaginator(s.clients(query.Region), &ec2.DescribeSpotPriceHistoryInput{
		InstanceTypes:       []types.InstanceType{types.InstanceType(query.InstanceType)},
		ProductDescriptions: []string{s.productDescription},
		StartTime:           awssdk.Time(s.now()),
	})

	prices := pricing.Prices{}
	latest := map[string]time.Time{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe spot price history: %w", err)
		}

		for _, entry := range page.SpotPriceHistory {
			zone := awssdk.ToString(entry.AvailabilityZone)
			timestamp := awssdk.ToTime(entry.Timestamp)
			if seen, ok := latest[zone]; ok && !timestamp.After(seen) {
				continue
			}

			price, err := strconv.ParseFloat(awssdk.ToString(entry.SpotPrice), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid spot price '%s' in zone '%s': %w", awssdk.ToString(entry.SpotPrice), zone, err)
			}
			prices[zone] = price
			latest[zone] = timestamp
		}
	}

	return prices, nil
}

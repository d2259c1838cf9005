package fleet

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Strategy is forwarded untouched to providers, which map it to their own
// allocation policy.
type Strategy string

const (
	StrategyLowestPrice            Strategy = "lowest-price"
	StrategyCapacityOptimized      Strategy = "capacity-optimized"
	StrategyPriceCapacityOptimized Strategy = "price-capacity-optimized"
)

var Strategies = []Strategy{
	StrategyLowestPrice,
	StrategyCapacityOptimized,
	StrategyPriceCapacityOptimized,
}

func ParseStrategy(s string) (Strategy, error) {
	strategy := Strategy(strings.ToLower(strings.TrimSpace(s)))
	if !lo.Contains(Strategies, strategy) {
		return "", fmt.Errorf("unknown allocation strategy '%s' (expected one of %s)", s, strings.Join(lo.Map(Strategies, func(s Strategy, _ int) string {
			return string(s)
		}), ", "))
	}
	return strategy, nil
}

func (s Strategy) String() string {
	return string(s)
}

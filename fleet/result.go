package fleet

import "github.com/samber/lo"

// Attempt records one fleet request made during an allocation.
type Attempt struct {
	Provider   string
	Region     string
	Requested  int
	Created    int
	Fleet      string
	SoftErrors []string
	// Failure is empty when the request produced a usable fleet
	Failure string
}

type Result struct {
	Target    int
	Fulfilled int
	// Instances per fleet ID
	Fleets map[string][]ProvisionedInstance
	// Fleet IDs in creation order
	Order    []string
	Attempts []Attempt
	// Instances returned beyond the requested capacity. They exist and are
	// billed, but are not counted in Fulfilled.
	Surplus []ProvisionedInstance
}

func newResult(target int) Result {
	return Result{
		Target: target,
		Fleets: make(map[string][]ProvisionedInstance),
	}
}

func (r Result) Shortfall() int {
	return max(r.Target-r.Fulfilled, 0)
}

func (r Result) Complete() bool {
	return r.Fulfilled >= r.Target
}

// Instances lists every counted instance, fleet by fleet in creation order.
func (r Result) Instances() []ProvisionedInstance {
	return lo.Flatten(lo.Map(r.Order, func(id string, _ int) []ProvisionedInstance {
		return r.Fleets[id]
	}))
}

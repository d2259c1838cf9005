package fleet

type Event interface{}

type EventFleetRequested struct {
	Provider string
	Region   string
	Offers   int
	Capacity int
}

type EventFleetCreated struct {
	Provider   string
	Region     string
	Fleet      string
	Instances  int
	SoftErrors []string
	Fulfilled  int
	Target     int
}

type EventFleetFailed struct {
	Provider string
	Region   string
	Reason   string
}

type EventAllocationCompleted struct {
	Fulfilled int
	Target    int
	Fleets    int
}

package fleet

type ProvisionedInstance struct {
	Provider         string  `json:"provider"`
	InstanceType     string  `json:"instance_type"`
	InstanceID       string  `json:"instance_id"`
	AvailabilityZone string  `json:"availability_zone"`
	Price            float64 `json:"price"`
	PublicIP         string  `json:"public_ip"`
	PrivateIP        string  `json:"private_ip"`
}

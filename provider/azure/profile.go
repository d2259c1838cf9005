package azure

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/computefleet/armcomputefleet"
)

// loadComputeProfile reads the compute profile file, or builds the default
// one from the inventory settings when no file is configured.
func (p *Provider) loadComputeProfile() (*armcomputefleet.ComputeProfile, error) {
	var data []byte
	if p.config.ComputeProfileFile != "" {
		var err error
		if data, err = os.ReadFile(p.config.ComputeProfileFile); err != nil {
			return nil, fmt.Errorf("failed to read compute profile: %w", err)
		}
	} else {
		var err error
		if data, err = p.defaultComputeProfile(); err != nil {
			return nil, err
		}
	}

	var profile armcomputefleet.ComputeProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode compute profile: %w", err)
	}
	return &profile, nil
}

func (p *Provider) defaultComputeProfile() ([]byte, error) {
	setting := func(key string) string {
		return p.config.Inventory.Setting(ProviderName, key)
	}

	subnetID := setting(SettingSubnetID)
	if subnetID == "" {
		return nil, fmt.Errorf("inventory setting '%s' is required without a compute profile file", SettingSubnetID)
	}
	username := setting(SettingAdminUsername)
	if username == "" {
		username = "azureuser"
	}

	nic := map[string]any{
		"primary":                     true,
		"enableAcceleratedNetworking": false,
		"ipConfigurations": []any{map[string]any{
			"name": "mc-fleet-ipconfig",
			"properties": map[string]any{
				"primary": true,
				"subnet":  map[string]any{"id": subnetID},
				"publicIPAddressConfiguration": map[string]any{
					"name":       "mc-fleet-publicip",
					"properties": map[string]any{"idleTimeoutInMinutes": 15},
				},
			},
		}},
	}
	if nsg := setting(SettingNetworkSecurityGroup); nsg != "" {
		nic["networkSecurityGroup"] = map[string]any{"id": nsg}
	}

	linux := map[string]any{"disablePasswordAuthentication": true}
	if key := setting(SettingSSHPublicKey); key != "" {
		linux["ssh"] = map[string]any{"publicKeys": []any{map[string]any{
			"path":    fmt.Sprintf("/home/%s/.ssh/authorized_keys", username),
			"keyData": key,
		}}}
	}

	return json.Marshal(map[string]any{
		"computeApiVersion":        "2023-09-01",
		"platformFaultDomainCount": 1,
		"baseVirtualMachineProfile": map[string]any{
			"networkProfile": map[string]any{
				"networkApiVersion": "2020-11-01",
				"networkInterfaceConfigurations": []any{map[string]any{
					"name":       "mc-fleet-nic",
					"properties": nic,
				}},
			},
			"osProfile": map[string]any{
				"adminUsername":      username,
				"computerNamePrefix": "mcfleet",
				"linuxConfiguration": linux,
			},
			"storageProfile": map[string]any{
				"imageReference": map[string]any{
					"publisher": "canonical",
					"offer":     "0001-com-ubuntu-server-focal",
					"sku":       "20_04-lts-gen2",
					"version":   "latest",
				},
				"osDisk": map[string]any{
					"caching":      "ReadWrite",
					"createOption": "FromImage",
					"managedDisk":  map[string]any{"storageAccountType": "Standard_LRS"},
					"osType":       "Linux",
				},
			},
		},
	})
}

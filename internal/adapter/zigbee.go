package adapter

// ZigbeeInfo carries radio-level details for devices joined through a
// Zigbee coordinator. Endpoints is []int rather than []byte so the
// JSON form stays a number array.
type ZigbeeInfo struct {
	IEEEAddress        string  `json:"ieee_address"`
	NetworkAddress     *uint16 `json:"network_address,omitempty"`
	InterviewCompleted bool    `json:"interview_completed"`
	PowerSource        string  `json:"power_source,omitempty"`
	Endpoints          []int   `json:"endpoints,omitempty"`
	FirmwareVersion    string  `json:"firmware_version,omitempty"`
}

// metadataValue flattens the info for embedding under the "zigbee"
// metadata key. Optional fields are left out when unset.
func (z ZigbeeInfo) metadataValue() map[string]any {
	v := map[string]any{
		"ieee_address":        z.IEEEAddress,
		"interview_completed": z.InterviewCompleted,
	}
	if z.NetworkAddress != nil {
		v["network_address"] = *z.NetworkAddress
	}
	if z.PowerSource != "" {
		v["power_source"] = z.PowerSource
	}
	if len(z.Endpoints) > 0 {
		v["endpoints"] = z.Endpoints
	}
	if z.FirmwareVersion != "" {
		v["firmware_version"] = z.FirmwareVersion
	}
	return v
}

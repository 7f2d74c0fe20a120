package bee

import (
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// Known USB identities. The original BEETHEFIRST enumerates with a generic
// vendor id; later models use the BEEVERYCREATIVE one.
var knownModels = []struct {
	vid, pid, model string
}{
	{"FFFF", "014E", "BEETHEFIRST"},
	{"29C9", "0001", "BEETHEFIRST+"},
	{"29C9", "0002", "BEEME"},
	{"29C9", "0003", "BEEINSCHOOL"},
	{"29C9", "0004", "BEETHEFIRST+A"},
}

// Device is an enumerated serial port that looks like a BEETHEFIRST.
type Device struct {
	Port    string `json:"port"`
	VID     string `json:"vid"`
	PID     string `json:"pid"`
	Serial  string `json:"serial"`
	Product string `json:"product"`
	Model   string `json:"model"`
}

// String returns a human-readable representation of the device.
func (d Device) String() string {
	s := fmt.Sprintf("%s on %s (%s:%s)", d.Model, d.Port, d.VID, d.PID)
	if d.Serial != "" {
		s += " serial " + d.Serial
	}
	return s
}

// ListDevices returns every USB serial port whose vendor/product id matches
// a known printer model.
func ListDevices() ([]Device, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	var devices []Device
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		model, ok := lookupModel(p.VID, p.PID)
		if !ok {
			continue
		}
		devices = append(devices, Device{
			Port:    p.Name,
			VID:     strings.ToUpper(p.VID),
			PID:     strings.ToUpper(p.PID),
			Serial:  p.SerialNumber,
			Product: p.Product,
			Model:   model,
		})
	}
	return devices, nil
}

func lookupModel(vid, pid string) (string, bool) {
	for _, m := range knownModels {
		if strings.EqualFold(m.vid, vid) && strings.EqualFold(m.pid, pid) {
			return m.model, true
		}
	}
	return "", false
}

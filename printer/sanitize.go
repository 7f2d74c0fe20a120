package printer

import (
	"path/filepath"
	"strings"
)

const (
	// MaxDeviceNameLen is the longest name the SD firmware keeps.
	MaxDeviceNameLen = 7

	// DefaultFixedName is the conventional single file that is overwritten
	// on every print under the fixed-name policy.
	DefaultFixedName = "ABCDE"

	fillerLetter = 'a'
	fallbackName = "print"
)

// Sanitize derives the on-device name for a host file: ASCII letters and
// digits only, at most MaxDeviceNameLen of them, never starting with a
// digit. The firmware rejects names that break these rules.
func Sanitize(host string) string {
	base := filepath.Base(host)

	var b strings.Builder
	for _, r := range base {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == MaxDeviceNameLen {
				break
			}
		}
	}
	name := b.String()
	if name == "" {
		return fallbackName
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = string(fillerLetter) + name[1:]
	}
	return name
}

// DeviceFilename is a file on the printer's SD card. The firmware lists
// files in uppercase but matches command arguments in lowercase; both forms
// name the same file.
type DeviceFilename struct {
	token string
}

// NewDeviceFilename derives the device name from a host path.
func NewDeviceFilename(host string) DeviceFilename {
	return DeviceFilename{token: Sanitize(host)}
}

// FixedDeviceFilename uses name as given, after the same sanitizing, for
// the fixed-name policy.
func FixedDeviceFilename(name string) DeviceFilename {
	if name == "" {
		name = DefaultFixedName
	}
	return DeviceFilename{token: Sanitize(name)}
}

// Listing is the directory-listing form.
func (d DeviceFilename) Listing() string {
	return strings.ToUpper(d.token)
}

// Argument is the command-argument form.
func (d DeviceFilename) Argument() string {
	return strings.ToLower(d.token)
}

func (d DeviceFilename) String() string {
	return d.Listing()
}

// IsZero reports whether d was never set.
func (d DeviceFilename) IsZero() bool {
	return d.token == ""
}

// NamePolicy selects how the device file is named.
type NamePolicy string

const (
	NameFixed   NamePolicy = "fixed"
	NameDerived NamePolicy = "derived"
)

// DeviceName applies the policy to a host path.
func (p NamePolicy) DeviceName(host, fixedName string) DeviceFilename {
	if p == NameDerived {
		return NewDeviceFilename(host)
	}
	return FixedDeviceFilename(fixedName)
}

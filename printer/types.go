package printer

import (
	"strings"

	"github.com/john/beeprint/bee"
)

// Mode is the program the device is running.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeBootloader
	ModeFirmware
)

func (m Mode) String() string {
	switch m {
	case ModeBootloader:
		return "Bootloader"
	case ModeFirmware:
		return "Firmware"
	default:
		return "Unknown"
	}
}

// Status is the normalized device status.
type Status int

const (
	StatusUnknown Status = iota
	StatusReady
	StatusHeating
	StatusTransferring
	StatusPrinting
	StatusPaused
	StatusShutdown
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "Ready"
	case StatusHeating:
		return "Heating"
	case StatusTransferring:
		return "Transferring"
	case StatusPrinting:
		return "Printing"
	case StatusPaused:
		return "Paused"
	case StatusShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// MarshalText lets Status appear by name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConnState is the session's connection state.
type ConnState int

const (
	Disconnected ConnState = iota
	Connected
	ConnError
)

func (c ConnState) String() string {
	switch c {
	case Connected:
		return "Connected"
	case ConnError:
		return "Error"
	default:
		return "Disconnected"
	}
}

// NormalizeStatus maps either status encoding onto Status: the terse
// "s:<code>" reply and the verbose word form older firmware uses. Anything
// unrecognized is StatusUnknown.
func NormalizeStatus(text string) Status {
	if bee.IsBootloaderReply(text) {
		return StatusUnknown
	}
	if code, ok := bee.ParseStatusCode(text); ok {
		switch code {
		case bee.CodeReady, bee.CodeMoving:
			return StatusReady
		case bee.CodePrinting:
			return StatusPrinting
		case bee.CodeTransferring:
			return StatusTransferring
		case bee.CodePaused:
			return StatusPaused
		case bee.CodeShutdown:
			return StatusShutdown
		default:
			return StatusUnknown
		}
	}

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "shutdown"):
		return StatusShutdown
	case strings.Contains(lower, "sd_print"), strings.Contains(lower, "printing"):
		return StatusPrinting
	case strings.Contains(lower, "transfer"):
		return StatusTransferring
	case strings.Contains(lower, "pause"):
		return StatusPaused
	case strings.Contains(lower, "heating"):
		return StatusHeating
	case strings.Contains(lower, "ready"):
		return StatusReady
	default:
		return StatusUnknown
	}
}

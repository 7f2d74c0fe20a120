package bee

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tarm "github.com/tarm/serial"
	"go.bug.st/serial"
)

// Serial backends.
const (
	BackendBugst = "bugst"
	BackendTarm  = "tarm"
)

// PortConfig describes how to open the device's serial port.
type PortConfig struct {
	Device      string
	Backend     string // BackendBugst (default) or BackendTarm
	Baud        int
	ReadTimeout time.Duration
}

// DefaultPortConfig returns settings for a BEETHEFIRST on device. The link
// is USB CDC so the baud rate is nominal.
func DefaultPortConfig(device string) PortConfig {
	return PortConfig{
		Device:      device,
		Backend:     BackendBugst,
		Baud:        115200,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// OpenPort opens the serial device with the configured backend.
func OpenPort(cfg PortConfig) (Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("no serial device given")
	}
	if cfg.Baud <= 0 {
		cfg.Baud = 115200
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}

	switch cfg.Backend {
	case "", BackendBugst:
		port, err := serial.Open(cfg.Device, &serial.Mode{
			BaudRate: cfg.Baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
		}
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("set read timeout on %s: %w", cfg.Device, err)
		}
		// Drop whatever the device printed before we attached.
		if err := port.ResetInputBuffer(); err != nil {
			log.Debug().Err(err).Str("port", cfg.Device).Msg("reset input buffer")
		}
		return port, nil

	case BackendTarm:
		port, err := tarm.OpenPort(&tarm.Config{
			Name:        cfg.Device,
			Baud:        cfg.Baud,
			ReadTimeout: cfg.ReadTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
		}
		return port, nil

	default:
		return nil, fmt.Errorf("unknown serial backend %q", cfg.Backend)
	}
}

// IsDisconnect reports whether err means the device went away, as opposed
// to a configuration or permission problem. A device resetting into a new
// mode shows up this way.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
			return true
		default:
			return false
		}
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"no such device", "no such file", "input/output error", "bad file descriptor", "device not configured"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return errors.Is(err, ErrClosed)
}

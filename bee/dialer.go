package bee

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoDevice is returned when no printer is attached.
var ErrNoDevice = errors.New("no BEETHEFIRST printer found")

// Dialer opens connections to a printer. With an empty Port.Device it picks
// the first enumerated printer on every dial, since the device may come
// back under a different path after it resets.
type Dialer struct {
	Port           PortConfig
	CommandTimeout time.Duration

	// Hooks for tests; nil selects the real implementations.
	OpenPort    func(PortConfig) (Port, error)
	ListDevices func() ([]Device, error)
}

// Dial opens the port and wraps it in a Conn.
func (d *Dialer) Dial(ctx context.Context) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := d.Port
	if cfg.Device == "" {
		devices, err := d.Devices()
		if err != nil {
			return nil, err
		}
		if len(devices) == 0 {
			return nil, ErrNoDevice
		}
		cfg.Device = devices[0].Port
	}

	open := d.OpenPort
	if open == nil {
		open = OpenPort
	}
	port, err := open(cfg)
	if err != nil {
		return nil, err
	}
	return NewConn(port, cfg.Device, d.CommandTimeout), nil
}

// Devices lists attached printers.
func (d *Dialer) Devices() ([]Device, error) {
	list := d.ListDevices
	if list == nil {
		list = ListDevices
	}
	devices, err := list()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

package printer

import (
	"context"
	"time"

	"github.com/john/beeprint/bee"
)

// Transport is one open connection to the device.
type Transport interface {
	SendCommand(ctx context.Context, cmd string) (bee.Response, error)
	Fire(ctx context.Context, cmd string) error
	Upload(ctx context.Context, name string, payload []byte, progress func(sent, total int)) error
	Close() error
}

// Dialer opens transports. The session redials after a mode switch.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context) (Transport, error)

// Dial calls f.
func (f DialFunc) Dial(ctx context.Context) (Transport, error) {
	return f(ctx)
}

// SerialDialer dials the printer over USB serial.
func SerialDialer(d *bee.Dialer) Dialer {
	return DialFunc(func(ctx context.Context) (Transport, error) {
		conn, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

// SessionConfig holds the timing and retry bounds of a session. The
// intervals were found by trial against real devices; the firmware
// documents none of them.
type SessionConfig struct {
	// SettleInterval is the wait after a mode switch before the port is
	// reopened.
	SettleInterval    time.Duration
	ReconnectAttempts int
	ReconnectInterval time.Duration
	// ShutdownClearWait is the wait between clearing the shutdown latch and
	// polling again.
	ShutdownClearWait time.Duration
	// RetryDelay is the pause before a failed round-trip is retried.
	RetryDelay time.Duration
	// TransferPoll is how often workflows look at a transfer's progress.
	TransferPoll time.Duration

	Heat      HeatConfig
	Sequencer SequencerConfig
}

// HeatConfig tunes the heating coordinator.
type HeatConfig struct {
	PollInterval time.Duration
	// Tolerance is how far below target still counts as reached.
	Tolerance float64
	// ReportDelta is the change needed before a new temperature is reported.
	ReportDelta float64
}

// SequencerConfig tunes the print-start sequencer.
type SequencerConfig struct {
	Strategies    []Strategy
	CommandSettle time.Duration
	ProbeRounds   int
	ProbeInterval time.Duration
}

// DefaultSessionConfig returns the values observed to work.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SettleInterval:    5 * time.Second,
		ReconnectAttempts: 5,
		ReconnectInterval: time.Second,
		ShutdownClearWait: 2 * time.Second,
		RetryDelay:        time.Second,
		TransferPoll:      time.Second,
		Heat: HeatConfig{
			PollInterval: 2 * time.Second,
			Tolerance:    2,
			ReportDelta:  5,
		},
		Sequencer: SequencerConfig{
			Strategies:    DefaultStrategies(),
			CommandSettle: time.Second,
			ProbeRounds:   6,
			ProbeInterval: 5 * time.Second,
		},
	}
}

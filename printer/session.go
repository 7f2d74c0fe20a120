package printer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/john/beeprint/bee"
)

// Session owns the connection to one printer. Long operations (transfer,
// heating, print start, streaming) hold the wire for their whole run; while
// one does, commands from anyone else fail with ErrSessionBusy.
type Session struct {
	id     string
	dialer Dialer
	cfg    SessionConfig
	log    zerolog.Logger

	mu         sync.Mutex
	conn       Transport
	state      ConnState
	mode       Mode
	status     Status
	reconnects int
	owner      *lease // operation holding the wire exclusively, if any
}

// NewSession creates a disconnected session.
func NewSession(d Dialer, cfg SessionConfig) *Session {
	id := uuid.NewString()
	return &Session{
		id:     id,
		dialer: d,
		cfg:    cfg,
		log:    log.With().Str("session_id", id).Logger(),
	}
}

// ID identifies the session in logs and history.
func (s *Session) ID() string { return s.id }

// Config returns the session's timing configuration.
func (s *Session) Config() SessionConfig { return s.cfg }

// State returns the connection state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mode returns the last known device mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Status returns the last polled status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Reconnects counts how often the transport was rebuilt.
func (s *Session) Reconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

// Open connects and queries the device mode. Opening an open session is a
// no-op.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		s.setState(ConnError)
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.state = Connected
	s.mu.Unlock()

	mode := s.queryMode(ctx)
	s.log.Info().Str("mode", mode.String()).Msg("Connected to printer")
	return nil
}

// SwitchToFirmware moves a device out of the bootloader. The device resets
// and re-enumerates, so the transport is closed, the settle interval is
// waited out and the port is reopened. reconnected reports whether that
// happened; a device already in firmware is left alone.
func (s *Session) SwitchToFirmware(ctx context.Context) (reconnected bool, err error) {
	conn, err := s.transport(ctx)
	if err != nil {
		return false, err
	}
	if s.Mode() == ModeFirmware {
		return false, nil
	}

	s.log.Info().Str("mode", s.Mode().String()).Msg("Switching to firmware")
	if err := conn.Fire(ctx, bee.CmdGoToFirmware); err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrTransport, bee.CmdGoToFirmware, err)
	}
	s.dropConn(Disconnected)

	if err := sleepCtx(ctx, s.cfg.SettleInterval); err != nil {
		return false, err
	}

	attempts := s.cfg.ReconnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := s.dialer.Dial(ctx)
		if err == nil {
			s.mu.Lock()
			s.conn = conn
			s.state = Connected
			s.reconnects++
			s.mu.Unlock()

			mode := s.queryMode(ctx)
			s.log.Info().Int("attempt", i).Str("mode", mode.String()).Msg("Reconnected after mode switch")
			if mode == ModeBootloader {
				return true, fmt.Errorf("%w: device still in bootloader after switch", ErrInvalidState)
			}
			return true, nil
		}

		lastErr = err
		s.log.Debug().Int("attempt", i).Err(err).Msg("Reconnect failed")
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if i < attempts {
			if err := sleepCtx(ctx, s.cfg.ReconnectInterval); err != nil {
				return false, err
			}
		}
	}

	s.setState(ConnError)
	return false, fmt.Errorf("%w after %d attempts: %w", ErrReconnectTimeout, attempts, lastErr)
}

// ClearShutdownLatch clears a latched fault. It is only valid while the
// status is Shutdown. A latch that survives the clear is reported as
// ErrStaleShutdown and not retried.
func (s *Session) ClearShutdownLatch(ctx context.Context) error {
	if _, err := s.transport(ctx); err != nil {
		return err
	}
	if st := s.Status(); st != StatusShutdown {
		return fmt.Errorf("%w: clear shutdown while %s", ErrInvalidState, st)
	}

	s.log.Warn().Msg("Printer in shutdown state, clearing latch")
	if _, err := s.commandRetry(ctx, bee.CmdClearShutdown); err != nil {
		return err
	}
	if err := sleepCtx(ctx, s.cfg.ShutdownClearWait); err != nil {
		return err
	}

	sample := s.Poll(ctx)
	if sample.Status == StatusShutdown {
		return fmt.Errorf("%w: status still %s (%q)", ErrStaleShutdown, sample.Status, sample.Raw)
	}
	s.log.Info().Str("status", sample.Status.String()).Msg("Shutdown latch cleared")
	return nil
}

// Close releases the connection. Safe to call in any state, any number of
// times.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = Disconnected
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	s.log.Debug().Msg("Closing connection")
	return conn.Close()
}

// Command performs one round-trip. A failed round-trip is ErrTransport and
// is not retried here.
func (s *Session) Command(ctx context.Context, cmd string) (bee.Response, error) {
	conn, err := s.transport(ctx)
	if err != nil {
		return bee.Response{Command: cmd}, err
	}
	resp, err := conn.SendCommand(ctx, cmd)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return resp, ctxErr
		}
		if bee.IsDisconnect(err) {
			s.log.Warn().Err(err).Str("cmd", cmd).Msg("Device disconnected")
			s.setState(ConnError)
		}
		return resp, fmt.Errorf("%w: %s: %w", ErrTransport, cmd, err)
	}
	return resp, nil
}

// commandRetry retries a failed round-trip once after RetryDelay; the
// device may have been mid-reset the first time.
func (s *Session) commandRetry(ctx context.Context, cmd string) (bee.Response, error) {
	resp, err := s.Command(ctx, cmd)
	if err == nil || !errors.Is(err, ErrTransport) || s.State() != Connected {
		return resp, err
	}
	s.log.Debug().Err(err).Str("cmd", cmd).Msg("Retrying command")
	if err := sleepCtx(ctx, s.cfg.RetryDelay); err != nil {
		return resp, err
	}
	return s.Command(ctx, cmd)
}

// EmergencyStop halts the machine. It bypasses a transfer's hold on the
// wire.
func (s *Session) EmergencyStop(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	s.log.Warn().Msg("Emergency stop")
	if _, err := conn.SendCommand(ctx, bee.CmdEmergencyStop); err != nil && !errors.Is(err, bee.ErrNoResponse) {
		return fmt.Errorf("%w: %s: %w", ErrTransport, bee.CmdEmergencyStop, err)
	}
	return nil
}

// queryMode asks the device which program it runs. Firmware answers M625
// with a status; the bootloader rejects it.
func (s *Session) queryMode(ctx context.Context) Mode {
	mode := ModeUnknown
	status := StatusUnknown

	resp, err := s.Command(ctx, bee.CmdStatus)
	switch {
	case err != nil:
		s.log.Debug().Err(err).Msg("Mode query failed")
	case bee.IsBootloaderReply(resp.Text()):
		mode = ModeBootloader
	case !resp.Empty():
		mode = ModeFirmware
		status = NormalizeStatus(resp.Text())
	}

	s.mu.Lock()
	s.mode = mode
	s.status = status
	s.mu.Unlock()
	return mode
}

// lease marks one operation's exclusive hold on the wire.
type lease struct{ op string }

type leaseKey struct{}

func leaseOf(ctx context.Context) *lease {
	l, _ := ctx.Value(leaseKey{}).(*lease)
	return l
}

// transport returns the open connection, or why there is none. Commands
// issued under the current holder's context pass.
func (s *Session) transport(ctx context.Context) (Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.state != Connected {
		return nil, ErrNotConnected
	}
	if s.owner != nil && s.owner != leaseOf(ctx) {
		return nil, fmt.Errorf("%w: %s in progress", ErrSessionBusy, s.owner.op)
	}
	return s.conn, nil
}

// hold reserves the wire for op until release is called. The returned
// context carries the hold; a context that already carries it is reused.
func (s *Session) hold(ctx context.Context, op string) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.state != Connected {
		return ctx, nil, ErrNotConnected
	}
	if s.owner != nil {
		if s.owner == leaseOf(ctx) {
			return ctx, func() {}, nil
		}
		return ctx, nil, fmt.Errorf("%w: %s in progress", ErrSessionBusy, s.owner.op)
	}
	l := &lease{op: op}
	s.owner = l
	release := func() {
		s.mu.Lock()
		if s.owner == l {
			s.owner = nil
		}
		s.mu.Unlock()
	}
	return context.WithValue(ctx, leaseKey{}, l), release, nil
}

// holding reports which operation holds the wire, if any.
func (s *Session) holding() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner == nil {
		return ""
	}
	return s.owner.op
}

func (s *Session) dropConn(state ConnState) {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = state
	s.mode = ModeUnknown
	s.mu.Unlock()
	if conn != nil {
		if err := conn.Close(); err != nil {
			s.log.Debug().Err(err).Msg("Close after mode switch")
		}
	}
}

func (s *Session) setState(st ConnState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

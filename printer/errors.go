package printer

import "errors"

// Failure classes a caller may need to tell apart.
var (
	// ErrConnect: no device found or the port could not be opened.
	ErrConnect = errors.New("cannot connect to printer")

	// ErrReconnectTimeout: the device did not come back after a mode switch.
	ErrReconnectTimeout = errors.New("printer did not come back after mode switch")

	// ErrTransport: one command round-trip failed.
	ErrTransport = errors.New("command round-trip failed")

	// ErrStaleShutdown: the shutdown latch is still set after clearing it.
	ErrStaleShutdown = errors.New("shutdown state did not clear")

	// ErrPrintNotConfirmed: no start strategy produced a printing signal.
	// StartPrint reports this through PrintOutcome, never as its error.
	ErrPrintNotConfirmed = errors.New("print start not confirmed")

	ErrNotConnected = errors.New("session not connected")
	ErrInvalidState = errors.New("invalid session state")
	ErrSessionBusy  = errors.New("another operation owns the connection")
)

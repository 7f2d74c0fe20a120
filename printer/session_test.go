package printer

import (
	"context"
	"errors"
	"testing"

	"github.com/john/beeprint/bee"
)

func TestOpenQueriesMode(t *testing.T) {
	dev := newFakeDevice()
	dev.mode = ModeBootloader
	s, _ := openSession(dev)

	if s.State() != Connected {
		t.Fatalf("state = %v", s.State())
	}
	if s.Mode() != ModeBootloader {
		t.Errorf("mode = %v, want Bootloader", s.Mode())
	}
}

func TestOpenFailure(t *testing.T) {
	s := NewSession(&fakeDialer{dev: newFakeDevice(), failN: 1}, testConfig())
	err := s.Open(context.Background())
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}
	if s.State() != ConnError {
		t.Errorf("state = %v, want Error", s.State())
	}
}

func TestSwitchToFirmwareIdempotent(t *testing.T) {
	dev := newFakeDevice()
	s, dialer := openSession(dev)

	reconnected, err := s.SwitchToFirmware(context.Background())
	if err != nil {
		t.Fatalf("SwitchToFirmware: %v", err)
	}
	if reconnected {
		t.Error("no reconnect expected when already in firmware")
	}
	if len(dev.fired) != 0 {
		t.Errorf("mode switch command sent: %v", dev.fired)
	}
	if dialer.dials != 1 {
		t.Errorf("dials = %d, want 1", dialer.dials)
	}
}

func TestSwitchToFirmwareReconnects(t *testing.T) {
	dev := newFakeDevice()
	dev.mode = ModeBootloader
	s, dialer := openSession(dev)
	dialer.failN = 2 // the first two redials see no device
	dialer.failed = 0

	reconnected, err := s.SwitchToFirmware(context.Background())
	if err != nil {
		t.Fatalf("SwitchToFirmware: %v", err)
	}
	if !reconnected {
		t.Error("expected reconnect")
	}
	if s.Mode() != ModeFirmware {
		t.Errorf("mode = %v, want Firmware", s.Mode())
	}
	if dev.closes != 1 {
		t.Errorf("transport closed %d times, want 1", dev.closes)
	}
	if dialer.dials != 4 { // open + 2 failures + success
		t.Errorf("dials = %d, want 4", dialer.dials)
	}
	if s.Reconnects() != 1 {
		t.Errorf("reconnects = %d", s.Reconnects())
	}
}

func TestSwitchToFirmwareReconnectTimeout(t *testing.T) {
	dev := newFakeDevice()
	dev.mode = ModeBootloader
	s, dialer := openSession(dev)
	dialer.failN = 100
	dialer.failed = 0

	_, err := s.SwitchToFirmware(context.Background())
	if !errors.Is(err, ErrReconnectTimeout) {
		t.Fatalf("expected ErrReconnectTimeout, got %v", err)
	}
	if got := dialer.dials - 1; got != s.Config().ReconnectAttempts {
		t.Errorf("redials = %d, want %d", got, s.Config().ReconnectAttempts)
	}
	if s.State() != ConnError {
		t.Errorf("state = %v", s.State())
	}
}

func TestSwitchToFirmwareNotConnected(t *testing.T) {
	s := NewSession(&fakeDialer{dev: newFakeDevice()}, testConfig())
	if _, err := s.SwitchToFirmware(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestClearShutdownLatch(t *testing.T) {
	dev := newFakeDevice()
	dev.statusCode = bee.CodeShutdown
	dev.handle = func(d *fakeDevice, cmd string) (string, bool) {
		if cmd == bee.CmdClearShutdown {
			d.statusCode = bee.CodeReady
			return "ok", true
		}
		return "", false
	}
	s, _ := openSession(dev)
	if s.Status() != StatusShutdown {
		t.Fatalf("status = %v", s.Status())
	}

	if err := s.ClearShutdownLatch(context.Background()); err != nil {
		t.Fatalf("ClearShutdownLatch: %v", err)
	}
	if s.Status() != StatusReady {
		t.Errorf("status = %v, want Ready", s.Status())
	}
}

func TestClearShutdownLatchStale(t *testing.T) {
	dev := newFakeDevice()
	dev.statusCode = bee.CodeShutdown
	s, _ := openSession(dev)

	err := s.ClearShutdownLatch(context.Background())
	if !errors.Is(err, ErrStaleShutdown) {
		t.Fatalf("expected ErrStaleShutdown, got %v", err)
	}
	if n := dev.sentCount(bee.CmdClearShutdown); n != 1 {
		t.Errorf("clear sent %d times, want 1", n)
	}
}

func TestClearShutdownLatchWrongState(t *testing.T) {
	s, _ := openSession(newFakeDevice())
	if err := s.ClearShutdownLatch(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	dev := newFakeDevice()
	s, _ := openSession(dev)
	for i := 0; i < 3; i++ {
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}
	}
	if dev.closes != 1 {
		t.Errorf("closes = %d, want 1", dev.closes)
	}
	if s.State() != Disconnected {
		t.Errorf("state = %v", s.State())
	}
	if _, err := s.Command(context.Background(), "M105"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestCommandRetriesOnce(t *testing.T) {
	dev := newFakeDevice()
	fails := 1
	dev.handle = func(d *fakeDevice, cmd string) (string, bool) {
		if cmd == "G28" && fails > 0 {
			fails--
			return "", true // silence
		}
		return "", false
	}
	s, _ := openSession(dev)

	if _, err := s.commandRetry(context.Background(), "G28"); err != nil {
		t.Fatalf("commandRetry: %v", err)
	}
	if n := dev.sentCount("G28"); n != 2 {
		t.Errorf("G28 sent %d times, want 2", n)
	}

	// Command itself never retries.
	fails = 5
	if _, err := s.Command(context.Background(), "G28"); !errors.Is(err, ErrTransport) {
		t.Errorf("expected ErrTransport, got %v", err)
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"S:3\nok", StatusReady},
		{"s:4", StatusReady},
		{"S:5", StatusPrinting},
		{"S:6", StatusTransferring},
		{"S:7", StatusPaused},
		{"S:9", StatusShutdown},
		{"S:42", StatusUnknown},
		{"Ready", StatusReady},
		{"SD_Print", StatusPrinting},
		{"Transfer", StatusTransferring},
		{"Pause", StatusPaused},
		{"Shutdown", StatusShutdown},
		{"Heating", StatusHeating},
		{"Bad M-code 625", StatusUnknown},
		{"", StatusUnknown},
		{"whatever", StatusUnknown},
	}
	for _, tt := range tests {
		if got := NormalizeStatus(tt.in); got != tt.want {
			t.Errorf("NormalizeStatus(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPollNeverFails(t *testing.T) {
	dev := newFakeDevice()
	dev.temps = []float64{180.5}
	s, _ := openSession(dev)

	sample := s.Poll(context.Background())
	if sample.Status != StatusReady || !sample.HasTemp || sample.NozzleTemp != 180.5 {
		t.Errorf("unexpected sample %+v", sample)
	}

	dev.handle = func(d *fakeDevice, cmd string) (string, bool) { return "", true }
	sample = s.Poll(context.Background())
	if sample.Status != StatusUnknown {
		t.Errorf("status = %v, want Unknown", sample.Status)
	}

	s.Close()
	if got := s.Poll(context.Background()).Status; got != StatusUnknown {
		t.Errorf("closed session status = %v", got)
	}
}

package printer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/john/beeprint/bee"
)

// fakeDevice simulates a BEETHEFIRST behind the Transport interface.
type fakeDevice struct {
	mu sync.Mutex

	mode       Mode
	statusCode int
	temps      []float64 // successive M105 readings; the last one repeats
	tempIdx    int
	files      []string
	sent       []string
	fired      []string
	closes     int

	// handle, if set, may answer a command itself.
	handle func(d *fakeDevice, cmd string) (reply string, handled bool)

	uploadErr    error
	uploadBlocks int
	uploadGate   chan struct{} // if set, each block waits on it
	uploaded     map[string][]byte
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		mode:       ModeFirmware,
		statusCode: bee.CodeReady,
		temps:      []float64{25},
		uploaded:   map[string][]byte{},
	}
}

func (d *fakeDevice) SendCommand(ctx context.Context, cmd string) (bee.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return bee.Response{Command: cmd}, err
	}
	d.sent = append(d.sent, cmd)

	reply, ok := "", false
	if d.handle != nil {
		reply, ok = d.handle(d, cmd)
	}
	if !ok {
		reply = d.defaultReply(cmd)
	}
	if reply == "" {
		return bee.Response{Command: cmd}, bee.ErrNoResponse
	}
	lines := strings.Split(reply, "\n")
	return bee.Response{Command: cmd, Lines: lines, Terminated: strings.HasPrefix(lines[len(lines)-1], "ok")}, nil
}

func (d *fakeDevice) defaultReply(cmd string) string {
	switch {
	case cmd == bee.CmdStatus:
		if d.mode == ModeBootloader {
			return "Bad M-code 625\nok"
		}
		return fmt.Sprintf("S:%d\nok", d.statusCode)
	case cmd == bee.CmdTemperature:
		t := d.temps[d.tempIdx]
		if d.tempIdx < len(d.temps)-1 {
			d.tempIdx++
		}
		return fmt.Sprintf("T:%.1f /0.0 B:0.0\nok", t)
	case cmd == bee.CmdSessionVars:
		if d.statusCode == bee.CodePrinting {
			return "A10 B1000 C100 D5\nok"
		}
		return "ok"
	case cmd == bee.CmdListFiles:
		return "Begin file list\n" + strings.Join(d.files, "\n") + "\nEnd file list\nok"
	case cmd == bee.CmdClearShutdown:
		return "ok"
	default:
		return "ok"
	}
}

func (d *fakeDevice) Fire(ctx context.Context, cmd string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fired = append(d.fired, cmd)
	if cmd == bee.CmdGoToFirmware {
		d.mode = ModeFirmware
	}
	return nil
}

func (d *fakeDevice) Upload(ctx context.Context, name string, payload []byte, progress func(sent, total int)) error {
	const block = 1024
	total := len(payload)
	for start := 0; start < total; start += block {
		if d.uploadGate != nil {
			select {
			case <-d.uploadGate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		d.mu.Lock()
		failAt := d.uploadErr != nil && d.uploadBlocks == 0
		d.uploadBlocks--
		d.mu.Unlock()
		if failAt {
			return d.uploadErr
		}
		end := start + block
		if end > total {
			end = total
		}
		progress(end, total)
	}
	d.mu.Lock()
	d.uploaded[name] = payload
	d.files = append(d.files, strings.ToUpper(name))
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	d.closes++
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) sentCount(cmd string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.sent {
		if c == cmd {
			n++
		}
	}
	return n
}

func (d *fakeDevice) sentWithPrefix(prefix string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, c := range d.sent {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// fakeDialer hands out the same device, failing the first failN dials.
type fakeDialer struct {
	mu     sync.Mutex
	dev    *fakeDevice
	failN  int
	dials  int
	failed int
}

func (f *fakeDialer) Dial(ctx context.Context) (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.failed < f.failN {
		f.failed++
		return nil, errors.New("no such device")
	}
	return f.dev, nil
}

func testConfig() SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.SettleInterval = time.Millisecond
	cfg.ReconnectInterval = time.Millisecond
	cfg.ShutdownClearWait = time.Millisecond
	cfg.RetryDelay = time.Millisecond
	cfg.TransferPoll = time.Millisecond
	cfg.Heat.PollInterval = time.Millisecond
	cfg.Sequencer.CommandSettle = time.Millisecond
	cfg.Sequencer.ProbeInterval = time.Millisecond
	return cfg
}

func openSession(dev *fakeDevice) (*Session, *fakeDialer) {
	dialer := &fakeDialer{dev: dev}
	s := NewSession(dialer, testConfig())
	if err := s.Open(context.Background()); err != nil {
		panic(err)
	}
	return s, dialer
}

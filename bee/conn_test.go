package bee

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptPort answers each written command line with a canned reply.
type scriptPort struct {
	mu      sync.Mutex
	replies map[string]string // command prefix -> reply
	written []string
	out     bytes.Buffer
	closed  int
}

func newScriptPort(replies map[string]string) *scriptPort {
	return &scriptPort{replies: replies}
}

func (p *scriptPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cmd := strings.TrimSpace(string(b))
	p.written = append(p.written, cmd)
	for prefix, reply := range p.replies {
		if strings.HasPrefix(cmd, prefix) {
			p.out.WriteString(reply)
			break
		}
	}
	return len(b), nil
}

func (p *scriptPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out.Len() == 0 {
		return 0, nil
	}
	return p.out.Read(b)
}

func (p *scriptPort) Close() error {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
	return nil
}

func TestSendCommandCollectsUntilOK(t *testing.T) {
	port := newScriptPort(map[string]string{
		"M625": "S:3\nok Q:0\n",
	})
	c := NewConn(port, "/dev/fake", 200*time.Millisecond)

	resp, err := c.SendCommand(context.Background(), CmdStatus)
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if !resp.Terminated {
		t.Error("expected terminated reply")
	}
	if len(resp.Lines) != 2 || resp.Lines[0] != "S:3" {
		t.Errorf("unexpected lines %v", resp.Lines)
	}
	if resp.Confidence() != ConfidenceHigh {
		t.Errorf("confidence = %v", resp.Confidence())
	}
}

func TestSendCommandPartialReply(t *testing.T) {
	port := newScriptPort(map[string]string{
		"M32": "A5 B100",
	})
	c := NewConn(port, "/dev/fake", 50*time.Millisecond)

	resp, err := c.SendCommand(context.Background(), CmdSessionVars)
	if err != nil {
		t.Fatalf("partial reply must not fail: %v", err)
	}
	if resp.Terminated {
		t.Error("reply without ok must not be terminated")
	}
	if resp.Text() != "A5 B100" {
		t.Errorf("text = %q", resp.Text())
	}
}

func TestSendCommandSilence(t *testing.T) {
	c := NewConn(newScriptPort(nil), "/dev/fake", 30*time.Millisecond)
	_, err := c.SendCommand(context.Background(), CmdTemperature)
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("expected ErrNoResponse, got %v", err)
	}
}

func TestSendCommandCancelled(t *testing.T) {
	c := NewConn(newScriptPort(nil), "/dev/fake", time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.SendCommand(ctx, CmdTemperature)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestUploadFraming(t *testing.T) {
	port := &blockPort{scriptPort: newScriptPort(map[string]string{
		"M30": "ok\n",
		"M28": "ok\n",
	})}
	c := NewConn(port, "/dev/fake", 100*time.Millisecond)

	payload := bytes.Repeat([]byte("G1 X1\n"), blockSize/6+10) // just over one block
	var calls [][2]int
	err := c.Upload(context.Background(), "abcde", payload, func(sent, total int) {
		calls = append(calls, [2]int{sent, total})
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if len(calls) != 2 {
		t.Fatalf("expected 2 progress calls, got %v", calls)
	}
	if calls[1][0] != len(payload) || calls[1][1] != len(payload) {
		t.Errorf("last progress = %v, want %d", calls[1], len(payload))
	}
	if port.data != len(payload) {
		t.Errorf("device received %d data bytes, want %d", port.data, len(payload))
	}

	want := []string{"M30 abcde", BeginWrite(0, blockSize-1), BeginWrite(blockSize, len(payload)-1)}
	if strings.Join(port.written, "|") != strings.Join(want, "|") {
		t.Errorf("commands = %v, want %v", port.written, want)
	}
}

// blockPort treats writes following an M28 as block data and acknowledges
// the block with "tog" once the announced byte range has arrived.
type blockPort struct {
	*scriptPort
	remaining int
	data      int
}

func (p *blockPort) Write(b []byte) (int, error) {
	if p.remaining > 0 {
		p.remaining -= len(b)
		p.data += len(b)
		if p.remaining <= 0 {
			p.mu.Lock()
			p.out.WriteString("tog\n")
			p.mu.Unlock()
		}
		return len(b), nil
	}
	var end, start int
	if _, err := fmt.Sscanf(string(b), "M28 D%d A%d", &end, &start); err == nil {
		p.remaining = end - start + 1
	}
	return p.scriptPort.Write(b)
}

func TestCloseIdempotent(t *testing.T) {
	port := newScriptPort(nil)
	c := NewConn(port, "/dev/fake", 0)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if port.closed != 1 {
		t.Errorf("port closed %d times", port.closed)
	}
	if _, err := c.SendCommand(context.Background(), "M105"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
}

func TestIsDisconnect(t *testing.T) {
	if IsDisconnect(nil) {
		t.Error("nil is not a disconnect")
	}
	if !IsDisconnect(errors.New("read /dev/ttyACM0: input/output error")) {
		t.Error("EIO should count as disconnect")
	}
	if !IsDisconnect(ErrClosed) {
		t.Error("closed connection should count as disconnect")
	}
	if IsDisconnect(errors.New("permission denied")) {
		t.Error("permission problem is not a disconnect")
	}
}

func TestLookupModel(t *testing.T) {
	if m, ok := lookupModel("29c9", "0001"); !ok || m != "BEETHEFIRST+" {
		t.Errorf("lookupModel = %q, %v", m, ok)
	}
	if _, ok := lookupModel("2341", "0043"); ok {
		t.Error("arduino must not match")
	}
}

package bee

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultCommandTimeout bounds one command round-trip.
	DefaultCommandTimeout = 5 * time.Second

	// Upload framing used by the firmware's SD writer.
	messageSize = 512
	blockSize   = messageSize * 64

	idleBackoff = 10 * time.Millisecond
)

// ErrNoResponse is returned when the device sent nothing at all before the
// command deadline.
var ErrNoResponse = errors.New("no response from device")

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("connection closed")

// Port is the byte stream under a connection. Reads must return after the
// port's read timeout with zero bytes rather than block forever.
type Port interface {
	io.ReadWriteCloser
}

// Conn speaks the line protocol over a Port. It serializes round-trips;
// callers never interleave two commands on the wire.
type Conn struct {
	port    Port
	name    string
	timeout time.Duration

	mu      sync.Mutex
	pending []byte // bytes read past the end of the last reply
	closed  bool
}

// NewConn wraps an opened port. A zero timeout selects DefaultCommandTimeout.
func NewConn(port Port, name string, timeout time.Duration) *Conn {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Conn{port: port, name: name, timeout: timeout}
}

// Name returns the device path the connection was opened on.
func (c *Conn) Name() string {
	return c.name
}

// SendCommand writes cmd and collects reply lines until an "ok" line or the
// command deadline. A reply that never terminates is returned as-is with
// Terminated=false; only total silence is an error.
func (c *Conn) SendCommand(ctx context.Context, cmd string) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Response{Command: cmd}, ErrClosed
	}
	if err := c.writeLine(cmd); err != nil {
		return Response{Command: cmd}, err
	}
	resp, err := c.readReply(ctx, cmd, isTerminator)
	log.Debug().Str("port", c.name).Str("cmd", cmd).Str("reply", resp.Text()).Bool("ok", resp.Terminated).Msg("round-trip")
	return resp, err
}

// Fire writes cmd without waiting for a reply. Used for commands after
// which the device resets and cannot answer.
func (c *Conn) Fire(ctx context.Context, cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Debug().Str("port", c.name).Str("cmd", cmd).Msg("fire")
	return c.writeLine(cmd)
}

// Upload writes payload to the SD card as name. The device is told the
// byte range of each block up front and acknowledges the block once it has
// been written. progress, if non-nil, is called after every block.
func (c *Conn) Upload(ctx context.Context, name string, payload []byte, progress func(sent, total int)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if err := c.writeLine(CreateFile(name)); err != nil {
		return err
	}
	resp, err := c.readReply(ctx, CmdCreateFile, isTerminator)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if LooksLikeError(resp.Text()) {
		return fmt.Errorf("create %s: device replied %q", name, resp.Text())
	}

	total := len(payload)
	for start := 0; start < total; start += blockSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + blockSize
		if end > total {
			end = total
		}

		if err := c.writeLine(BeginWrite(start, end-1)); err != nil {
			return err
		}
		if _, err := c.readReply(ctx, CmdBeginWrite, isTerminator); err != nil {
			return fmt.Errorf("begin block at %d: %w", start, err)
		}

		for off := start; off < end; off += messageSize {
			msgEnd := off + messageSize
			if msgEnd > end {
				msgEnd = end
			}
			if _, err := c.port.Write(payload[off:msgEnd]); err != nil {
				return fmt.Errorf("write block at %d: %w", off, err)
			}
		}

		ack, err := c.readReply(ctx, "block", isBlockAck)
		if err != nil {
			return fmt.Errorf("block at %d not acknowledged: %w", start, err)
		}
		if LooksLikeError(ack.Text()) {
			return fmt.Errorf("block at %d: device replied %q", start, ack.Text())
		}

		if progress != nil {
			progress(end, total)
		}
	}
	return nil
}

// Close closes the port. It is safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.pending = nil
	return c.port.Close()
}

func (c *Conn) writeLine(cmd string) error {
	if !strings.HasSuffix(cmd, "\n") {
		cmd += "\n"
	}
	if _, err := c.port.Write([]byte(cmd)); err != nil {
		return fmt.Errorf("write %q: %w", strings.TrimSpace(cmd), err)
	}
	return nil
}

// readReply accumulates lines until done reports a terminating line, the
// deadline passes, or ctx is cancelled.
func (c *Conn) readReply(ctx context.Context, cmd string, done func(string) bool) (Response, error) {
	resp := Response{Command: cmd}
	deadline := time.Now().Add(c.timeout)
	buf := make([]byte, 256)

	for {
		// Consume complete lines already buffered.
		for {
			idx := bytes.IndexByte(c.pending, '\n')
			if idx < 0 {
				break
			}
			line := strings.TrimRight(string(c.pending[:idx]), "\r")
			c.pending = c.pending[idx+1:]
			if strings.TrimSpace(line) == "" {
				continue
			}
			resp.Lines = append(resp.Lines, line)
			if done(line) {
				resp.Terminated = true
				return resp, nil
			}
		}

		if err := ctx.Err(); err != nil {
			return resp, err
		}
		if time.Now().After(deadline) {
			if len(c.pending) > 0 {
				resp.Lines = append(resp.Lines, strings.TrimSpace(string(c.pending)))
				c.pending = nil
			}
			if resp.Empty() {
				return resp, ErrNoResponse
			}
			return resp, nil
		}

		n, err := c.port.Read(buf)
		if n > 0 {
			c.pending = append(c.pending, buf[:n]...)
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return resp, fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			time.Sleep(idleBackoff)
		}
	}
}

func isBlockAck(line string) bool {
	l := strings.ToLower(line)
	return strings.Contains(l, "tog") || isTerminator(line) || LooksLikeError(line)
}

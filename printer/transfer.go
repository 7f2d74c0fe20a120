package printer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/john/beeprint/gcode"
)

const opTransfer = "transfer"

// TransferState is where a transfer stands.
type TransferState int

const (
	TransferInProgress TransferState = iota
	TransferComplete
	TransferFailed
)

func (t TransferState) String() string {
	switch t {
	case TransferComplete:
		return "Complete"
	case TransferFailed:
		return "Failed"
	default:
		return "InProgress"
	}
}

// TransferJob is a file bound for the SD card.
type TransferJob struct {
	Source  string
	Name    DeviceFilename
	Payload []byte
}

// NewTransferJob builds a job. With meta set, the print header is put in
// front of body unless it already has one.
func NewTransferJob(source string, name DeviceFilename, body []byte, meta *gcode.Metadata) TransferJob {
	payload := body
	if meta != nil {
		payload = gcode.Prepend(body, *meta)
	}
	return TransferJob{Source: source, Name: name, Payload: payload}
}

// Transfer is the handle of a running transfer. Progress is polled; it is
// never pushed to the caller.
type Transfer struct {
	job     TransferJob
	started time.Time

	mu         sync.Mutex
	percent    float64
	hasPercent bool
	state      TransferState
	err        error
	finished   time.Time
	done       chan struct{}
}

// BeginTransfer starts sending job to the SD card in the background. The
// session refuses other commands until the transfer ends.
func (s *Session) BeginTransfer(ctx context.Context, job TransferJob) (*Transfer, error) {
	if job.Name.IsZero() {
		return nil, fmt.Errorf("%w: transfer without a device name", ErrInvalidState)
	}
	ctx, release, err := s.hold(ctx, opTransfer)
	if err != nil {
		return nil, err
	}
	conn, err := s.transport(ctx)
	if err != nil {
		release()
		return nil, err
	}
	s.setStatus(StatusTransferring)

	t := &Transfer{job: job, started: time.Now(), done: make(chan struct{})}
	s.log.Info().Str("file", job.Source).Str("device_name", job.Name.Listing()).
		Int("bytes", len(job.Payload)).Msg("Transfer started")

	go func() {
		err := conn.Upload(ctx, job.Name.Argument(), job.Payload, t.progress)
		if err != nil {
			s.log.Error().Err(err).Str("device_name", job.Name.Listing()).Msg("Transfer failed")
			s.setStatus(StatusUnknown)
		} else {
			s.setStatus(StatusReady)
			s.log.Info().Str("device_name", job.Name.Listing()).
				Dur("took", time.Since(t.started)).Msg("Transfer complete")
		}
		// Waiters may issue commands as soon as done closes.
		release()
		t.finish(err)
	}()
	return t, nil
}

// Job returns what is being transferred.
func (t *Transfer) Job() TransferJob { return t.job }

// IsTransferring reports whether the transfer is still running.
func (t *Transfer) IsTransferring() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == TransferInProgress
}

// CompletionPercent returns the progress so far. ok is false until the
// first block has been acknowledged; that is "no news", not a failure.
// The value never decreases and is exactly 100 once Complete.
func (t *Transfer) CompletionPercent() (percent float64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percent, t.hasPercent
}

// State returns the transfer state.
func (t *Transfer) State() TransferState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err is the transport error that failed the transfer, if any.
func (t *Transfer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Done is closed when the transfer ends either way.
func (t *Transfer) Done() <-chan struct{} { return t.done }

// Wait blocks until the transfer ends and returns its error.
func (t *Transfer) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Duration is how long the transfer took, or has taken so far.
func (t *Transfer) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished.IsZero() {
		return time.Since(t.started)
	}
	return t.finished.Sub(t.started)
}

func (t *Transfer) progress(sent, total int) {
	if total <= 0 {
		return
	}
	p := float64(sent) / float64(total) * 100
	if p > 100 {
		p = 100
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TransferInProgress {
		return
	}
	// 100 is reserved for Complete.
	if p >= 100 {
		p = 99.99
	}
	if !t.hasPercent || p > t.percent {
		t.percent = p
		t.hasPercent = true
	}
}

func (t *Transfer) finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finished = time.Now()
	if err != nil {
		t.state = TransferFailed
		t.err = fmt.Errorf("%w: upload %s: %w", ErrTransport, t.job.Name.Listing(), err)
	} else {
		t.state = TransferComplete
		t.percent = 100
		t.hasPercent = true
	}
	close(t.done)
}

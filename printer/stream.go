package printer

import (
	"context"
	"errors"
	"time"

	"github.com/john/beeprint/bee"
	"github.com/john/beeprint/gcode"
)

const opStream = "stream"

// StreamProgress is reported while streaming.
type StreamProgress struct {
	Sent        int
	Total       int
	Errors      int
	LinesPerSec float64
	Remaining   time.Duration
}

// StreamResult summarizes a stream.
type StreamResult struct {
	Sent      int
	Total     int
	Errors    int
	Cancelled bool
	Elapsed   time.Duration
}

// StreamConfig tunes StreamFile.
type StreamConfig struct {
	// ReportEvery is the line interval between progress reports.
	ReportEvery int
}

// StreamFile sends every command line of data over the open connection,
// one round-trip per line, instead of printing from the SD card. Replies
// flagged by the error heuristic are counted, not fatal. On cancellation
// the device is told to break and stop. The heater is turned off at the
// end either way.
func (s *Session) StreamFile(ctx context.Context, data []byte, cfg StreamConfig, report func(StreamProgress)) (StreamResult, error) {
	lines := gcode.Commands(data)
	res := StreamResult{Total: len(lines)}
	if cfg.ReportEvery <= 0 {
		cfg.ReportEvery = 100
	}

	ctx, release, err := s.hold(ctx, opStream)
	if err != nil {
		return res, err
	}
	defer release()

	s.setStatus(StatusPrinting)
	start := time.Now()

	var streamErr error
	for i, line := range lines {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		resp, err := s.Command(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				res.Cancelled = true
				break
			}
			if errors.Is(err, ErrNotConnected) {
				streamErr = err
				break
			}
			res.Errors++
			s.log.Debug().Err(err).Str("line", line).Msg("Stream line failed")
			continue
		}
		res.Sent++
		if bee.LooksLikeError(resp.Text()) {
			res.Errors++
		}

		if report != nil && (i+1)%cfg.ReportEvery == 0 {
			report(streamProgress(res, time.Since(start)))
		}
	}
	res.Elapsed = time.Since(start)

	// ctx may be cancelled; stop and cool under the same hold regardless.
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if res.Cancelled {
		s.log.Warn().Int("sent", res.Sent).Int("total", res.Total).Msg("Stream cancelled, stopping printer")
		if _, err := s.Command(stopCtx, bee.CmdBreak); err != nil {
			s.log.Debug().Err(err).Msg("Break failed")
		}
		if err := s.EmergencyStop(stopCtx); err != nil {
			s.log.Debug().Err(err).Msg("Emergency stop failed")
		}
	}
	if err := s.CoolDown(stopCtx); err != nil {
		s.log.Warn().Err(err).Msg("Cool down failed")
	}
	s.setStatus(StatusUnknown)

	s.log.Info().Int("sent", res.Sent).Int("errors", res.Errors).Dur("took", res.Elapsed).Msg("Stream finished")
	if streamErr != nil {
		return res, streamErr
	}
	if res.Cancelled {
		return res, ctx.Err()
	}
	return res, nil
}

// Home homes all axes.
func (s *Session) Home(ctx context.Context) error {
	_, err := s.commandRetry(ctx, bee.CmdHome)
	return err
}

func streamProgress(r StreamResult, elapsed time.Duration) StreamProgress {
	p := StreamProgress{Sent: r.Sent, Total: r.Total, Errors: r.Errors}
	if secs := elapsed.Seconds(); secs > 0 {
		p.LinesPerSec = float64(r.Sent) / secs
	}
	if p.LinesPerSec > 0 {
		p.Remaining = time.Duration(float64(r.Total-r.Sent) / p.LinesPerSec * float64(time.Second))
	}
	return p
}

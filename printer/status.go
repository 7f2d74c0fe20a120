package printer

import (
	"context"
	"time"

	"github.com/john/beeprint/bee"
)

// StatusSample is one observation of the device.
type StatusSample struct {
	Time       time.Time        `json:"time"`
	Status     Status           `json:"status"`
	Printing   bool             `json:"printing"`
	NozzleTemp float64          `json:"nozzle_temp"`
	HasTemp    bool             `json:"has_temp"`
	Raw        string           `json:"raw"`
	Progress   *bee.SessionVars `json:"progress,omitempty"`
}

// Poll samples status and nozzle temperature. It never fails: a query that
// errors or times out yields StatusUnknown, which callers treat as
// transient.
func (s *Session) Poll(ctx context.Context) StatusSample {
	sample := StatusSample{Time: time.Now(), Status: StatusUnknown}

	if s.holding() == opTransfer {
		// The wire is busy with file data; report what we know.
		sample.Status = StatusTransferring
		return sample
	}

	resp, err := s.Command(ctx, bee.CmdStatus)
	if err != nil {
		s.log.Debug().Err(err).Msg("Status poll failed")
		return sample
	}
	sample.Raw = resp.Text()
	sample.Status = NormalizeStatus(sample.Raw)
	sample.Printing = sample.Status == StatusPrinting

	if t, ok := s.nozzleTemp(ctx); ok {
		sample.NozzleTemp = t
		sample.HasTemp = true
	}

	if sample.Status != StatusUnknown {
		s.mu.Lock()
		s.status = sample.Status
		s.mode = ModeFirmware
		s.mu.Unlock()
	}
	return sample
}

// PollProgress reads the print-session variables. ok is false when no
// print session is active or the query failed.
func (s *Session) PollProgress(ctx context.Context) (bee.SessionVars, bool) {
	resp, err := s.Command(ctx, bee.CmdSessionVars)
	if err != nil {
		s.log.Debug().Err(err).Msg("Session variable poll failed")
		return bee.SessionVars{}, false
	}
	if bee.LooksLikeError(resp.Text()) {
		return bee.SessionVars{}, false
	}
	return bee.ParseSessionVars(resp.Text())
}

// FileList returns the names on the SD card in listing form.
func (s *Session) FileList(ctx context.Context) ([]string, error) {
	resp, err := s.commandRetry(ctx, bee.CmdListFiles)
	if err != nil {
		return nil, err
	}
	return bee.ParseFileList(resp.Text()), nil
}

func (s *Session) nozzleTemp(ctx context.Context) (float64, bool) {
	resp, err := s.Command(ctx, bee.CmdTemperature)
	if err != nil {
		s.log.Debug().Err(err).Msg("Temperature poll failed")
		return 0, false
	}
	t := bee.ParseTemperatures(resp.Text())
	return t.Nozzle, t.HasNozzle
}

package printer

import (
	"context"
	"time"
)

// SampleCallback is called with every sample that differs from the
// previous one.
type SampleCallback func(sample StatusSample)

// MonitorConfig tunes a passive monitor.
type MonitorConfig struct {
	Interval time.Duration
	// MaxUnknown stops the monitor after this many consecutive Unknown
	// samples; 0 never stops for that reason.
	MaxUnknown int
	// StopWhenIdle stops once a print that was seen running is no longer
	// printing.
	StopWhenIdle bool
	// Progress also reads the print-session variables while printing.
	Progress bool
}

// Stop reasons.
const (
	StopCancelled = "cancelled"
	StopShutdown  = "shutdown"
	StopIdle      = "idle"
	StopUnknown   = "unreachable"
)

// MonitorResult says why a monitor ended.
type MonitorResult struct {
	Reason  string
	Samples int
	Last    StatusSample
}

// Monitor polls a session without changing device state.
type Monitor struct {
	session  *Session
	cfg      MonitorConfig
	callback SampleCallback
	state    *State
}

// NewMonitor creates a monitor. state may be nil.
func NewMonitor(s *Session, cfg MonitorConfig, state *State, cb SampleCallback) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Monitor{session: s, cfg: cfg, callback: cb, state: state}
}

// Run polls until ctx is done or a stop condition holds. Poll failures are
// logged and counted, never returned.
func (m *Monitor) Run(ctx context.Context) MonitorResult {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	var (
		res      MonitorResult
		unknown  int
		sawPrint bool
		prev     StatusSample
		havePrev bool
	)

	for {
		sample := m.poll(ctx)
		res.Samples++
		res.Last = sample

		if m.state != nil {
			m.state.Update(m.session, sample)
		}
		if m.callback != nil && (!havePrev || changed(prev, sample)) {
			m.callback(sample)
		}
		prev, havePrev = sample, true

		switch sample.Status {
		case StatusUnknown:
			unknown++
			m.session.log.Debug().Int("consecutive", unknown).Msg("Monitor got unknown status")
		case StatusShutdown:
			m.session.log.Warn().Str("raw", sample.Raw).Msg("Printer in shutdown state, monitor stopping")
			res.Reason = StopShutdown
			return res
		default:
			unknown = 0
		}
		if sample.Printing {
			sawPrint = true
		}

		if m.cfg.MaxUnknown > 0 && unknown >= m.cfg.MaxUnknown {
			res.Reason = StopUnknown
			return res
		}
		if m.cfg.StopWhenIdle && sawPrint && !sample.Printing && sample.Status != StatusUnknown {
			res.Reason = StopIdle
			return res
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			res.Reason = StopCancelled
			return res
		}
	}
}

func (m *Monitor) poll(ctx context.Context) StatusSample {
	sample := m.session.Poll(ctx)
	if m.cfg.Progress && sample.Printing {
		if vars, ok := m.session.PollProgress(ctx); ok {
			sample.Progress = &vars
		}
	}
	return sample
}

// changed ignores the timestamp and sub-degree temperature noise.
func changed(a, b StatusSample) bool {
	if a.Status != b.Status || a.HasTemp != b.HasTemp {
		return true
	}
	if int(a.NozzleTemp) != int(b.NozzleTemp) {
		return true
	}
	if (a.Progress == nil) != (b.Progress == nil) {
		return true
	}
	return a.Progress != nil && *a.Progress != *b.Progress
}

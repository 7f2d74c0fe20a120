package printer

import (
	"context"
	"testing"
	"time"

	"github.com/john/beeprint/bee"
)

func TestMonitorStopsWhenPrintEnds(t *testing.T) {
	dev := newFakeDevice()
	dev.statusCode = bee.CodePrinting
	polls := 0
	dev.handle = func(d *fakeDevice, cmd string) (string, bool) {
		if cmd == bee.CmdStatus {
			polls++
			if polls > 3 {
				d.statusCode = bee.CodeReady
			}
		}
		return "", false
	}
	s, _ := openSession(dev)
	state := NewState()

	var samples []StatusSample
	m := NewMonitor(s, MonitorConfig{Interval: time.Millisecond, StopWhenIdle: true, Progress: true}, state, func(sample StatusSample) {
		samples = append(samples, sample)
	})
	res := m.Run(context.Background())

	if res.Reason != StopIdle {
		t.Fatalf("reason = %q, want %q", res.Reason, StopIdle)
	}
	if len(samples) == 0 || samples[0].Progress == nil || samples[0].Progress.TotalLines != 100 {
		t.Errorf("first sample lacks progress: %+v", samples)
	}
	if got := state.Snapshot(); got.Status != "Ready" || got.Progress != 0 {
		t.Errorf("state = %+v", got)
	}
}

func TestMonitorStopsOnShutdown(t *testing.T) {
	dev := newFakeDevice()
	dev.statusCode = bee.CodeShutdown
	s, _ := openSession(dev)

	res := NewMonitor(s, MonitorConfig{Interval: time.Millisecond}, nil, nil).Run(context.Background())
	if res.Reason != StopShutdown || res.Samples != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestMonitorStopsAfterUnknowns(t *testing.T) {
	dev := newFakeDevice()
	dev.handle = func(d *fakeDevice, cmd string) (string, bool) { return "", true }
	s, _ := openSession(dev)

	res := NewMonitor(s, MonitorConfig{Interval: time.Millisecond, MaxUnknown: 3}, nil, nil).Run(context.Background())
	if res.Reason != StopUnknown || res.Samples != 3 {
		t.Errorf("result = %+v", res)
	}
}

func TestMonitorCancel(t *testing.T) {
	s, _ := openSession(newFakeDevice())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	res := NewMonitor(s, MonitorConfig{Interval: time.Millisecond}, nil, func(StatusSample) { calls++ }).Run(ctx)
	if res.Reason != StopCancelled {
		t.Errorf("reason = %q", res.Reason)
	}
	// Unchanged samples are not emitted. The poll cut short by the
	// deadline may add one Unknown sample.
	if calls < 1 || calls > 2 || calls >= res.Samples {
		t.Errorf("callback called %d times for %d samples", calls, res.Samples)
	}
}

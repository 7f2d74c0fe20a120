package printer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/john/beeprint/bee"
)

const opHeat = "heat"

// HeatResult is the outcome of HeatTo. Not reaching the target is not an
// error; the device keeps regulating on its own.
type HeatResult struct {
	Target    float64
	Reached   bool
	FinalTemp float64
	HasTemp   bool
	Samples   int
	Elapsed   time.Duration
}

// HeatTo sets the nozzle target once and polls until the temperature is
// within tolerance of it or timeout passes. report, if non-nil, receives
// temperatures that moved at least ReportDelta since the last report.
func (s *Session) HeatTo(ctx context.Context, target float64, timeout time.Duration, report func(temp float64)) (HeatResult, error) {
	res := HeatResult{Target: target}
	ctx, release, err := s.hold(ctx, opHeat)
	if err != nil {
		return res, err
	}
	defer release()

	if _, err := s.commandRetry(ctx, bee.SetNozzleTemp(target)); err != nil {
		return res, err
	}
	s.setStatus(StatusHeating)
	s.log.Info().Float64("target", target).Dur("timeout", timeout).Msg("Heating nozzle")

	start := time.Now()
	lastReported := math.Inf(-1)
	temperature := Signal{
		Name: "temperature",
		Check: func(ctx context.Context) (bool, string) {
			t, ok := s.nozzleTemp(ctx)
			if !ok {
				return false, ""
			}
			res.Samples++
			res.FinalTemp = t
			res.HasTemp = true
			if math.Abs(t-lastReported) >= s.cfg.Heat.ReportDelta {
				lastReported = t
				if report != nil {
					report(t)
				}
			}
			return t >= target-s.cfg.Heat.Tolerance, fmt.Sprintf("%.1f", t)
		},
	}

	c := confirmVia(ctx, probePlan{Interval: s.cfg.Heat.PollInterval, Timeout: timeout}, temperature)
	res.Reached = c.Confirmed
	res.Elapsed = time.Since(start)

	ev := s.log.Info()
	if !res.Reached {
		ev = s.log.Warn()
	}
	ev.Bool("reached", res.Reached).Float64("temp", res.FinalTemp).Int("samples", res.Samples).Msg("Heating finished")
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// CoolDown turns the nozzle heater off.
func (s *Session) CoolDown(ctx context.Context) error {
	_, err := s.commandRetry(ctx, bee.SetNozzleTemp(0))
	return err
}

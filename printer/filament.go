package printer

import (
	"context"
	"fmt"
	"time"

	"github.com/john/beeprint/bee"
)

const opFilament = "filament"

// FilamentConfig tunes load and unload.
type FilamentConfig struct {
	Temperature float64
	HeatTimeout time.Duration
	// Unload retracts Steps times by StepLength millimetres at Feed mm/min.
	Steps      int
	StepLength float64
	Feed       float64
	StepPause  time.Duration
}

// DefaultFilamentConfig matches the vendor's load/unload routine.
func DefaultFilamentConfig() FilamentConfig {
	return FilamentConfig{
		Temperature: 215,
		HeatTimeout: 5 * time.Minute,
		Steps:       10,
		StepLength:  5,
		Feed:        100,
		StepPause:   time.Second,
	}
}

// LoadFilament heats the nozzle and runs the firmware's load routine.
func (s *Session) LoadFilament(ctx context.Context, cfg FilamentConfig, report func(float64)) (HeatResult, error) {
	ctx, release, err := s.hold(ctx, opFilament)
	if err != nil {
		return HeatResult{Target: cfg.Temperature}, err
	}
	defer release()

	heat, err := s.HeatTo(ctx, cfg.Temperature, cfg.HeatTimeout, report)
	if err != nil {
		return heat, err
	}
	if !heat.Reached {
		s.log.Warn().Float64("temp", heat.FinalTemp).Msg("Loading below target temperature")
	}
	if _, err := s.commandRetry(ctx, bee.CmdLoadFilament); err != nil {
		return heat, err
	}
	s.log.Info().Msg("Filament load started")
	return heat, nil
}

// UnloadFilament heats the nozzle, retracts the filament in relative
// steps, and turns the heater off. The heater is turned off even when a
// retract step fails.
func (s *Session) UnloadFilament(ctx context.Context, cfg FilamentConfig, report func(float64)) (HeatResult, error) {
	ctx, release, err := s.hold(ctx, opFilament)
	if err != nil {
		return HeatResult{Target: cfg.Temperature}, err
	}
	defer release()

	heat, err := s.HeatTo(ctx, cfg.Temperature, cfg.HeatTimeout, report)
	if err != nil {
		return heat, err
	}
	if !heat.Reached {
		s.log.Warn().Float64("temp", heat.FinalTemp).Msg("Unloading below target temperature")
	}

	retract := fmt.Sprintf("G1 E-%g F%g", cfg.StepLength, cfg.Feed)
	var stepErr error
	for i := 0; i < cfg.Steps && stepErr == nil; i++ {
		for _, cmd := range []string{"G91", retract, "G90"} {
			if _, stepErr = s.commandRetry(ctx, cmd); stepErr != nil {
				break
			}
		}
		if stepErr == nil && i < cfg.Steps-1 {
			stepErr = sleepCtx(ctx, cfg.StepPause)
		}
	}

	// Cancellation must still let the heater go off.
	coolCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.CoolDown(coolCtx); err != nil && stepErr == nil {
		return heat, err
	}
	if stepErr != nil {
		return heat, stepErr
	}
	s.log.Info().Float64("retracted_mm", float64(cfg.Steps)*cfg.StepLength).Msg("Filament unloaded")
	return heat, nil
}

package printer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/john/beeprint/gcode"
)

// Stage names a step of a print workflow.
type Stage string

const (
	StageScan     Stage = "scan"
	StageConnect  Stage = "connect"
	StageFirmware Stage = "firmware"
	StageStatus   Stage = "status"
	StageTransfer Stage = "transfer"
	StageHeat     Stage = "heat"
	StageStart    Stage = "start"
	StageHome     Stage = "home"
	StageStream   Stage = "stream"
)

// PrintRequest describes one print.
type PrintRequest struct {
	Path        string
	NamePolicy  NamePolicy
	FixedName   string
	Header      bool
	Scan        gcode.ScanOptions
	HeatTimeout time.Duration
}

// Hooks receive progress. Any of them may be nil.
type Hooks struct {
	OnStage       func(stage Stage)
	OnTransfer    func(percent float64)
	OnTemperature func(temp float64)
	OnStream      func(p StreamProgress)
}

func (h Hooks) stage(s Stage) {
	if h.OnStage != nil {
		h.OnStage(s)
	}
}

// PrintReport is everything a print run learned. It is filled in as far
// as the run got, also when an error is returned.
type PrintReport struct {
	Source       string
	Meta         gcode.Metadata
	DeviceName   DeviceFilename
	Reconnected  bool
	ShutdownSeen bool
	TransferTime time.Duration
	Heat         HeatResult
	Outcome      PrintOutcome
	Warnings     []string
}

// PrintFile runs the full SD print: scan the file, connect, make sure the
// device is in firmware and not latched in shutdown, transfer, heat, and
// start. The file is read before the device is touched. An unreached
// temperature or an unconfirmed start become warnings, not errors.
func PrintFile(ctx context.Context, s *Session, req PrintRequest, hooks Hooks) (PrintReport, error) {
	rep := PrintReport{Source: req.Path}

	hooks.stage(StageScan)
	meta, data, err := readSource(req.Path, req.Scan)
	if err != nil {
		return rep, err
	}
	rep.Meta = meta
	rep.Warnings = append(rep.Warnings, meta.Warnings...)
	rep.DeviceName = req.NamePolicy.DeviceName(req.Path, req.FixedName)

	if err := prepare(ctx, s, &rep, hooks); err != nil {
		return rep, err
	}

	hooks.stage(StageTransfer)
	var header *gcode.Metadata
	if req.Header {
		header = &meta
	}
	tr, err := s.BeginTransfer(ctx, NewTransferJob(req.Path, rep.DeviceName, data, header))
	if err != nil {
		return rep, err
	}
	if err := watchTransfer(ctx, tr, s.cfg.TransferPoll, hooks.OnTransfer); err != nil {
		return rep, err
	}
	rep.TransferTime = tr.Duration()

	hooks.stage(StageHeat)
	heat, err := s.HeatTo(ctx, meta.TargetTemperature, req.HeatTimeout, hooks.OnTemperature)
	rep.Heat = heat
	if err != nil {
		return rep, err
	}
	if !heat.Reached {
		rep.Warnings = append(rep.Warnings,
			fmt.Sprintf("nozzle at %.1f, target %.0f not reached within %s", heat.FinalTemp, heat.Target, req.HeatTimeout))
	}

	hooks.stage(StageStart)
	outcome, err := s.StartPrint(ctx, rep.DeviceName)
	rep.Outcome = outcome
	if err != nil {
		return rep, err
	}
	if !outcome.Confirmed {
		rep.Warnings = append(rep.Warnings, outcome.Err().Error())
	}
	return rep, nil
}

// StreamPrint prints by sending the file line by line over USB instead of
// from the SD card.
func StreamPrint(ctx context.Context, s *Session, req PrintRequest, cfg StreamConfig, hooks Hooks) (PrintReport, StreamResult, error) {
	rep := PrintReport{Source: req.Path}

	hooks.stage(StageScan)
	meta, data, err := readSource(req.Path, req.Scan)
	if err != nil {
		return rep, StreamResult{}, err
	}
	rep.Meta = meta
	rep.Warnings = append(rep.Warnings, meta.Warnings...)

	if err := prepare(ctx, s, &rep, hooks); err != nil {
		return rep, StreamResult{}, err
	}

	hooks.stage(StageHome)
	if err := s.Home(ctx); err != nil {
		return rep, StreamResult{}, err
	}

	hooks.stage(StageHeat)
	heat, err := s.HeatTo(ctx, meta.TargetTemperature, req.HeatTimeout, hooks.OnTemperature)
	rep.Heat = heat
	if err != nil {
		return rep, StreamResult{}, err
	}
	if !heat.Reached {
		rep.Warnings = append(rep.Warnings,
			fmt.Sprintf("nozzle at %.1f, target %.0f not reached within %s", heat.FinalTemp, heat.Target, req.HeatTimeout))
	}

	hooks.stage(StageStream)
	res, err := s.StreamFile(ctx, data, cfg, hooks.OnStream)
	if res.Errors > 0 {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%d lines drew an error reply", res.Errors))
	}
	return rep, res, err
}

// readSource scans and reads the file. Both fail with gcode.ErrRead.
func readSource(path string, opts gcode.ScanOptions) (gcode.Metadata, []byte, error) {
	meta, err := gcode.ScanWith(path, opts)
	if err != nil {
		return meta, nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, nil, fmt.Errorf("%w: %w", gcode.ErrRead, err)
	}
	return meta, data, nil
}

// prepare connects, switches to firmware and clears a shutdown latch.
func prepare(ctx context.Context, s *Session, rep *PrintReport, hooks Hooks) error {
	hooks.stage(StageConnect)
	if err := s.Open(ctx); err != nil {
		return err
	}

	hooks.stage(StageFirmware)
	reconnected, err := s.SwitchToFirmware(ctx)
	rep.Reconnected = reconnected
	if err != nil {
		return err
	}

	hooks.stage(StageStatus)
	sample := s.Poll(ctx)
	if sample.Status == StatusShutdown {
		rep.ShutdownSeen = true
		if err := s.ClearShutdownLatch(ctx); err != nil {
			return err
		}
	}
	return nil
}

// watchTransfer polls the handle until the transfer ends. Absent progress
// readings are skipped.
func watchTransfer(ctx context.Context, tr *Transfer, every time.Duration, report func(float64)) error {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	last := -1.0
	emit := func() {
		if p, ok := tr.CompletionPercent(); ok && p != last {
			last = p
			if report != nil {
				report(p)
			}
		}
	}

	for tr.IsTransferring() {
		emit()
		select {
		case <-ticker.C:
		case <-tr.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	emit()
	return tr.Err()
}

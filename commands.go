package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"

	"github.com/john/beeprint/files"
	"github.com/john/beeprint/history"
	"github.com/john/beeprint/hotfolder"
	"github.com/john/beeprint/monitor"
	"github.com/john/beeprint/printer"
)

var errUsage = errors.New("usage error")

func usageErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{errUsage}, args...)...)
}

// app carries what every command needs.
type app struct {
	cfg     *Config
	history *history.Manager // nil when disabled
	files   *files.Manager   // nil when no library is configured
	server  *monitor.Server  // nil when the status feed is disabled
	state   *printer.State
}

func run(ctx context.Context, cfg *Config, cmd string, args []string) error {
	a := &app{cfg: cfg, state: printer.NewState()}

	switch cmd {
	case "print":
		return a.withFile(ctx, args, a.print)
	case "stream":
		return a.withFile(ctx, args, a.stream)
	case "monitor":
		return a.monitor(ctx)
	case "status":
		return a.status(ctx)
	case "heat":
		if len(args) != 1 {
			return usageErrorf("heat takes a temperature")
		}
		temp, err := strconv.ParseFloat(args[0], 64)
		if err != nil || temp < 0 {
			return usageErrorf("bad temperature %q", args[0])
		}
		return a.heat(ctx, temp)
	case "load":
		return a.filament(ctx, true)
	case "unload":
		return a.filament(ctx, false)
	case "calibrate":
		return a.calibrate(ctx)
	case "stop":
		return a.stop(ctx)
	case "list":
		return a.list()
	case "files":
		return a.listFiles()
	case "watch":
		dir := ""
		if len(args) > 0 {
			dir = args[0]
		}
		return a.watch(ctx, dir)
	default:
		return usageErrorf("unknown command %q", cmd)
	}
}

// withFile resolves a file argument against the local library.
func (a *app) withFile(ctx context.Context, args []string, fn func(context.Context, string) error) error {
	if len(args) != 1 {
		return usageErrorf("expected exactly one G-code file")
	}
	path := args[0]
	if fm, err := a.fileManager(); err == nil {
		if resolved, err := fm.Resolve(path); err == nil {
			path = resolved
		}
	}
	return fn(ctx, path)
}

func (a *app) session() *printer.Session {
	return printer.NewSession(printer.SerialDialer(a.cfg.Dialer()), a.cfg.SessionConfig())
}

func (a *app) historyManager() *history.Manager {
	if a.history != nil || a.cfg.History.DataDir == "" {
		return a.history
	}
	// startServer subscribes the status feed to changes.
	m, err := history.NewManager(a.cfg.History.DataDir, nil)
	if err != nil {
		log.Warn().Err(err).Msg("History disabled")
		return nil
	}
	a.history = m
	return m
}

func (a *app) fileManager() (*files.Manager, error) {
	if a.files != nil {
		return a.files, nil
	}
	fm, err := files.NewManager(a.cfg.Files.GCodeDir, a.cfg.Files.DoneDir)
	if err != nil {
		return nil, err
	}
	a.files = fm
	return fm, nil
}

// startServer brings up the status feed when monitor.listen is set.
func (a *app) startServer(ctx context.Context) {
	if a.cfg.Monitor.Listen == "" || a.server != nil {
		return
	}
	fm, _ := a.fileManager()
	a.server = monitor.NewServer(a.cfg.Monitor.Listen, a.state, a.historyManager(), fm)

	go func() {
		if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Status server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.server.Shutdown(shutdownCtx)
	}()
}

// publish feeds a sample to the state holder and any WebSocket clients.
func (a *app) publish(s *printer.Session, sample printer.StatusSample) {
	if a.server != nil {
		a.server.Publish(s, sample)
		return
	}
	a.state.Update(s, sample)
}

func (a *app) print(ctx context.Context, path string) error {
	s := a.session()
	defer s.Close()
	_, err := a.printOnce(ctx, s, path)
	return err
}

// printOnce runs one SD print and journals it.
func (a *app) printOnce(ctx context.Context, s *printer.Session, path string) (printer.PrintReport, error) {
	hist := a.historyManager()
	var jobID string
	if hist != nil {
		meta := history.JobMeta{}
		if info, err := os.Stat(path); err == nil {
			meta.Size = info.Size()
		}
		jobID = hist.StartJob(path, history.KindSD, meta).JobID
	}

	bar := newTransferBar()
	hooks := printer.Hooks{
		OnStage: func(st printer.Stage) {
			log.Info().Str("stage", string(st)).Msg("Print stage")
		},
		OnTransfer: func(p float64) {
			bar.Set(int(p))
		},
		OnTemperature: func(t float64) {
			log.Info().Float64("nozzle", t).Msg("Heating")
		},
	}

	rep, err := printer.PrintFile(ctx, s, a.cfg.PrintRequest(path), hooks)
	bar.Finish()
	a.state.SetTarget(rep.Meta.TargetTemperature)
	a.state.SetFileName(rep.DeviceName.Listing())

	for _, w := range rep.Warnings {
		log.Warn().Str("file", path).Msg(w)
	}
	if hist != nil {
		a.journal(hist, jobID, rep, err)
	}
	if err != nil {
		return rep, err
	}

	printReport(rep)
	return rep, nil
}

func (a *app) journal(hist *history.Manager, jobID string, rep printer.PrintReport, err error) {
	out := history.Outcome{
		DeviceName:   rep.DeviceName.Listing(),
		Strategy:     rep.Outcome.Strategy,
		TransferTime: rep.TransferTime,
		Meta: &history.JobMeta{
			Lines:             rep.Meta.Lines,
			TargetTemperature: rep.Meta.TargetTemperature,
			EstimatedTime:     rep.Meta.EstimatedTime,
		},
	}
	if info, statErr := os.Stat(rep.Source); statErr == nil {
		out.Meta.Size = info.Size()
	}
	switch {
	case errors.Is(err, context.Canceled):
		out.Status = history.StatusCancelled
	case err != nil:
		out.Status = history.StatusError
		out.Message = err.Error()
	case rep.Outcome.Confirmed:
		out.Status = history.StatusStarted
	default:
		out.Status = history.StatusUnconfirmed
		out.Message = rep.Outcome.Err().Error()
	}
	if _, jerr := hist.FinishJob(jobID, out); jerr != nil {
		log.Warn().Err(jerr).Msg("Journal update failed")
	}
}

func printReport(rep printer.PrintReport) {
	fmt.Printf("File:        %s\n", rep.Source)
	fmt.Printf("Device name: %s\n", rep.DeviceName.Listing())
	fmt.Printf("Target:      %.0f C (reached: %v, final %.1f C)\n", rep.Meta.TargetTemperature, rep.Heat.Reached, rep.Heat.FinalTemp)
	fmt.Printf("Transfer:    %s\n", rep.TransferTime.Round(time.Millisecond))
	if rep.Outcome.Confirmed {
		fmt.Printf("Print started (strategy %s, confirmed by %s)\n", rep.Outcome.Strategy, rep.Outcome.Signal)
		return
	}
	fmt.Printf("Print start NOT confirmed after %d strategies; last status %q. Check the printer.\n",
		len(rep.Outcome.Attempts), rep.Outcome.LastStatus)
}

func newTransferBar() *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Transferring"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionClearOnFinish(),
	)
}

func (a *app) stream(ctx context.Context, path string) error {
	s := a.session()
	defer s.Close()

	hist := a.historyManager()
	var jobID string
	if hist != nil {
		jobID = hist.StartJob(path, history.KindStream, history.JobMeta{}).JobID
	}

	var bar *progressbar.ProgressBar
	hooks := printer.Hooks{
		OnStage: func(st printer.Stage) {
			log.Info().Str("stage", string(st)).Msg("Stream stage")
		},
		OnTemperature: func(t float64) {
			log.Info().Float64("nozzle", t).Msg("Heating")
		},
		OnStream: func(p printer.StreamProgress) {
			if bar == nil {
				bar = progressbar.NewOptions(p.Total,
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionSetDescription("Streaming"),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetItsString("lines"),
				)
			}
			bar.Set(p.Sent)
		},
	}

	rep, res, err := printer.StreamPrint(ctx, s, a.cfg.PrintRequest(path), printer.StreamConfig{}, hooks)
	if bar != nil {
		bar.Finish()
	}
	for _, w := range rep.Warnings {
		log.Warn().Str("file", path).Msg(w)
	}

	if hist != nil {
		out := history.Outcome{
			Message: fmt.Sprintf("%d/%d lines, %d errors", res.Sent, res.Total, res.Errors),
			Meta: &history.JobMeta{
				Lines:             rep.Meta.Lines,
				TargetTemperature: rep.Meta.TargetTemperature,
				EstimatedTime:     rep.Meta.EstimatedTime,
			},
		}
		switch {
		case res.Cancelled:
			out.Status = history.StatusCancelled
		case err != nil:
			out.Status = history.StatusError
			out.Message = err.Error()
		default:
			out.Status = history.StatusCompleted
		}
		if _, jerr := hist.FinishJob(jobID, out); jerr != nil {
			log.Warn().Err(jerr).Msg("Journal update failed")
		}
	}
	if err != nil {
		return err
	}

	fmt.Printf("Streamed %d/%d lines in %s, %d error replies\n", res.Sent, res.Total, res.Elapsed.Round(time.Second), res.Errors)
	return nil
}

func (a *app) monitor(ctx context.Context) error {
	a.startServer(ctx)

	s := a.session()
	defer s.Close()
	if err := s.Open(ctx); err != nil {
		return err
	}

	res := a.follow(ctx, s, false)
	fmt.Printf("Monitor stopped (%s) after %d samples, last status %s\n", res.Reason, res.Samples, res.Last.Status)
	if res.Reason == printer.StopShutdown {
		return fmt.Errorf("printer reported shutdown: %s", res.Last.Raw)
	}
	return nil
}

// follow runs the passive monitor, printing each changed sample.
func (a *app) follow(ctx context.Context, s *printer.Session, stopWhenIdle bool) printer.MonitorResult {
	cfg := printer.MonitorConfig{
		Interval:     a.cfg.Monitor.Interval,
		MaxUnknown:   a.cfg.Monitor.MaxUnknown,
		StopWhenIdle: stopWhenIdle,
		Progress:     true,
	}
	m := printer.NewMonitor(s, cfg, nil, func(sample printer.StatusSample) {
		a.publish(s, sample)
		printSample(sample)
	})
	return m.Run(ctx)
}

func printSample(sample printer.StatusSample) {
	line := fmt.Sprintf("[%s] %-12s", sample.Time.Format(time.TimeOnly), sample.Status)
	if sample.HasTemp {
		line += fmt.Sprintf(" nozzle %5.1f C", sample.NozzleTemp)
	}
	if p := sample.Progress; p != nil {
		line += fmt.Sprintf("  %5.1f%%  line %d/%d  elapsed %s  remaining %s",
			p.Percent(), p.CurrentLine, p.TotalLines,
			p.Elapsed().Round(time.Second), p.Remaining().Round(time.Second))
	}
	fmt.Println(line)
}

func (a *app) status(ctx context.Context) error {
	s := a.session()
	defer s.Close()
	if err := s.Open(ctx); err != nil {
		return err
	}

	fmt.Printf("Session:     %s\n", s.ID())
	fmt.Printf("Mode:        %s\n", s.Mode())
	sample := s.Poll(ctx)
	fmt.Printf("Status:      %s\n", sample.Status)
	if sample.HasTemp {
		fmt.Printf("Nozzle:      %.1f C\n", sample.NozzleTemp)
	} else {
		fmt.Println("Nozzle:      unknown")
	}
	fmt.Printf("Raw status:  %q\n", sample.Raw)

	if s.Mode() != printer.ModeFirmware {
		return nil
	}
	if vars, ok := s.PollProgress(ctx); ok {
		fmt.Printf("Progress:    %.1f%% (line %d/%d)\n", vars.Percent(), vars.CurrentLine, vars.TotalLines)
	}
	names, err := s.FileList(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("File list unavailable")
		return nil
	}
	fmt.Printf("SD files:    %d\n", len(names))
	for _, n := range names {
		fmt.Printf("  %s\n", n)
	}
	return nil
}

// firmwareSession opens a session and brings the device into firmware.
func (a *app) firmwareSession(ctx context.Context) (*printer.Session, error) {
	s := a.session()
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	if _, err := s.SwitchToFirmware(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func reportTemp(target float64) func(float64) {
	return func(t float64) {
		fmt.Printf("Nozzle %.1f C / %.0f C\n", t, target)
	}
}

func (a *app) heat(ctx context.Context, target float64) error {
	s, err := a.firmwareSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.HeatTo(ctx, target, a.cfg.Heating.Timeout, reportTemp(target))
	if err != nil {
		return err
	}
	if !res.Reached {
		log.Warn().Float64("nozzle", res.FinalTemp).Float64("target", target).Msg("Target not reached before timeout")
		return nil
	}
	fmt.Printf("Reached %.1f C in %s\n", res.FinalTemp, res.Elapsed.Round(time.Second))
	return nil
}

func (a *app) filament(ctx context.Context, load bool) error {
	s, err := a.firmwareSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	cfg := printer.DefaultFilamentConfig()
	if load {
		_, err = s.LoadFilament(ctx, cfg, reportTemp(cfg.Temperature))
	} else {
		_, err = s.UnloadFilament(ctx, cfg, reportTemp(cfg.Temperature))
	}
	if err != nil {
		return err
	}
	fmt.Println("Done.")
	return nil
}

func (a *app) calibrate(ctx context.Context) error {
	s, err := a.firmwareSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	c, err := s.BeginCalibration(ctx)
	if err != nil {
		return err
	}

	in := bufio.NewScanner(os.Stdin)
	prompt := func(msg string) (string, bool) {
		fmt.Print(msg)
		if !in.Scan() {
			return "", false
		}
		return strings.TrimSpace(in.Text()), true
	}

	fmt.Println("Adjust the nozzle height: u/U up 0.05/0.5 mm, d/D down 0.05/0.5 mm, n next, q quit")
	steps := map[string]float64{"u": 0.05, "U": 0.5, "d": -0.05, "D": -0.5}
	for c.Point() == printer.PointNozzleHeight {
		key, ok := prompt("Command [u/U/d/D/n/q]: ")
		if !ok || key == "q" {
			return c.Abort(context.WithoutCancel(ctx))
		}
		if key == "n" {
			if _, err := c.Next(ctx); err != nil {
				return err
			}
			break
		}
		dz, known := steps[key]
		if !known {
			continue
		}
		if err := c.Nudge(ctx, dz); err != nil {
			return err
		}
	}

	for c.Point() != printer.PointFinished {
		fmt.Printf("Adjust the %s until the nozzle just touches the bed.\n", c.Point())
		if _, ok := prompt("Press ENTER when done..."); !ok {
			return c.Abort(context.WithoutCancel(ctx))
		}
		if _, err := c.Next(ctx); err != nil {
			return err
		}
	}
	fmt.Println("Calibration complete.")
	return s.Home(ctx)
}

func (a *app) stop(ctx context.Context) error {
	s := a.session()
	defer s.Close()
	if err := s.Open(ctx); err != nil {
		return err
	}
	if err := s.EmergencyStop(ctx); err != nil {
		return err
	}
	fmt.Println("Emergency stop sent.")
	return nil
}

func (a *app) list() error {
	devices, err := a.cfg.Dialer().Devices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No printers found.")
		return nil
	}
	fmt.Printf("Found %d printer(s):\n", len(devices))
	for i, d := range devices {
		fmt.Printf("  %d. %s\n", i+1, d)
	}
	return nil
}

func (a *app) listFiles() error {
	fm, err := a.fileManager()
	if err != nil {
		return err
	}
	list, err := fm.List(true)
	if err != nil {
		return err
	}
	fmt.Printf("%s (%d files)\n", fm.Dir(), len(list))
	for _, f := range list {
		line := fmt.Sprintf("  %-40s %8d B  %s", f.Path, f.Size, f.Modified.Format(time.DateTime))
		if f.Meta != nil {
			line += fmt.Sprintf("  %3.0f C  ~%d min", f.Meta.TargetTemperature, f.Meta.EstimatedMinutes())
		}
		fmt.Println(line)
	}
	return nil
}

func (a *app) watch(ctx context.Context, dir string) error {
	fm, err := a.fileManager()
	if err != nil {
		return err
	}
	if dir == "" {
		dir = fm.Dir()
	}
	a.startServer(ctx)

	s := a.session()
	defer s.Close()

	handler := func(ctx context.Context, path string) error {
		rep, err := a.printOnce(ctx, s, path)
		if err != nil {
			return err
		}
		if rep.Outcome.Confirmed {
			// One job at a time: wait for this print to end.
			res := a.follow(ctx, s, true)
			log.Info().Str("file", path).Str("reason", res.Reason).Msg("Print ended")
		}
		dest, err := fm.Archive(path)
		if err != nil {
			return err
		}
		log.Info().Str("file", path).Str("archived", dest).Msg("Hot folder job done")
		return nil
	}

	return hotfolder.New(dir, hotfolder.DefaultDebounce, handler).Run(ctx)
}

package printer

import (
	"context"
	"fmt"
	"strings"

	"github.com/john/beeprint/bee"
)

const opPrintStart = "print-start"

// Strategy is one dialect of "start printing this SD file". Commands is a
// pure function of the file name; running and confirming the commands is
// the sequencer's job.
type Strategy struct {
	Name     string
	Commands func(name DeviceFilename) []string
}

// Known start dialects.
var (
	// StrategyStart is the single-argument start command.
	StrategyStart = Strategy{
		Name: "start",
		Commands: func(n DeviceFilename) []string {
			return []string{bee.StartPrintFile(n.Argument())}
		},
	}

	// StrategySelectStart selects the file, then starts the selected file.
	StrategySelectStart = Strategy{
		Name: "select-start",
		Commands: func(n DeviceFilename) []string {
			return []string{bee.SelectFile(n.Argument()), bee.CmdStartSDPrint}
		},
	}

	// StrategyReinitStart reinitializes the card before the single-argument
	// start.
	StrategyReinitStart = Strategy{
		Name: "reinit-start",
		Commands: func(n DeviceFilename) []string {
			return []string{bee.CmdInitSD, bee.StartPrintFile(n.Argument())}
		},
	}

	// StrategySelectM33 selects the file and issues a bare start command.
	// Some firmware builds accept only this form.
	StrategySelectM33 = Strategy{
		Name: "select-m33",
		Commands: func(n DeviceFilename) []string {
			return []string{bee.SelectFile(n.Argument()), bee.CmdStartPrint}
		},
	}
)

// DefaultStrategies is the fallback chain, tried in order.
func DefaultStrategies() []Strategy {
	return []Strategy{StrategyStart, StrategySelectStart, StrategyReinitStart}
}

// StrategyByName looks up a known strategy.
func StrategyByName(name string) (Strategy, bool) {
	for _, st := range []Strategy{StrategyStart, StrategySelectStart, StrategyReinitStart, StrategySelectM33} {
		if st.Name == name {
			return st, true
		}
	}
	return Strategy{}, false
}

// StrategiesByName resolves an ordered list of names.
func StrategiesByName(names []string) ([]Strategy, error) {
	out := make([]Strategy, 0, len(names))
	for _, n := range names {
		st, ok := StrategyByName(strings.TrimSpace(n))
		if !ok {
			return nil, fmt.Errorf("unknown start strategy %q", n)
		}
		out = append(out, st)
	}
	return out, nil
}

// Verdict is what probing concluded about one attempt.
type Verdict int

const (
	VerdictUnknown Verdict = iota // not probed (the device rejected a command)
	VerdictConfirmed
	VerdictNotConfirmed
)

func (v Verdict) String() string {
	switch v {
	case VerdictConfirmed:
		return "confirmed"
	case VerdictNotConfirmed:
		return "not-confirmed"
	default:
		return "unknown"
	}
}

// PrintAttempt records one strategy's run.
type PrintAttempt struct {
	Strategy   string
	Responses  []bee.Response
	Confidence bee.Confidence // weakest acknowledgement among the responses
	Verdict    Verdict
	Signal     string
	Probes     int
	LastStatus string
}

// PrintOutcome is the result of StartPrint. An unconfirmed outcome is not
// an error: the print may have started on a device that answers status
// queries late.
type PrintOutcome struct {
	DeviceName DeviceFilename
	Attempts   []PrintAttempt
	Confirmed  bool
	Strategy   string
	Signal     string
	LastStatus string
}

// Err returns ErrPrintNotConfirmed with diagnostics when the outcome is
// unconfirmed.
func (o PrintOutcome) Err() error {
	if o.Confirmed {
		return nil
	}
	return fmt.Errorf("%w after %d strategies, last status %q", ErrPrintNotConfirmed, len(o.Attempts), o.LastStatus)
}

// StartPrint runs the configured strategies in order until one is
// confirmed by an out-of-band probe. ProbeRounds bounds the probes of the
// whole chain and is split evenly over the strategies still to run. A
// failed round-trip stops the sequence and is returned; an unconfirmed
// sequence is not an error.
func (s *Session) StartPrint(ctx context.Context, name DeviceFilename) (PrintOutcome, error) {
	out := PrintOutcome{}
	ctx, release, err := s.hold(ctx, opPrintStart)
	if err != nil {
		return out, err
	}
	defer release()

	resolved, _ := s.resolveDeviceName(ctx, name)
	out.DeviceName = resolved

	strategies := s.cfg.Sequencer.Strategies
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	plan := probePlan{
		Interval:  s.cfg.Sequencer.ProbeInterval,
		WaitFirst: true,
	}
	budget := s.cfg.Sequencer.ProbeRounds
	if budget <= 0 {
		budget = 1
	}

	for i, st := range strategies {
		if budget == 0 {
			s.log.Info().Int("skipped", len(strategies)-i).Msg("Probe rounds used up")
			break
		}
		attempt := PrintAttempt{Strategy: st.Name, Confidence: bee.ConfidenceHigh}
		rejected := false

		for i, cmd := range st.Commands(resolved) {
			if i > 0 {
				if err := sleepCtx(ctx, s.cfg.Sequencer.CommandSettle); err != nil {
					out.Attempts = append(out.Attempts, attempt)
					return out, err
				}
			}
			resp, err := s.commandRetry(ctx, cmd)
			if err != nil {
				out.Attempts = append(out.Attempts, attempt)
				return out, fmt.Errorf("strategy %s: %w", st.Name, err)
			}
			attempt.Responses = append(attempt.Responses, resp)
			if c := resp.Confidence(); c < attempt.Confidence {
				attempt.Confidence = c
			}
			if bee.LooksLikeError(resp.Text()) {
				s.log.Info().Str("strategy", st.Name).Str("cmd", cmd).Str("reply", resp.Text()).Msg("Start command rejected")
				rejected = true
				break
			}
		}

		if !rejected {
			left := len(strategies) - i
			plan.Rounds = (budget + left - 1) / left
			c := confirmVia(ctx, plan, s.printingSignal(), s.sessionSignal())
			budget -= c.Rounds
			attempt.Probes = c.Rounds
			attempt.LastStatus = c.Last
			attempt.Signal = c.Signal
			if c.Confirmed {
				attempt.Verdict = VerdictConfirmed
			} else {
				attempt.Verdict = VerdictNotConfirmed
			}
			if c.Last != "" {
				out.LastStatus = c.Last
			}
		}
		out.Attempts = append(out.Attempts, attempt)

		if attempt.Verdict == VerdictConfirmed {
			out.Confirmed = true
			out.Strategy = st.Name
			out.Signal = attempt.Signal
			s.setStatus(StatusPrinting)
			s.log.Info().Str("strategy", st.Name).Str("signal", attempt.Signal).
				Str("device_name", resolved.Listing()).Msg("Print started")
			return out, nil
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		s.log.Info().Str("strategy", st.Name).Str("verdict", attempt.Verdict.String()).Msg("Start strategy did not confirm")
	}

	s.log.Warn().Str("last_status", out.LastStatus).Msg("Print start not confirmed")
	return out, nil
}

// resolveDeviceName finds the file on the card. The device may truncate
// names further, so a 6-character prefix match is accepted. Without any
// match the expected name is used and the start attempt fails on its own.
func (s *Session) resolveDeviceName(ctx context.Context, want DeviceFilename) (DeviceFilename, bool) {
	names, err := s.FileList(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Cannot list device files, using expected name")
		return want, false
	}
	listing := want.Listing()
	for _, n := range names {
		if strings.EqualFold(n, listing) {
			return want, true
		}
	}
	if len(listing) >= 6 {
		prefix := listing[:6]
		for _, n := range names {
			if strings.HasPrefix(strings.ToUpper(n), prefix) {
				s.log.Info().Str("expected", listing).Str("found", n).Msg("Matched truncated device name")
				return DeviceFilename{token: n}, true
			}
		}
	}
	s.log.Warn().Str("expected", listing).Strs("files", names).Msg("File not in device listing, using expected name")
	return want, false
}

// printingSignal: the coded status says printing.
func (s *Session) printingSignal() Signal {
	return Signal{
		Name: "status",
		Check: func(ctx context.Context) (bool, string) {
			resp, err := s.Command(ctx, bee.CmdStatus)
			if err != nil {
				return false, ""
			}
			st := NormalizeStatus(resp.Text())
			if st != StatusUnknown {
				s.setStatus(st)
			}
			return st == StatusPrinting, resp.Text()
		},
	}
}

// sessionSignal: the print-session variables are being reported.
func (s *Session) sessionSignal() Signal {
	return Signal{
		Name: "session-vars",
		Check: func(ctx context.Context) (bool, string) {
			_, ok := s.PollProgress(ctx)
			return ok, ""
		},
	}
}

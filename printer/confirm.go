package printer

import (
	"context"
	"time"
)

// Signal is one independent piece of evidence that the device did what it
// was told. Check returns whether the evidence is present and the raw text
// it looked at.
type Signal struct {
	Name  string
	Check func(ctx context.Context) (ok bool, raw string)
}

// probePlan bounds a confirmation loop. Rounds <= 0 means no round limit,
// in which case Timeout must be set.
type probePlan struct {
	Rounds   int
	Interval time.Duration
	Timeout  time.Duration
	// WaitFirst sleeps before the first probe too.
	WaitFirst bool
}

// Confirmation is the result of confirmVia.
type Confirmation struct {
	Confirmed bool
	Signal    string // name of the signal that confirmed
	Rounds    int    // probe rounds performed
	Last      string // raw text of the last check
}

// confirmVia probes the signals, ORed, once per round until one holds, the
// rounds run out, the timeout passes, or ctx is done. It never sleeps after
// the final round.
func confirmVia(ctx context.Context, plan probePlan, signals ...Signal) Confirmation {
	var c Confirmation
	var deadline time.Time
	if plan.Timeout > 0 {
		deadline = time.Now().Add(plan.Timeout)
	}

	for round := 1; plan.Rounds <= 0 || round <= plan.Rounds; round++ {
		if round > 1 || plan.WaitFirst {
			if !deadline.IsZero() && time.Now().Add(plan.Interval).After(deadline) {
				return c
			}
			if sleepCtx(ctx, plan.Interval) != nil {
				return c
			}
		}
		if ctx.Err() != nil {
			return c
		}

		c.Rounds = round
		for _, sig := range signals {
			ok, raw := sig.Check(ctx)
			if raw != "" {
				c.Last = raw
			}
			if ok {
				c.Confirmed = true
				c.Signal = sig.Name
				return c
			}
		}

		if plan.Rounds <= 0 && deadline.IsZero() {
			// Unbounded plan without a timeout: probe once.
			return c
		}
	}
	return c
}

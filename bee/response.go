package bee

import "strings"

// Confidence grades how far a raw response can be trusted as an
// acknowledgement of the command that produced it.
type Confidence int

const (
	// ConfidenceNone: no reply, or a reply that looks like an error.
	ConfidenceNone Confidence = iota
	// ConfidenceLow: some text came back but the "ok" terminator did not.
	ConfidenceLow
	// ConfidenceHigh: an "ok"-terminated reply with no error marker.
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceLow:
		return "low"
	case ConfidenceHigh:
		return "high"
	default:
		return "none"
	}
}

// Response is the text the device sent back for one command.
type Response struct {
	Command    string
	Lines      []string
	Terminated bool // an "ok" line was seen
}

// Text joins the response lines.
func (r Response) Text() string {
	return strings.Join(r.Lines, "\n")
}

// Empty reports whether the device said nothing at all.
func (r Response) Empty() bool {
	for _, l := range r.Lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}

// Confidence applies the error heuristic and the terminator check.
func (r Response) Confidence() Confidence {
	switch {
	case LooksLikeError(r.Text()):
		return ConfidenceNone
	case r.Terminated:
		return ConfidenceHigh
	case !r.Empty():
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}

// LooksLikeError is the single place where a reply is judged to be a
// failure. The firmware has no error codes, so this is a case-insensitive
// substring match on "error"; it can misfire on file names containing the
// word.
func LooksLikeError(text string) bool {
	return strings.Contains(strings.ToLower(text), "error")
}

func isTerminator(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "ok")
}

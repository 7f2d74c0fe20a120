package bee

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	statusCodeRe  = regexp.MustCompile(`(?i)\bs:(\d+)`)
	sessionVarsRe = regexp.MustCompile(`(?:^|\s)([ABCD])(\d+)`)
)

// Terse status codes reported by M625 as "s:<code>".
const (
	CodeReady        = 3
	CodeMoving       = 4
	CodePrinting     = 5
	CodeTransferring = 6
	CodePaused       = 7
	CodeShutdown     = 9
)

// ParseStatusCode extracts the numeric code from an "s:<n>" status reply.
func ParseStatusCode(text string) (int, bool) {
	m := statusCodeRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsBootloaderReply reports whether text is the bootloader's answer to a
// firmware-only command.
func IsBootloaderReply(text string) bool {
	return strings.Contains(strings.ToLower(text), "bad m-code")
}

// Temperatures is the parsed form of an M105 reply.
type Temperatures struct {
	Nozzle       float64
	NozzleTarget float64
	Bed          float64
	BedTarget    float64
	HasNozzle    bool
	HasBed       bool
}

// ParseTemperatures parses an M105 reply. Typical forms:
//
//	"ok T:200.0 /210.0 B:60.0 /60.0"
//	"T:25.3 B:0.0"
//	"T:180.00 /200 @:127"
func ParseTemperatures(resp string) Temperatures {
	var t Temperatures
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "ok")
		parts := strings.Fields(line)

		for i := 0; i < len(parts); i++ {
			part := parts[i]
			if !strings.Contains(part, ":") {
				continue
			}
			kv := strings.SplitN(part, ":", 2)
			key := kv[0]
			valStr := kv[1]

			// "T:200.0/210.0" without a space
			var targetStr string
			if idx := strings.Index(valStr, "/"); idx >= 0 {
				targetStr = valStr[idx+1:]
				valStr = valStr[:idx]
			}
			current, err := strconv.ParseFloat(valStr, 64)
			if err != nil {
				continue
			}
			if targetStr == "" && i+1 < len(parts) && strings.HasPrefix(parts[i+1], "/") {
				targetStr = strings.TrimPrefix(parts[i+1], "/")
				i++
			}
			target, _ := strconv.ParseFloat(targetStr, 64)

			switch key {
			case "T", "T0":
				if !t.HasNozzle {
					t.Nozzle, t.NozzleTarget, t.HasNozzle = current, target, true
				}
			case "B":
				if !t.HasBed {
					t.Bed, t.BedTarget, t.HasBed = current, target, true
				}
			}
		}
	}
	return t
}

// SessionVars are the print-session variables reported by M32 while an
// SD print is running.
type SessionVars struct {
	EstimatedMinutes int // A
	ElapsedMs        int // B
	TotalLines       int // C
	CurrentLine      int // D
}

// ParseSessionVars parses an M32 reply such as "A12 B34000 C5000 D250".
// It reports false when none of the four fields is present, which is how
// the device says no print session is active.
func ParseSessionVars(resp string) (SessionVars, bool) {
	var v SessionVars
	found := false
	for _, line := range strings.Split(resp, "\n") {
		for _, m := range sessionVarsRe.FindAllStringSubmatch(line, -1) {
			n, err := strconv.Atoi(m[2])
			if err != nil {
				continue
			}
			found = true
			switch m[1] {
			case "A":
				v.EstimatedMinutes = n
			case "B":
				v.ElapsedMs = n
			case "C":
				v.TotalLines = n
			case "D":
				v.CurrentLine = n
			}
		}
	}
	return v, found
}

// Percent is the line-based progress, 0 when the total is unknown.
func (v SessionVars) Percent() float64 {
	if v.TotalLines <= 0 {
		return 0
	}
	p := float64(v.CurrentLine) / float64(v.TotalLines) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// Elapsed is the time the device has spent printing.
func (v SessionVars) Elapsed() time.Duration {
	return time.Duration(v.ElapsedMs) * time.Millisecond
}

// Remaining estimates the time left from the device's own estimate, or
// from the line rate when the device has none.
func (v SessionVars) Remaining() time.Duration {
	if v.EstimatedMinutes > 0 {
		left := time.Duration(v.EstimatedMinutes)*time.Minute - v.Elapsed()
		if left < 0 {
			return 0
		}
		return left
	}
	if v.CurrentLine <= 0 || v.TotalLines <= v.CurrentLine {
		return 0
	}
	perLine := v.Elapsed() / time.Duration(v.CurrentLine)
	return perLine * time.Duration(v.TotalLines-v.CurrentLine)
}

// ParseFileList extracts file names from an M20 reply. Names are returned
// as the device lists them (uppercase).
func ParseFileList(resp string) []string {
	var names []string
	inList := false
	sawMarkers := strings.Contains(strings.ToLower(resp), "begin file list")
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "begin file list"):
			inList = true
			continue
		case strings.HasPrefix(lower, "end file list"):
			inList = false
			continue
		}
		if sawMarkers && !inList {
			continue
		}
		if line == "" || isTerminator(line) || LooksLikeError(line) {
			continue
		}
		// Some firmware appends the size after the name.
		name := strings.Fields(line)[0]
		names = append(names, name)
	}
	return names
}

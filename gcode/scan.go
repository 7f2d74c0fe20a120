// Package gcode extracts print metadata from sliced G-code and builds the
// small header the printer reads before a job.
package gcode

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	gcodeparser "github.com/256dpi/gcode"
	"github.com/rs/zerolog/log"
)

// ErrRead is returned when the source file cannot be opened or read.
var ErrRead = errors.New("cannot read G-code file")

const (
	// DefaultTemperature is used when the file never sets a plausible
	// nozzle temperature.
	DefaultTemperature = 200

	// MinPlausibleTemperature filters "heater off" and standby commands.
	MinPlausibleTemperature = 150

	// DefaultSecondsPerLine is the rough per-command cost used when the
	// slicer left no time estimate.
	DefaultSecondsPerLine = 0.05
)

// Metadata is what the printer workflow needs to know about a file.
type Metadata struct {
	TargetTemperature  float64
	TemperatureFound   bool // false: TargetTemperature is the default
	Lines              int  // non-empty, non-comment lines
	EstimatedTime      float64
	EstimateFromSlicer bool
	Warnings           []string
}

// EstimatedMinutes rounds the time estimate up to whole minutes.
func (m Metadata) EstimatedMinutes() int {
	return int((m.EstimatedTime + 59) / 60)
}

// ScanOptions tunes the scanner. Zero values select the defaults.
type ScanOptions struct {
	DefaultTemperature float64
	SecondsPerLine     float64
}

func (o ScanOptions) withDefaults() ScanOptions {
	if o.DefaultTemperature <= 0 {
		o.DefaultTemperature = DefaultTemperature
	}
	if o.SecondsPerLine <= 0 {
		o.SecondsPerLine = DefaultSecondsPerLine
	}
	return o
}

// Scan reads path with default options.
func Scan(path string) (Metadata, error) {
	return ScanWith(path, ScanOptions{})
}

// ScanWith opens path and scans it.
func ScanWith(path string, opts ScanOptions) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %w", ErrRead, err)
	}
	defer f.Close()

	meta, err := ScanReader(f, opts)
	if err != nil {
		return Metadata{}, err
	}
	log.Debug().Str("file", path).Int("lines", meta.Lines).
		Float64("temp", meta.TargetTemperature).Bool("temp_found", meta.TemperatureFound).
		Float64("est_s", meta.EstimatedTime).Msg("gcode: scanned")
	return meta, nil
}

// ScanReader scans G-code from r. Lines that cannot be parsed are skipped;
// only a read failure is an error.
func ScanReader(r io.Reader, opts ScanOptions) (Metadata, error) {
	opts = opts.withDefaults()
	var meta Metadata

	err := eachLine(r, func(line string) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			return
		}
		if strings.HasPrefix(trimmed, ";") {
			scanComment(trimmed, &meta)
			return
		}

		code := trimmed
		if idx := strings.IndexByte(code, ';'); idx >= 0 {
			scanComment(code[idx:], &meta)
			code = strings.TrimSpace(code[:idx])
		}
		if code == "" {
			return
		}
		meta.Lines++

		if isHeatCommand(code) {
			if t, ok := heatTarget(code); ok && t >= MinPlausibleTemperature {
				meta.TargetTemperature = t
				meta.TemperatureFound = true
			}
		}
	})
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %w", ErrRead, err)
	}

	if !meta.TemperatureFound {
		meta.TargetTemperature = opts.DefaultTemperature
		meta.Warnings = append(meta.Warnings,
			fmt.Sprintf("no heating command at or above %d found, using default %.0f", MinPlausibleTemperature, opts.DefaultTemperature))
	}
	if meta.EstimatedTime == 0 {
		meta.EstimatedTime = float64(meta.Lines) * opts.SecondsPerLine
	} else {
		meta.EstimateFromSlicer = true
	}
	return meta, nil
}

// isHeatCommand matches M104 and M109, but not M1040 and the like.
func isHeatCommand(code string) bool {
	upper := strings.ToUpper(code)
	for _, c := range []string{"M104", "M109"} {
		if strings.HasPrefix(upper, c) && (len(upper) == len(c) || upper[len(c)] == ' ' || upper[len(c)] == '\t') {
			return true
		}
	}
	return false
}

// heatTarget returns the S parameter of a heating command.
func heatTarget(code string) (float64, bool) {
	if f, err := gcodeparser.ParseFile(strings.NewReader(code)); err == nil && len(f.Lines) > 0 {
		for _, c := range f.Lines[0].Codes {
			if strings.EqualFold(c.Letter, "S") {
				return c.Value, true
			}
		}
		return 0, false
	}

	// Fall back to plain field splitting for lines the parser rejects.
	for _, f := range strings.Fields(code)[1:] {
		if len(f) < 2 || (f[0] != 'S' && f[0] != 's') {
			continue
		}
		if v, err := strconv.ParseFloat(f[1:], 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

// scanComment picks up slicer time estimates.
func scanComment(comment string, meta *Metadata) {
	s := strings.TrimLeft(comment, "; ")
	lower := strings.ToLower(s)

	// ;TIME:3600 (Cura)
	if strings.HasPrefix(lower, "time:") {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s[5:]), 64); err == nil && meta.EstimatedTime == 0 {
			meta.EstimatedTime = v
		}
		return
	}

	idx := strings.Index(s, "=")
	if idx < 0 {
		return
	}
	key := strings.TrimSpace(strings.ToLower(s[:idx]))
	val := strings.TrimSpace(s[idx+1:])

	switch key {
	case "estimated printing time", "estimated printing time (normal mode)":
		if meta.EstimatedTime == 0 {
			meta.EstimatedTime = parseDuration(val)
		}
	}
}

// parseDuration parses human-readable durations like "1h 30m 15s" to seconds.
func parseDuration(s string) float64 {
	s = strings.ReplaceAll(s, " ", "")

	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}

	total := 0.0
	for len(s) > 0 {
		i := 0
		for i < len(s) && ((s[i] >= '0' && s[i] <= '9') || s[i] == '.') {
			i++
		}
		if i == 0 || i >= len(s) {
			break
		}
		val, err := strconv.ParseFloat(s[:i], 64)
		if err != nil {
			break
		}
		switch s[i] {
		case 'd', 'D':
			total += val * 86400
		case 'h', 'H':
			total += val * 3600
		case 'm', 'M':
			total += val * 60
		case 's', 'S':
			total += val
		}
		s = s[i+1:]
	}

	return total
}

// Commands returns the sendable lines of data: comments and blank lines
// removed, inline comments stripped.
func Commands(data []byte) []string {
	var out []string
	// A bytes.Reader only ever reports io.EOF, which eachLine swallows.
	_ = eachLine(bytes.NewReader(data), func(line string) {
		if code := StripComment(line); code != "" {
			out = append(out, code)
		}
	})
	return out
}

// eachLine calls fn for every line of r without a line length limit.
// Embedded thumbnails and other long comment lines are common.
func eachLine(r io.Reader, fn func(line string)) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			fn(strings.TrimRight(line, "\r\n"))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// StripComment removes a trailing ";" comment and surrounding space.
func StripComment(line string) string {
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		line = line[:idx]
	}
	return strings.TrimSpace(line)
}

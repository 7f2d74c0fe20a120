package gcode

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/john/beeprint/bee"
)

const (
	headerStart   = ";Header Start"
	headerEnd     = ";Header End"
	headerVersion = 1

	// headerCommands is the number of non-comment lines the header adds.
	headerCommands = 1
)

// BuildHeader returns the preamble the printer reads before a job: a
// versioned comment block followed by the print-metadata command.
func BuildHeader(meta Metadata) string {
	lines := meta.Lines + headerCommands

	var b strings.Builder
	b.WriteString(headerStart + "\n")
	fmt.Fprintf(&b, ";Version:%d\n", headerVersion)
	fmt.Fprintf(&b, ";Estimated Print Time:%d\n", int(meta.EstimatedTime))
	fmt.Fprintf(&b, ";Lines:%d\n", lines)
	b.WriteString(headerEnd + "\n")
	b.WriteString(bee.PrintHeader(meta.EstimatedMinutes(), lines) + "\n")
	return b.String()
}

// HasHeader reports whether data already starts with a header block.
func HasHeader(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return bytes.HasPrefix(trimmed, []byte(headerStart))
}

// Prepend returns data with a header for meta in front of it. Data that
// already carries one is returned unchanged.
func Prepend(data []byte, meta Metadata) []byte {
	if HasHeader(data) {
		return data
	}
	header := BuildHeader(meta)
	out := make([]byte, 0, len(header)+len(data))
	out = append(out, header...)
	return append(out, data...)
}

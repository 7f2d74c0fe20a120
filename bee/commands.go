// Package bee implements the host side of the BEETHEFIRST line protocol: the
// vendor G-code dialect spoken over the printer's USB-serial link, response
// heuristics and parsers, the serial transport, and device enumeration.
package bee

import (
	"fmt"
	"math"
)

// Wire commands. The firmware answers most of them with free-form text
// terminated by an "ok" line; none of them gives a trustworthy direct
// acknowledgement.
const (
	CmdGoToFirmware   = "M630"
	CmdGoToBootloader = "M609"
	CmdStatus         = "M625" // terse coded status; older firmware answers with words
	CmdTemperature    = "M105"
	CmdClearShutdown  = "M505"
	CmdListFiles      = "M20"
	CmdInitSD         = "M21"
	CmdSelectFile     = "M23"
	CmdStartSDPrint   = "M24"
	CmdBeginWrite     = "M28"
	CmdCreateFile     = "M30"
	CmdPrintHeader    = "M31"
	CmdSessionVars    = "M32"
	CmdStartPrint     = "M33"
	CmdSetNozzleTemp  = "M104"
	CmdBreak          = "M108"
	CmdEmergencyStop  = "M112"
	CmdLoadFilament   = "M701"
	CmdHome           = "G28"
	CmdCalibrate      = "G131 S0" // move to the first calibration point
	CmdCalibrateNext  = "G132"
)

// SetNozzleTemp returns the heat-set command for the given target.
func SetNozzleTemp(target float64) string {
	return fmt.Sprintf("%s S%d", CmdSetNozzleTemp, int(math.Round(target)))
}

// SelectFile returns the SD file-select command. name must be in the
// lowercase command-argument form.
func SelectFile(name string) string {
	return CmdSelectFile + " " + name
}

// StartPrintFile returns the single-argument autonomous start command.
func StartPrintFile(name string) string {
	return CmdStartPrint + " " + name
}

// CreateFile returns the command that opens name on the SD card for writing.
func CreateFile(name string) string {
	return CmdCreateFile + " " + name
}

// BeginWrite announces a block covering bytes [start, end] of the file.
func BeginWrite(start, end int) string {
	return fmt.Sprintf("%s D%d A%d", CmdBeginWrite, end, start)
}

// PrintHeader returns the print-metadata command carried by the file header.
func PrintHeader(estimatedMinutes, lines int) string {
	return fmt.Sprintf("%s A%d L%d", CmdPrintHeader, estimatedMinutes, lines)
}

// MoveZ returns a rapid relative Z nudge used while calibrating.
func MoveZ(delta float64) string {
	return fmt.Sprintf("G0 Z%.2f", delta)
}

package printer

import (
	"context"
	"fmt"

	"github.com/john/beeprint/bee"
)

// CalibrationPoint is a stop of the bed-leveling routine.
type CalibrationPoint int

const (
	PointNozzleHeight CalibrationPoint = iota // center, Z offset set with nudges
	PointLeftScrew
	PointRightScrew
	PointFinished
)

func (p CalibrationPoint) String() string {
	switch p {
	case PointNozzleHeight:
		return "nozzle height"
	case PointLeftScrew:
		return "left screw"
	case PointRightScrew:
		return "right screw"
	default:
		return "finished"
	}
}

// Calibration drives the firmware's three-point leveling routine.
type Calibration struct {
	s     *Session
	point CalibrationPoint
}

// BeginCalibration moves the head to the first calibration point. The
// device must be in firmware mode.
func (s *Session) BeginCalibration(ctx context.Context) (*Calibration, error) {
	if m := s.Mode(); m != ModeFirmware {
		return nil, fmt.Errorf("%w: calibration needs firmware mode, device is in %s", ErrInvalidState, m)
	}
	if _, err := s.commandRetry(ctx, bee.CmdCalibrate); err != nil {
		return nil, err
	}
	s.log.Info().Msg("Calibration started")
	return &Calibration{s: s, point: PointNozzleHeight}, nil
}

// Point returns where the routine is.
func (c *Calibration) Point() CalibrationPoint { return c.point }

// Nudge moves the nozzle by dz millimeters. Only the first point takes
// nudges; the screws are turned by hand.
func (c *Calibration) Nudge(ctx context.Context, dz float64) error {
	if c.point != PointNozzleHeight {
		return fmt.Errorf("%w: Z nudge at %s", ErrInvalidState, c.point)
	}
	_, err := c.s.Command(ctx, bee.MoveZ(dz))
	return err
}

// Next advances to the following point.
func (c *Calibration) Next(ctx context.Context) (CalibrationPoint, error) {
	if c.point == PointFinished {
		return c.point, nil
	}
	if _, err := c.s.commandRetry(ctx, bee.CmdCalibrateNext); err != nil {
		return c.point, err
	}
	c.point++
	return c.point, nil
}

// Abort homes the axes and ends the routine.
func (c *Calibration) Abort(ctx context.Context) error {
	c.point = PointFinished
	return c.s.Home(ctx)
}

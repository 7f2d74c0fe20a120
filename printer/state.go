package printer

import (
	"sync"
	"time"
)

// StateData holds the latest known printer state without synchronization.
// Safe to copy by value.
type StateData struct {
	// Connection
	Connection string `json:"connection"`
	Mode       string `json:"mode"`
	SessionID  string `json:"session_id"`

	// Status
	Status   string `json:"status"`
	Printing bool   `json:"printing"`
	Raw      string `json:"raw,omitempty"`

	// Temperature
	NozzleTemp   float64 `json:"nozzle_temp"`
	NozzleTarget float64 `json:"nozzle_target"`
	HasTemp      bool    `json:"has_temp"`

	// Print progress
	Progress    float64 `json:"progress"` // 0 - 100
	CurrentLine int     `json:"current_line"`
	TotalLines  int     `json:"total_lines"`
	Elapsed     float64 `json:"elapsed"`   // seconds
	Remaining   float64 `json:"remaining"` // seconds
	FileName    string  `json:"file_name,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// State provides thread-safe access to StateData.
type State struct {
	mu   sync.RWMutex
	data StateData
}

// NewState creates an empty state.
func NewState() *State {
	return &State{
		data: StateData{
			Connection: Disconnected.String(),
			Mode:       ModeUnknown.String(),
			Status:     StatusUnknown.String(),
		},
	}
}

// Snapshot returns a copy of the current state data.
func (s *State) Snapshot() StateData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

// Update folds a sample into the state.
func (s *State) Update(sess *Session, sample StatusSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess != nil {
		s.data.Connection = sess.State().String()
		s.data.Mode = sess.Mode().String()
		s.data.SessionID = sess.ID()
	}
	s.data.Status = sample.Status.String()
	s.data.Printing = sample.Printing
	s.data.Raw = sample.Raw

	// Keep the last good temperature across failed polls.
	if sample.HasTemp {
		s.data.NozzleTemp = sample.NozzleTemp
		s.data.HasTemp = true
	}

	// Progress: always update so it resets when the print ends.
	if p := sample.Progress; p != nil {
		s.data.Progress = p.Percent()
		s.data.CurrentLine = p.CurrentLine
		s.data.TotalLines = p.TotalLines
		s.data.Elapsed = p.Elapsed().Seconds()
		s.data.Remaining = p.Remaining().Seconds()
	} else if !sample.Printing {
		s.data.Progress = 0
		s.data.CurrentLine = 0
		s.data.TotalLines = 0
		s.data.Elapsed = 0
		s.data.Remaining = 0
	}

	s.data.UpdatedAt = sample.Time
}

// SetTarget records the nozzle target of the current job.
func (s *State) SetTarget(target float64) {
	s.mu.Lock()
	s.data.NozzleTarget = target
	s.mu.Unlock()
}

// SetFileName records the device file of the current job.
func (s *State) SetFileName(name string) {
	s.mu.Lock()
	s.data.FileName = name
	s.mu.Unlock()
}

// Package history keeps a journal of print jobs on disk.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// JobStatus represents the state of a print job.
type JobStatus string

const (
	StatusInProgress  JobStatus = "in_progress"
	StatusStarted     JobStatus = "started"     // start confirmed by the device
	StatusUnconfirmed JobStatus = "unconfirmed" // commands sent, start never observed
	StatusCompleted   JobStatus = "completed"
	StatusCancelled   JobStatus = "cancelled"
	StatusError       JobStatus = "error"
)

// Kind says how the job reached the printer.
type Kind string

const (
	KindSD     Kind = "sd"
	KindStream Kind = "stream"
)

// ErrUnknownJob is returned for an ID not in the journal.
var ErrUnknownJob = errors.New("unknown job")

// Job represents a print job in history.
type Job struct {
	JobID        string    `json:"job_id"`
	Filename     string    `json:"filename"`
	DeviceName   string    `json:"device_name,omitempty"`
	Kind         Kind      `json:"kind"`
	Status       JobStatus `json:"status"`
	Strategy     string    `json:"strategy,omitempty"`
	Message      string    `json:"message,omitempty"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time,omitempty"`
	TransferTime float64   `json:"transfer_time,omitempty"` // seconds
	Metadata     JobMeta   `json:"metadata"`
}

// Duration is the wall time of a finished job.
func (j *Job) Duration() time.Duration {
	if j.EndTime.IsZero() {
		return 0
	}
	return j.EndTime.Sub(j.StartTime)
}

// JobMeta contains metadata about the printed file.
type JobMeta struct {
	Size              int64   `json:"size"`
	Lines             int     `json:"lines"`
	TargetTemperature float64 `json:"target_temperature"`
	EstimatedTime     float64 `json:"estimated_time,omitempty"` // seconds
}

// Outcome closes a job.
type Outcome struct {
	Status       JobStatus
	DeviceName   string
	Strategy     string
	Message      string
	TransferTime time.Duration
	Meta         *JobMeta // replaces the metadata known at start when set
}

// Totals represents cumulative statistics.
type Totals struct {
	TotalJobs       int     `json:"total_jobs"`
	TotalTime       float64 `json:"total_time"`
	LongestJob      float64 `json:"longest_job"`
	StartedJobs     int     `json:"started_jobs"`
	UnconfirmedJobs int     `json:"unconfirmed_jobs"`
	CompletedJobs   int     `json:"completed_jobs"`
	CancelledJobs   int     `json:"cancelled_jobs"`
	FailedJobs      int     `json:"failed_jobs"`
}

// ChangedAction is the action type for history change events.
type ChangedAction string

const (
	ActionAdded    ChangedAction = "added"
	ActionFinished ChangedAction = "finished"
)

// ChangedCallback is called when the history changes.
type ChangedCallback func(action ChangedAction, job Job)

// Manager manages print job history.
type Manager struct {
	mu       sync.RWMutex
	jobs     []*Job
	dataPath string
	callback ChangedCallback
	now      func() time.Time
}

// NewManager creates a history manager persisting to dataDir/history.json.
func NewManager(dataDir string, callback ChangedCallback) (*Manager, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	m := &Manager{
		dataPath: filepath.Join(dataDir, "history.json"),
		jobs:     make([]*Job, 0),
		callback: callback,
		now:      time.Now,
	}

	if err := m.load(); err != nil {
		// An unreadable journal starts empty.
		log.Warn().Err(err).Str("path", m.dataPath).Msg("Failed to load history")
	}

	return m, nil
}

// SetCallback replaces the change callback.
func (m *Manager) SetCallback(cb ChangedCallback) {
	m.mu.Lock()
	m.callback = cb
	m.mu.Unlock()
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var state struct {
		Jobs []*Job `json:"jobs"`
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	m.jobs = state.Jobs
	return nil
}

// save writes through a temp file so a crash never leaves half a journal.
func (m *Manager) save() {
	state := struct {
		Jobs []*Job `json:"jobs"`
	}{Jobs: m.jobs}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode history")
		return
	}
	tmp := m.dataPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error().Err(err).Msg("Failed to write history")
		return
	}
	if err := os.Rename(tmp, m.dataPath); err != nil {
		log.Error().Err(err).Msg("Failed to replace history")
	}
}

// StartJob records a new job in progress.
func (m *Manager) StartJob(filename string, kind Kind, metadata JobMeta) Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := &Job{
		JobID:     uuid.NewString(),
		Filename:  filename,
		Kind:      kind,
		Status:    StatusInProgress,
		StartTime: m.now(),
		Metadata:  metadata,
	}
	m.jobs = append(m.jobs, job)
	m.save()

	if m.callback != nil {
		m.callback(ActionAdded, *job)
	}
	return *job
}

// FinishJob closes a job with the given outcome.
func (m *Manager) FinishJob(jobID string, out Outcome) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := m.find(jobID)
	if job == nil {
		return Job{}, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	job.Status = out.Status
	job.EndTime = m.now()
	job.Strategy = out.Strategy
	job.Message = out.Message
	if out.DeviceName != "" {
		job.DeviceName = out.DeviceName
	}
	if out.TransferTime > 0 {
		job.TransferTime = out.TransferTime.Seconds()
	}
	if out.Meta != nil {
		job.Metadata = *out.Meta
	}
	m.save()

	if m.callback != nil {
		m.callback(ActionFinished, *job)
	}
	return *job, nil
}

// ListJobs returns jobs with pagination, newest first unless order is
// "asc", and the total before pagination.
func (m *Manager) ListJobs(start, limit int, order string) ([]Job, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, *job)
	}
	if order == "asc" {
		sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	}

	total := len(out)
	if start >= len(out) {
		return []Job{}, total
	}
	out = out[start:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total
}

// GetJob retrieves a specific job by ID.
func (m *Manager) GetJob(jobID string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if job := m.find(jobID); job != nil {
		return *job, true
	}
	return Job{}, false
}

// DeleteJob removes a job from history.
func (m *Manager) DeleteJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, job := range m.jobs {
		if job.JobID == jobID {
			m.jobs = append(m.jobs[:i], m.jobs[i+1:]...)
			m.save()
			return true
		}
	}
	return false
}

func (m *Manager) find(jobID string) *Job {
	for _, job := range m.jobs {
		if job.JobID == jobID {
			return job
		}
	}
	return nil
}

// GetTotals calculates cumulative statistics over finished jobs.
func (m *Manager) GetTotals() Totals {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totals := Totals{}
	for _, job := range m.jobs {
		if job.Status == StatusInProgress {
			continue
		}

		totals.TotalJobs++
		d := job.Duration().Seconds()
		totals.TotalTime += d
		if d > totals.LongestJob {
			totals.LongestJob = d
		}

		switch job.Status {
		case StatusStarted:
			totals.StartedJobs++
		case StatusUnconfirmed:
			totals.UnconfirmedJobs++
		case StatusCompleted:
			totals.CompletedJobs++
		case StatusCancelled:
			totals.CancelledJobs++
		case StatusError:
			totals.FailedJobs++
		}
	}
	return totals
}

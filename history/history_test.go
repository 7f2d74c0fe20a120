package history

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestManager(t *testing.T, dir string) *Manager {
	t.Helper()
	m, err := NewManager(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return m
}

func TestJournalPersists(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir)

	job := m.StartJob("part.gcode", KindSD, JobMeta{Lines: 10, TargetTemperature: 210})
	if job.JobID == "" || job.Status != StatusInProgress {
		t.Fatalf("job = %+v", job)
	}
	done, err := m.FinishJob(job.JobID, Outcome{Status: StatusUnconfirmed, DeviceName: "PART", Strategy: "start", TransferTime: 3 * time.Second, Meta: &JobMeta{Lines: 12, TargetTemperature: 210}})
	if err != nil {
		t.Fatal(err)
	}
	if done.Duration() != time.Minute || done.TransferTime != 3 {
		t.Errorf("finished = %+v", done)
	}

	reloaded := newTestManager(t, dir)
	got, ok := reloaded.GetJob(job.JobID)
	if !ok {
		t.Fatal("job lost after reload")
	}
	if got.Status != StatusUnconfirmed || got.DeviceName != "PART" || got.Metadata.TargetTemperature != 210 || got.Metadata.Lines != 12 {
		t.Errorf("reloaded = %+v", got)
	}
}

func TestFinishUnknownJob(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	if _, err := m.FinishJob("nope", Outcome{Status: StatusError}); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("expected ErrUnknownJob, got %v", err)
	}
}

func TestListJobsOrderAndPaging(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		ids = append(ids, m.StartJob(name, KindSD, JobMeta{}).JobID)
	}

	jobs, total := m.ListJobs(0, 2, "")
	if total != 3 || len(jobs) != 2 || jobs[0].JobID != ids[2] {
		t.Errorf("desc page = %v total %d", jobs, total)
	}
	jobs, _ = m.ListJobs(1, 0, "asc")
	if len(jobs) != 2 || jobs[0].JobID != ids[1] {
		t.Errorf("asc page = %v", jobs)
	}
	if jobs, _ := m.ListJobs(5, 0, ""); len(jobs) != 0 {
		t.Errorf("past the end = %v", jobs)
	}
}

func TestTotals(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	for _, st := range []JobStatus{StatusStarted, StatusUnconfirmed, StatusError, StatusCancelled} {
		j := m.StartJob("x", KindStream, JobMeta{})
		if _, err := m.FinishJob(j.JobID, Outcome{Status: st}); err != nil {
			t.Fatal(err)
		}
	}
	m.StartJob("running", KindSD, JobMeta{})

	tot := m.GetTotals()
	if tot.TotalJobs != 4 || tot.StartedJobs != 1 || tot.UnconfirmedJobs != 1 || tot.FailedJobs != 1 || tot.CancelledJobs != 1 {
		t.Errorf("totals = %+v", tot)
	}
	if tot.LongestJob != 60 {
		t.Errorf("longest = %v", tot.LongestJob)
	}
}

func TestCorruptJournalStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "history.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := newTestManager(t, dir)
	if _, total := m.ListJobs(0, 0, ""); total != 0 {
		t.Errorf("total = %d", total)
	}
}

func TestCallback(t *testing.T) {
	var actions []ChangedAction
	m, err := NewManager(t.TempDir(), func(a ChangedAction, j Job) { actions = append(actions, a) })
	if err != nil {
		t.Fatal(err)
	}
	j := m.StartJob("x", KindSD, JobMeta{})
	m.FinishJob(j.JobID, Outcome{Status: StatusStarted})
	if len(actions) != 2 || actions[0] != ActionAdded || actions[1] != ActionFinished {
		t.Errorf("actions = %v", actions)
	}
	if !m.DeleteJob(j.JobID) || m.DeleteJob(j.JobID) {
		t.Error("delete should succeed once")
	}
}

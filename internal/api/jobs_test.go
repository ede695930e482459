package api

import "testing"

func TestJobManager_Lifecycle(t *testing.T) {
	m := NewJobManager()

	id, snapshot := m.CreateJob("lecture.pdf")
	if id == "" {
		t.Fatal("expected a job id")
	}
	if snapshot.Status != JobStatusPending {
		t.Errorf("expected pending status, got %q", snapshot.Status)
	}
	if snapshot.FileName != "lecture.pdf" {
		t.Errorf("unexpected file name %q", snapshot.FileName)
	}

	m.MarkProcessing(id)
	m.UpdateProgress(id, "extract", "Extracting text", 20, 100)

	job, ok := m.GetJob(id)
	if !ok {
		t.Fatal("job disappeared")
	}
	if job.Status != JobStatusProcessing || job.Step != "extract" || job.Percent != 20 {
		t.Errorf("unexpected progress state %+v", job)
	}

	m.MarkComplete(id, StudyResponse{Summary: "done"})
	job, _ = m.GetJob(id)
	if job.Status != JobStatusComplete {
		t.Errorf("expected complete status, got %q", job.Status)
	}
	if job.Result == nil || job.Result.Summary != "done" {
		t.Errorf("expected result to be attached, got %+v", job.Result)
	}
	if job.Percent != 100 {
		t.Errorf("expected 100 percent, got %d", job.Percent)
	}
}

func TestJobManager_MarkFailed(t *testing.T) {
	m := NewJobManager()
	id, _ := m.CreateJob("broken.pdf")

	m.MarkFailed(id, "  ")
	job, _ := m.GetJob(id)
	if job.Status != JobStatusFailed {
		t.Errorf("expected failed status, got %q", job.Status)
	}
	if job.Error != "processing error" {
		t.Errorf("expected fallback error message, got %q", job.Error)
	}

	m.MarkFailed(id, "model unavailable")
	job, _ = m.GetJob(id)
	if job.Error != "model unavailable" {
		t.Errorf("unexpected error message %q", job.Error)
	}
}

func TestJobManager_SnapshotsAreIsolated(t *testing.T) {
	m := NewJobManager()
	id, _ := m.CreateJob("lecture.pdf")

	m.MarkComplete(id, StudyResponse{Summary: "original"})
	first, _ := m.GetJob(id)
	first.Result.Summary = "mutated"
	first.Status = "mutated"

	second, _ := m.GetJob(id)
	if second.Result.Summary != "original" {
		t.Errorf("mutation leaked into manager state: %q", second.Result.Summary)
	}
	if second.Status != JobStatusComplete {
		t.Errorf("mutation leaked into manager state: %q", second.Status)
	}
}

func TestJobManager_UnknownJob(t *testing.T) {
	m := NewJobManager()
	if _, ok := m.GetJob("missing"); ok {
		t.Error("expected lookup of unknown job to fail")
	}
	// Updates to unknown jobs are ignored rather than panicking.
	m.MarkProcessing("missing")
	m.MarkFailed("missing", "nope")
}

func TestPercent(t *testing.T) {
	cases := []struct {
		current, total, want int
	}{
		{0, 100, 0},
		{20, 100, 20},
		{100, 100, 100},
		{150, 100, 100},
		{-5, 100, 0},
		{50, 0, 50},
		{150, 0, 100},
		{-1, 0, 0},
	}
	for _, tc := range cases {
		if got := percent(tc.current, tc.total); got != tc.want {
			t.Errorf("percent(%d, %d) = %d, want %d", tc.current, tc.total, got, tc.want)
		}
	}
}

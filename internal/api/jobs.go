package api

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusComplete   = "complete"
	JobStatusFailed     = "failed"
)

// StudyJob tracks the progress of one asynchronous PDF processing request
// that the frontend polls.
type StudyJob struct {
	ID        string         `json:"jobId"`
	Status    string         `json:"status"`
	FileName  string         `json:"fileName"`
	Step      string         `json:"step,omitempty"`
	Message   string         `json:"message,omitempty"`
	Current   int            `json:"current"`
	Total     int            `json:"total"`
	Percent   int            `json:"percent"`
	Result    *StudyResponse `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

type JobManager struct {
	mu   sync.RWMutex
	jobs map[string]*StudyJob
}

func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*StudyJob),
	}
}

func (m *JobManager) CreateJob(fileName string) (string, *StudyJob) {
	job := &StudyJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		FileName:  fileName,
		Total:     100,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	return job.ID, job.clone()
}

func (m *JobManager) GetJob(id string) (*StudyJob, bool) {
	m.mu.RLock()
	job, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

func (m *JobManager) MarkProcessing(id string) {
	m.withJob(id, func(job *StudyJob) {
		job.Status = JobStatusProcessing
		job.Message = "Starting"
	})
}

func (m *JobManager) UpdateProgress(id string, step, message string, current, total int) {
	m.withJob(id, func(job *StudyJob) {
		job.Status = JobStatusProcessing
		job.Step = step
		job.Message = message
		job.Current = current
		job.Total = total
		job.Percent = percent(current, total)
	})
}

func (m *JobManager) MarkComplete(id string, result StudyResponse) {
	m.withJob(id, func(job *StudyJob) {
		job.Status = JobStatusComplete
		job.Step = "complete"
		job.Message = "Processing complete"
		job.Current = 100
		job.Total = 100
		job.Percent = 100
		job.Result = &result
		job.Error = ""
	})
}

func (m *JobManager) MarkFailed(id string, msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "processing error"
	}
	m.withJob(id, func(job *StudyJob) {
		job.Status = JobStatusFailed
		job.Step = "error"
		job.Message = msg
		job.Error = msg
		job.Current = 100
		job.Total = 100
		job.Percent = 100
	})
}

func (m *JobManager) withJob(id string, fn func(job *StudyJob)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	fn(job)
	job.UpdatedAt = time.Now().UTC()
}

func (job *StudyJob) clone() *StudyJob {
	if job == nil {
		return nil
	}
	copyJob := *job
	if job.Result != nil {
		res := *job.Result
		copyJob.Result = &res
	}
	return &copyJob
}

func percent(current, total int) int {
	if total <= 0 {
		if current <= 0 {
			return 0
		}
		if current > 100 {
			return 100
		}
		return current
	}
	if current <= 0 {
		return 0
	}
	if current >= total {
		return 100
	}
	return int((float64(current) / float64(total)) * 100)
}

package job

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MarketxTrader/lyricsync/internal/lrc"
	"github.com/MarketxTrader/lyricsync/internal/metrics"
	"github.com/MarketxTrader/lyricsync/internal/transcription"
)

// State is the lifecycle state of a transcription job. It mirrors the
// idle/processing/ready/error progression a caller-facing UI would show.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateReady      State = "ready"
	StateError      State = "error"
)

// terminal reports whether a job in this state will not change again.
func (s State) terminal() bool {
	return s == StateReady || s == StateError
}

// Info is an immutable snapshot of a job for the API layer.
type Info struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	MimeType  string    `json:"mime_type"`
	State     State     `json:"state"`
	LRC       string    `json:"lrc,omitempty"`
	LineCount int       `json:"line_count,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stats summarizes registry activity.
type Stats struct {
	TotalJobs          int `json:"total_jobs"`
	ProcessingJobs     int `json:"processing_jobs"`
	ReadyJobs          int `json:"ready_jobs"`
	ErrorJobs          int `json:"error_jobs"`
	CancelledJobs      int `json:"cancelled_jobs"`
	LateResultsDropped int `json:"late_results_dropped"`
}

type job struct {
	info      Info
	cancelled bool
	done      chan struct{}
}

// defaultRetention caps how many finished jobs the registry keeps before
// evicting the oldest ones.
const defaultRetention = 100

// Manager is an in-memory registry of transcription jobs. Each submitted
// job runs the transcription call on its own goroutine; results arriving
// after a job was cancelled are dropped, so a caller that has moved on
// never sees a stale result flip its state.
type Manager struct {
	jobs   map[string]*job
	mu     sync.RWMutex
	logger *slog.Logger

	client  *transcription.Client
	metrics *metrics.Metrics

	retention int

	cancelledCount int
	lateDropped    int

	wg sync.WaitGroup
}

// NewManager creates a new job manager. metrics may be nil.
func NewManager(logger *slog.Logger, client *transcription.Client, m *metrics.Metrics) *Manager {
	return &Manager{
		jobs:      make(map[string]*job),
		logger:    logger,
		client:    client,
		metrics:   m,
		retention: defaultRetention,
	}
}

// Submit registers a new transcription job for the given audio payload and
// starts processing it in the background. The returned snapshot is already
// in the processing state.
func (m *Manager) Submit(ctx context.Context, filename string, audioData []byte, mimeType string) Info {
	now := time.Now().UTC()
	j := &job{
		info: Info{
			ID:        uuid.NewString(),
			Filename:  filename,
			MimeType:  mimeType,
			State:     StateProcessing,
			CreatedAt: now,
			UpdatedAt: now,
		},
		done: make(chan struct{}),
	}

	m.mu.Lock()
	m.jobs[j.info.ID] = j
	m.evictLocked()
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordJobCreated()
		m.metrics.SetActiveJobs(m.activeCount())
	}

	m.logger.Info("Job submitted",
		slog.String("job_id", j.info.ID),
		slog.String("filename", filename),
		slog.String("mime_type", mimeType),
		slog.Int("audio_bytes", len(audioData)),
	)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.process(ctx, j.info.ID, audioData, mimeType)
	}()

	return j.info
}

// process runs the transcription call and records the outcome.
func (m *Manager) process(ctx context.Context, id string, audioData []byte, mimeType string) {
	startTime := time.Now()
	if m.metrics != nil {
		m.metrics.RecordTranscriptionRequest()
	}

	text, err := m.client.Transcribe(ctx, &transcription.Request{
		AudioData: audioData,
		MimeType:  mimeType,
	})

	elapsed := time.Since(startTime)
	if m.metrics != nil {
		if err != nil {
			m.metrics.RecordTranscriptionFailure(elapsed.Seconds())
		} else {
			m.metrics.RecordTranscriptionSuccess(elapsed.Seconds())
		}
	}

	m.complete(id, text, err)
}

// complete transitions a job to its terminal state. Results for cancelled
// jobs are dropped.
func (m *Manager) complete(id, text string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, exists := m.jobs[id]
	if !exists || j.cancelled {
		m.lateDropped++
		if m.metrics != nil {
			m.metrics.RecordLateResultDropped()
		}
		m.logger.Info("Dropping result for cancelled job", slog.String("job_id", id))
		return
	}

	if err != nil {
		j.info.State = StateError
		j.info.Error = failureMessage(err)
		m.logger.Warn("Job failed",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
	} else {
		doc := lrc.Parse(text)
		j.info.State = StateReady
		j.info.LRC = text
		j.info.LineCount = len(doc.Lines)
		if m.metrics != nil {
			m.metrics.RecordParse(len(doc.Lines), lrc.NonBlankLines(text)-len(doc.Lines))
		}
		m.logger.Info("Job ready",
			slog.String("job_id", id),
			slog.Int("line_count", j.info.LineCount),
			slog.Float64("duration_seconds", doc.Duration()),
		)
	}

	j.info.UpdatedAt = time.Now().UTC()
	close(j.done)

	if m.metrics != nil {
		m.metrics.SetActiveJobs(m.activeCountLocked())
	}
}

// failureMessage maps the client's error taxonomy to a caller-facing
// message, keeping the empty-response case distinct from outages.
func failureMessage(err error) string {
	var exhausted *transcription.RetryExhaustedError
	var remote *transcription.RemoteError

	switch {
	case errors.Is(err, transcription.ErrEmptyResult):
		return "the model returned no lyric text for this audio"
	case errors.As(err, &exhausted):
		return "the transcription service is rate limiting requests; try again later"
	case errors.As(err, &remote):
		return remote.Error()
	default:
		return err.Error()
	}
}

// Get returns a snapshot of the job with the given ID.
func (m *Manager) Get(id string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, exists := m.jobs[id]
	if !exists {
		return Info{}, false
	}
	return j.info, true
}

// List returns snapshots of all jobs, newest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.jobs))
	for _, j := range m.jobs {
		infos = append(infos, j.info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})

	return infos
}

// Wait blocks until the job reaches a terminal state or ctx is done, then
// returns the latest snapshot.
func (m *Manager) Wait(ctx context.Context, id string) (Info, bool) {
	m.mu.RLock()
	j, exists := m.jobs[id]
	m.mu.RUnlock()

	if !exists {
		return Info{}, false
	}

	select {
	case <-j.done:
	case <-ctx.Done():
	}

	return m.Get(id)
}

// Cancel marks a job cancelled. A still-running transcription is left to
// finish on its own schedule; its result will be dropped on arrival.
// Cancelling an already-terminal job is a no-op that reports false.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, exists := m.jobs[id]
	if !exists || j.cancelled || j.info.State.terminal() {
		return false
	}

	j.cancelled = true
	j.info.State = StateError
	j.info.Error = "cancelled"
	j.info.UpdatedAt = time.Now().UTC()
	close(j.done)
	m.cancelledCount++

	if m.metrics != nil {
		m.metrics.RecordJobCancelled()
		m.metrics.SetActiveJobs(m.activeCountLocked())
	}

	m.logger.Info("Job cancelled", slog.String("job_id", id))
	return true
}

// GetStats returns registry statistics.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		TotalJobs:          len(m.jobs),
		CancelledJobs:      m.cancelledCount,
		LateResultsDropped: m.lateDropped,
	}

	for _, j := range m.jobs {
		switch j.info.State {
		case StateProcessing:
			stats.ProcessingJobs++
		case StateReady:
			stats.ReadyJobs++
		case StateError:
			stats.ErrorJobs++
		}
	}

	return stats
}

// Stop waits for in-flight jobs to finish.
func (m *Manager) Stop() {
	m.wg.Wait()
}

func (m *Manager) activeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeCountLocked()
}

func (m *Manager) activeCountLocked() int {
	count := 0
	for _, j := range m.jobs {
		if j.info.State == StateProcessing {
			count++
		}
	}
	return count
}

// evictLocked drops the oldest finished jobs beyond the retention cap.
// Processing jobs are never evicted.
func (m *Manager) evictLocked() {
	if len(m.jobs) <= m.retention {
		return
	}

	finished := make([]*job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.info.State.terminal() {
			finished = append(finished, j)
		}
	}

	sort.Slice(finished, func(i, j int) bool {
		return finished[i].info.CreatedAt.Before(finished[j].info.CreatedAt)
	})

	for _, j := range finished {
		if len(m.jobs) <= m.retention {
			break
		}
		delete(m.jobs, j.info.ID)
	}
}

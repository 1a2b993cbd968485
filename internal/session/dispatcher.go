package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/minutemanhq/minuteman/internal/analyzer"
	"github.com/minutemanhq/minuteman/internal/metrics"
)

const jobQueueSize = 8

type analyzeJob struct {
	SessionID       string
	MimeType        string
	AudioBase64     string
	UserID          string
	UserName        string
	DurationMinutes float64
}

// CompletionFunc receives the outcome of one analysis as a separate event
// rather than a return value.
type CompletionFunc func(sessionID string, result *analyzer.Result, cause error)

// Dispatcher performs analysis calls in a long-lived worker whose lifetime
// is decoupled from any client connection. Ensure is idempotent: asking for
// the worker when it already runs is a no-op.
type Dispatcher struct {
	client   analyzer.Client
	timeout  time.Duration
	complete CompletionFunc

	once sync.Once
	jobs chan analyzeJob
}

func NewDispatcher(client analyzer.Client, timeout time.Duration, complete CompletionFunc) *Dispatcher {
	return &Dispatcher{
		client:   client,
		timeout:  timeout,
		complete: complete,
		jobs:     make(chan analyzeJob, jobQueueSize),
	}
}

// Ensure starts the worker if it is not already running.
func (d *Dispatcher) Ensure() {
	d.once.Do(func() {
		go d.worker()
		slog.Info("analysis dispatcher started", "timeout", d.timeout)
	})
}

// Submit hands a job to the worker. Completion arrives later through the
// CompletionFunc.
func (d *Dispatcher) Submit(job analyzeJob) {
	d.Ensure()
	d.jobs <- job
}

func (d *Dispatcher) worker() {
	for job := range d.jobs {
		result, err := runAnalysis(context.Background(), d.client, d.timeout, job)
		d.complete(job.SessionID, result, err)
	}
}

// runAnalysis is the single analysis round trip, shared between the durable
// worker and the coordinator's inline fallback.
func runAnalysis(ctx context.Context, client analyzer.Client, timeout time.Duration, job analyzeJob) (*analyzer.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	slog.Info("submitting session for analysis",
		"session_id", job.SessionID,
		"mime_type", job.MimeType,
		"audio_chars", len(job.AudioBase64),
		"duration_minutes", job.DurationMinutes)

	result, err := client.Analyze(callCtx, analyzer.Request{
		SessionID:       job.SessionID,
		MimeType:        job.MimeType,
		AudioBase64:     job.AudioBase64,
		UserID:          job.UserID,
		UserName:        job.UserName,
		DurationMinutes: job.DurationMinutes,
	})
	metrics.AnalysisDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("analysis timed out after %s", timeout)
		}
		return nil, err
	}
	return result, nil
}

// Package orchestrator drives one timetable generation from the readiness gate
// through submission and status polling to a terminal state.
//
// Each screen (or CLI invocation) owns one Orchestrator. At most one submission
// or poll loop is active at a time. Every submission and every cancellation
// bumps a generation counter; responses carrying an older generation are
// discarded, so nothing mutates state after CancelPolling returns.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/domain"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/logging"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/progress"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/readiness"
)

const (
	DefaultInterval = 2 * time.Second
	DefaultTimeout  = 10 * time.Minute
)

const (
	MessageCompleted = "Timetable generated successfully."
	MessageFailed    = "Timetable generation failed: the service could not produce a usable timetable."
)

// State is the lifecycle label of an Orchestrator.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StatePolling    State = "polling"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether s ends a generation.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// JobService is the remote generation service. Implementations must honour
// context cancellation.
type JobService interface {
	SubmitGeneration(ctx context.Context, req domain.GenerationRequest) (domain.SubmitResult, error)
	FetchJobStatus(ctx context.Context, jobID string) (domain.GenerationJob, error)
}

// Options tunes polling. Zero values take the package defaults.
type Options struct {
	// Interval between status fetches. Defaults to DefaultInterval.
	Interval time.Duration
	// Timeout bounds the whole poll loop. Defaults to DefaultTimeout.
	Timeout time.Duration
	// PhaseCount is the number of display phases. Defaults to len(progress.Phases).
	PhaseCount int
	Logger     *slog.Logger
}

// View is what the presentation layer renders.
type View struct {
	State      State               `json:"state"`
	JobID      string              `json:"job_id,omitempty"`
	JobStatus  domain.JobStatus    `json:"job_status,omitempty"`
	Progress   progress.Projection `json:"progress"`
	Message    string              `json:"message,omitempty"`
	Err        error               `json:"-"`
	Generation uint64              `json:"generation"`
}

type pollTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator owns one generation at a time. It is safe for concurrent use.
type Orchestrator struct {
	svc  JobService
	opts Options
	log  *slog.Logger

	mu          sync.Mutex
	state       State
	generation  uint64
	submitting  bool
	task        *pollTask
	jobID       string
	jobStatus   domain.JobStatus
	projection  progress.Projection
	lastErr     error
	message     string
	lastRequest *domain.GenerationRequest
	updates     chan View
}

// New returns an idle Orchestrator that talks to svc.
func New(svc JobService, opts Options) *Orchestrator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PhaseCount <= 0 || opts.PhaseCount > len(progress.Phases) {
		opts.PhaseCount = len(progress.Phases)
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Orchestrator{
		svc:        svc,
		opts:       opts,
		log:        log,
		state:      StateIdle,
		projection: progress.Project(0, opts.PhaseCount),
		updates:    make(chan View, 1),
	}
}

// Updates delivers the latest View after every change. Only the most recent
// undelivered View is kept.
func (o *Orchestrator) Updates() <-chan View {
	return o.updates
}

// View returns the current state.
func (o *Orchestrator) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.viewLocked()
}

// RequestGeneration submits req if the snapshot reports ready and starts
// polling the returned job. It returns the job id once the service has
// acknowledged the submission.
func (o *Orchestrator) RequestGeneration(ctx context.Context, req domain.GenerationRequest, snap domain.ValidationSnapshot) (string, error) {
	o.mu.Lock()
	if o.submitting || o.task != nil {
		o.mu.Unlock()
		return "", ErrBusy
	}
	if !snap.Overall.Ready {
		err := &NotReadyError{Blocking: readiness.Blocking(snap)}
		o.lastErr = err
		o.message = err.Error()
		o.publishLocked()
		o.mu.Unlock()
		o.log.Info("generation blocked by readiness gate", "blocking", err.Blocking)
		return "", err
	}
	payload := req.Clone()
	stored := req.Clone()
	o.generation++
	gen := o.generation
	o.submitting = true
	o.lastRequest = &stored
	o.state = StateSubmitting
	o.resetLocked()
	o.publishLocked()
	o.mu.Unlock()

	o.log.Info("submitting generation request", "generation", gen, "algorithm", payload.Settings.Algorithm)
	res, err := o.svc.SubmitGeneration(ctx, payload)

	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.generation {
		o.log.Debug("discarding submission response after cancel", "generation", gen)
		return "", ErrCancelled
	}
	o.submitting = false
	if err == nil && res.JobID == "" {
		err = errors.New("generation service returned no job id")
	}
	if err != nil {
		serr := &SubmissionError{Err: err}
		o.state = StateIdle
		o.lastErr = serr
		o.message = serr.Error()
		o.publishLocked()
		o.log.Warn("generation submission failed", "generation", gen, "error", err)
		return "", serr
	}
	o.state = StatePolling
	o.jobID = res.JobID
	o.jobStatus = domain.JobStatusQueued
	o.startLocked(gen, res.JobID)
	o.publishLocked()
	o.log.Info("generation accepted", "generation", gen, "job_id", res.JobID)
	return res.JobID, nil
}

// Regenerate stops any active loop, clears the previous outcome and submits
// the last request again. The readiness gate applies as usual.
func (o *Orchestrator) Regenerate(ctx context.Context, snap domain.ValidationSnapshot) (string, error) {
	o.CancelPolling()
	o.mu.Lock()
	if o.lastRequest == nil {
		o.mu.Unlock()
		return "", ErrNoPreviousRequest
	}
	req := o.lastRequest.Clone()
	o.state = StateIdle
	o.resetLocked()
	o.publishLocked()
	o.mu.Unlock()
	return o.RequestGeneration(ctx, req, snap)
}

// CancelPolling stops the poll loop and waits for it to exit. The last known
// state is kept, except that an interrupted submission returns to Idle.
// It is safe to call at any time and any number of times.
func (o *Orchestrator) CancelPolling() {
	o.mu.Lock()
	o.generation++
	t := o.task
	o.task = nil
	if o.submitting {
		o.submitting = false
		o.state = StateIdle
		o.publishLocked()
	}
	o.mu.Unlock()
	if t != nil {
		t.cancel()
		<-t.done
		o.log.Info("polling cancelled")
	}
}

// Wait blocks until the active poll loop exits or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) (View, error) {
	o.mu.Lock()
	t := o.task
	o.mu.Unlock()
	if t != nil {
		select {
		case <-t.done:
		case <-ctx.Done():
			return o.View(), ctx.Err()
		}
	}
	return o.View(), nil
}

func (o *Orchestrator) startLocked(gen uint64, jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.Timeout)
	t := &pollTask{cancel: cancel, done: make(chan struct{})}
	o.task = t
	go o.poll(ctx, t, gen, jobID)
}

func (o *Orchestrator) poll(ctx context.Context, t *pollTask, gen uint64, jobID string) {
	defer close(t.done)
	defer t.cancel()
	ticker := time.NewTicker(o.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.stopped(gen, jobID, ctx.Err())
			return
		case <-ticker.C:
		}
		job, err := o.svc.FetchJobStatus(ctx, jobID)
		if ctx.Err() != nil {
			o.stopped(gen, jobID, ctx.Err())
			return
		}
		if !o.apply(gen, jobID, job, err) {
			return
		}
	}
}

// apply folds one status response into state and reports whether polling continues.
func (o *Orchestrator) apply(gen uint64, jobID string, job domain.GenerationJob, err error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.generation || jobID != o.jobID || o.state != StatePolling {
		o.log.Debug("discarding stale job status", "generation", gen, "job_id", jobID)
		return false
	}
	if err != nil {
		o.state = StateIdle
		o.lastErr = &PollingTransportError{JobID: jobID, Err: err}
		o.message = o.lastErr.Error()
		o.task = nil
		o.publishLocked()
		o.log.Warn("job status fetch failed", "job_id", jobID, "error", err)
		return false
	}
	if job.ID != "" && job.ID != jobID {
		o.log.Debug("ignoring status for another job", "job_id", jobID, "got", job.ID)
		return true
	}
	o.jobStatus = job.Status
	switch job.Status {
	case domain.JobStatusCompleted:
		o.state = StateCompleted
		o.projection = progress.Complete(o.opts.PhaseCount)
		o.message = MessageCompleted
		o.task = nil
		o.publishLocked()
		o.log.Info("generation completed", "job_id", jobID)
		return false
	case domain.JobStatusDraft, domain.JobStatusFailed:
		o.state = StateFailed
		o.lastErr = &JobFailedError{JobID: jobID, Status: job.Status, Message: job.Message}
		o.message = MessageFailed
		o.task = nil
		o.publishLocked()
		o.log.Warn("generation failed", "job_id", jobID, "status", job.Status)
		return false
	case domain.JobStatusQueued, domain.JobStatusRunning:
		if job.Progress != nil {
			o.projection = progress.Project(*job.Progress, o.opts.PhaseCount)
		}
		o.publishLocked()
		return true
	default:
		o.state = StateFailed
		o.lastErr = &UnknownStatusError{JobID: jobID, Status: job.Status}
		o.message = MessageFailed
		o.task = nil
		o.publishLocked()
		o.log.Warn("unrecognised job status", "job_id", jobID, "status", job.Status)
		return false
	}
}

func (o *Orchestrator) stopped(gen uint64, jobID string, cause error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.generation || jobID != o.jobID || o.state != StatePolling {
		return
	}
	if !errors.Is(cause, context.DeadlineExceeded) {
		return
	}
	o.state = StateIdle
	o.lastErr = &TimeoutError{JobID: jobID, After: o.opts.Timeout}
	o.message = o.lastErr.Error()
	o.task = nil
	o.publishLocked()
	o.log.Warn("polling timed out", "job_id", jobID, "timeout", o.opts.Timeout)
}

func (o *Orchestrator) resetLocked() {
	o.jobID = ""
	o.jobStatus = ""
	o.lastErr = nil
	o.message = ""
	o.projection = progress.Project(0, o.opts.PhaseCount)
}

func (o *Orchestrator) viewLocked() View {
	p := o.projection
	p.Phases = append([]progress.PhaseStatus(nil), o.projection.Phases...)
	return View{
		State:      o.state,
		JobID:      o.jobID,
		JobStatus:  o.jobStatus,
		Progress:   p,
		Message:    o.message,
		Err:        o.lastErr,
		Generation: o.generation,
	}
}

// publishLocked replaces any undelivered View with the current one. It never
// blocks: o.mu serialises producers and receivers only free space.
func (o *Orchestrator) publishLocked() {
	v := o.viewLocked()
	select {
	case <-o.updates:
	default:
	}
	select {
	case o.updates <- v:
	default:
	}
}

// Package engine is the development stand-in for the remote generation
// service: it computes readiness, accepts submissions and advances jobs.
package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/catalog"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/config"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/domain"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/events"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/logging"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/progress"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/readiness"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/repo"
)

// SystemActor is recorded on events the service emits on its own.
const SystemActor = "system"

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Catalog    catalog.Catalog
	Simulation Simulation
	Config     *config.Config
	Log        *slog.Logger
	Now        func() time.Time

	// advance serialises job progression between the sweeper and status reads.
	advance *sync.Mutex
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Events:     events.Writer{},
		Catalog:    catalog.Default(),
		Simulation: SimulationFromConfig(cfg.Server.Simulation),
		Config:     cfg,
		Log:        logging.Discard(),
		Now:        time.Now,
		advance:    &sync.Mutex{},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(timeLayout)
}

// ValidationSnapshot reports every domain and the derived overall readiness.
func (e Engine) ValidationSnapshot(ctx context.Context) (domain.ValidationSnapshot, error) {
	stored, err := e.Repo.ListDomains(ctx)
	if err != nil {
		return domain.ValidationSnapshot{}, err
	}
	snap := readiness.Normalize(domain.ValidationSnapshot{Domains: stored})
	snap.Overall = readiness.Evaluate(snap.Domains)
	return snap, nil
}

// SetDomain records the validation state of one domain and returns the new snapshot.
func (e Engine) SetDomain(ctx context.Context, d domain.ValidationDomain, state domain.DomainState, actorID string) (domain.ValidationSnapshot, error) {
	if !d.Valid() {
		return domain.ValidationSnapshot{}, ValidationError{Field: "domain", Message: fmt.Sprintf("unknown validation domain %q", d)}
	}
	switch state.Status {
	case domain.DomainStatusUnknown, domain.DomainStatusPending, domain.DomainStatusCompleted:
	default:
		return domain.ValidationSnapshot{}, ValidationError{Field: "status", Message: fmt.Sprintf("unsupported status %q", state.Status)}
	}
	if state.Count < 0 {
		return domain.ValidationSnapshot{}, ValidationError{Field: "count", Message: "must not be negative"}
	}
	if state.Issues.Count < 0 {
		return domain.ValidationSnapshot{}, ValidationError{Field: "issue_count", Message: "must not be negative"}
	}
	if len(state.Issues.Items) > 0 {
		state.Issues.Count = len(state.Issues.Items)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ValidationSnapshot{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertDomain(ctx, tx, d, state, e.stamp()); err != nil {
		return domain.ValidationSnapshot{}, err
	}
	if err := e.Events.Append(ctx, tx, events.DomainUpdated, "validation_domain", string(d), actorID, events.EventPayload{
		"status":      state.Status,
		"count":       state.Count,
		"issue_count": state.Issues.Count,
	}); err != nil {
		return domain.ValidationSnapshot{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ValidationSnapshot{}, err
	}
	return e.ValidationSnapshot(ctx)
}

// SeedDomains marks every domain with status, skipping domains already stored.
func (e Engine) SeedDomains(ctx context.Context, status domain.DomainStatus, actorID string) error {
	stored, err := e.Repo.ListDomains(ctx)
	if err != nil {
		return err
	}
	for _, d := range domain.ValidationDomains {
		if _, ok := stored[d]; ok {
			continue
		}
		state := domain.DomainState{Status: status}
		if status == domain.DomainStatusCompleted {
			state.Count = 1
		}
		if _, err := e.SetDomain(ctx, d, state, actorID); err != nil {
			return fmt.Errorf("seed %s: %w", d, err)
		}
	}
	return nil
}

// SubmitGeneration validates req, checks readiness and records a queued job.
func (e Engine) SubmitGeneration(ctx context.Context, req domain.GenerationRequest, actorID string) (domain.GenerationJob, error) {
	if err := e.validateRequest(req); err != nil {
		return domain.GenerationJob{}, err
	}
	snap, err := e.ValidationSnapshot(ctx)
	if err != nil {
		return domain.GenerationJob{}, err
	}
	if !snap.Overall.Ready {
		return domain.GenerationJob{}, NotReadyError{Blocking: readiness.Blocking(snap)}
	}
	now := e.stamp()
	zero := 0.0
	job := domain.GenerationJob{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(req.Name),
		Algorithm: req.Settings.Algorithm,
		Status:    domain.JobStatusQueued,
		Progress:  &zero,
		CreatedBy: actorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.GenerationJob{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertJob(ctx, tx, repo.JobRecord{Job: job, MaxIterations: req.Settings.MaxIterations, Request: req}); err != nil {
		return domain.GenerationJob{}, fmt.Errorf("insert job: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.JobSubmitted, "job", job.ID, actorID, events.EventPayload{
		"name":           job.Name,
		"algorithm":      job.Algorithm,
		"max_iterations": req.Settings.MaxIterations,
		"goals":          req.Settings.OptimizationGoals,
	}); err != nil {
		return domain.GenerationJob{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.GenerationJob{}, err
	}
	e.Log.Info("job submitted", "job_id", job.ID, "algorithm", job.Algorithm, "actor_id", actorID)
	return job, nil
}

func (e Engine) validateRequest(req domain.GenerationRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return ValidationError{Field: "name", Message: "is required"}
	}
	s := req.Settings
	algo, ok := e.Catalog.Algorithm(s.Algorithm)
	if !ok {
		return ValidationError{Field: "settings.algorithm", Message: fmt.Sprintf("unknown algorithm %q", s.Algorithm)}
	}
	if s.MaxIterations <= 0 {
		return ValidationError{Field: "settings.max_iterations", Message: "must be positive"}
	}
	if s.PopulationSize != nil {
		if !algo.Supports(domain.ParamPopulationSize) {
			return ValidationError{Field: "settings.population_size", Message: fmt.Sprintf("not applicable to %s", algo.ID)}
		}
		if *s.PopulationSize <= 0 {
			return ValidationError{Field: "settings.population_size", Message: "must be positive"}
		}
	}
	rates := []struct {
		field, param string
		value        *float64
	}{
		{"settings.crossover_rate", domain.ParamCrossoverRate, s.CrossoverRate},
		{"settings.mutation_rate", domain.ParamMutationRate, s.MutationRate},
	}
	for _, r := range rates {
		if r.value == nil {
			continue
		}
		if !algo.Supports(r.param) {
			return ValidationError{Field: r.field, Message: fmt.Sprintf("not applicable to %s", algo.ID)}
		}
		if *r.value < 0 || *r.value > 1 {
			return ValidationError{Field: r.field, Message: "must be within [0,1]"}
		}
	}
	for _, g := range s.OptimizationGoals {
		if _, ok := e.Catalog.Goal(g); !ok {
			return ValidationError{Field: "settings.optimization_goals", Message: fmt.Sprintf("unknown goal %q", g)}
		}
	}
	if len(s.WorkingWeek.Days) == 0 {
		return ValidationError{Field: "settings.working_week.days", Message: "at least one day is required"}
	}
	if s.WorkingWeek.SlotDuration <= 0 {
		return ValidationError{Field: "settings.working_week.slot_duration_minutes", Message: "must be positive"}
	}
	return nil
}

// JobStatus returns the job, advancing it to the current simulated state first.
func (e Engine) JobStatus(ctx context.Context, id string) (domain.GenerationJob, error) {
	e.advance.Lock()
	defer e.advance.Unlock()
	rec, err := e.Repo.GetJob(ctx, id)
	if err != nil {
		return domain.GenerationJob{}, err
	}
	if rec.Job.Status.Terminal() {
		return rec.Job, nil
	}
	return e.advanceJob(ctx, rec)
}

// ListJobs returns jobs newest first.
func (e Engine) ListJobs(ctx context.Context, f repo.JobFilters) ([]domain.GenerationJob, error) {
	recs, err := e.Repo.ListJobs(ctx, f)
	if err != nil {
		return nil, err
	}
	jobs := make([]domain.GenerationJob, 0, len(recs))
	for _, rec := range recs {
		jobs = append(jobs, rec.Job)
	}
	return jobs, nil
}

// AdvanceJobs moves every active job to its current simulated state and
// returns how many changed.
func (e Engine) AdvanceJobs(ctx context.Context) (int, error) {
	e.advance.Lock()
	defer e.advance.Unlock()
	active, err := e.Repo.ListActiveJobs(ctx)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, rec := range active {
		before := rec.Job
		after, err := e.advanceJob(ctx, rec)
		if err != nil {
			return changed, fmt.Errorf("advance job %s: %w", rec.Job.ID, err)
		}
		if after.Status != before.Status || *after.Progress != *before.Progress {
			changed++
		}
	}
	return changed, nil
}

// RunSweeper advances active jobs every interval until ctx is done.
func (e Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := e.AdvanceJobs(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				e.Log.Warn("job sweep failed", "error", err)
			} else if n > 0 {
				e.Log.Debug("job sweep", "advanced", n)
			}
		}
	}
}

// advanceJob must be called with e.advance held.
func (e Engine) advanceJob(ctx context.Context, rec repo.JobRecord) (domain.GenerationJob, error) {
	job := rec.Job
	created, err := time.Parse(time.RFC3339Nano, job.CreatedAt)
	if err != nil {
		return domain.GenerationJob{}, fmt.Errorf("parse created_at: %w", err)
	}
	status, p := e.Simulation.State(created, e.now(), rec.MaxIterations)
	var prev float64
	if job.Progress != nil {
		prev = *job.Progress
	}
	if status == job.Status && p == prev {
		return job, nil
	}
	prevStatus := job.Status
	job.Status = status
	job.Progress = &p
	now := e.stamp()
	job.UpdatedAt = now
	switch status {
	case domain.JobStatusCompleted:
		job.Message = "timetable generated"
		job.CompletedAt = &now
	case domain.JobStatusDraft:
		job.Message = draftMessage
		job.CompletedAt = &now
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.GenerationJob{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateJobState(ctx, tx, job); err != nil {
		return domain.GenerationJob{}, err
	}
	evtType := ""
	switch {
	case status != prevStatus:
		evtType = jobEventType(status)
	case progress.Map(p, len(progress.Phases)) != progress.Map(prev, len(progress.Phases)):
		evtType = events.JobProgress
	}
	if evtType != "" {
		if err := e.Events.Append(ctx, tx, evtType, "job", job.ID, SystemActor, events.EventPayload{
			"status":   job.Status,
			"progress": p,
			"phase":    progress.Map(p, len(progress.Phases)),
		}); err != nil {
			return domain.GenerationJob{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.GenerationJob{}, err
	}
	if status != prevStatus {
		e.Log.Info("job status changed", "job_id", job.ID, "from", prevStatus, "to", status, "progress", p)
	}
	return job, nil
}

func jobEventType(s domain.JobStatus) string {
	switch s {
	case domain.JobStatusRunning:
		return events.JobRunning
	case domain.JobStatusCompleted:
		return events.JobCompleted
	case domain.JobStatusDraft:
		return events.JobDraft
	case domain.JobStatusFailed:
		return events.JobFailed
	}
	return events.JobProgress
}

// CreateAPIKey mints a new key for actorID. The plaintext key is returned once
// and only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	if strings.TrimSpace(actorID) == "" {
		return domain.APIKey{}, "", ValidationError{Field: "actor_id", Message: "is required"}
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	secret := "ttg_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.Events.Append(ctx, tx, events.APIKeyCreated, "api_key", key.ID, actorID, events.EventPayload{"name": name}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}

// IsNotFound reports whether err means the requested entity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}

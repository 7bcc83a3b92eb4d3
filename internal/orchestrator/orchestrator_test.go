package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/domain"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/orchestrator"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/progress"
)

const (
	tick    = 5 * time.Millisecond
	waitFor = 2 * time.Second
)

type fakeService struct {
	mu        sync.Mutex
	nextID    int
	submitted []domain.GenerationRequest
	fetches   int
	submitErr error
	// submitGate, when set, blocks SubmitGeneration until closed.
	submitGate chan struct{}
	// status returns the job state for the nth fetch (1-based).
	status func(jobID string, n int) (domain.GenerationJob, error)
	// fetchGate, when set, blocks FetchJobStatus until closed, ignoring ctx.
	fetchGate chan struct{}
	fetching  chan struct{}
}

func (f *fakeService) SubmitGeneration(ctx context.Context, req domain.GenerationRequest) (domain.SubmitResult, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, req)
	gate := f.submitGate
	f.nextID++
	id := fmt.Sprintf("job-%d", f.nextID)
	err := f.submitErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return domain.SubmitResult{}, err
	}
	return domain.SubmitResult{JobID: id}, nil
}

func (f *fakeService) FetchJobStatus(ctx context.Context, jobID string) (domain.GenerationJob, error) {
	f.mu.Lock()
	f.fetches++
	n := f.fetches
	gate := f.fetchGate
	fetching := f.fetching
	f.mu.Unlock()
	if gate != nil {
		if fetching != nil {
			select {
			case fetching <- struct{}{}:
			default:
			}
		}
		<-gate
	} else if err := ctx.Err(); err != nil {
		return domain.GenerationJob{}, err
	}
	if f.status == nil {
		return running(jobID, 0), nil
	}
	return f.status(jobID, n)
}

func (f *fakeService) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeService) submissions() []domain.GenerationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.GenerationRequest(nil), f.submitted...)
}

func running(id string, p float64) domain.GenerationJob {
	return domain.GenerationJob{ID: id, Status: domain.JobStatusRunning, Progress: &p}
}

func readySnapshot() domain.ValidationSnapshot {
	domains := map[domain.ValidationDomain]domain.DomainState{}
	for _, d := range domain.ValidationDomains {
		domains[d] = domain.DomainState{Status: domain.DomainStatusCompleted, Count: 3}
	}
	return domain.ValidationSnapshot{Domains: domains, Overall: domain.Overall{Status: "ready", Ready: true}}
}

func blockedSnapshot() domain.ValidationSnapshot {
	snap := readySnapshot()
	snap.Domains[domain.DomainCourses] = domain.DomainState{
		Status: domain.DomainStatusPending,
		Issues: domain.Issues{Count: 2},
	}
	snap.Overall = domain.Overall{Status: "incomplete", Ready: false}
	return snap
}

func sampleRequest() domain.GenerationRequest {
	return domain.GenerationRequest{
		Name:         "Fall timetable",
		AcademicYear: "2026-2027",
		Semester:     "fall",
		Department:   "CS",
		Year:         2,
		Settings: domain.RequestSettings{
			Algorithm:         "genetic",
			MaxIterations:     1000,
			OptimizationGoals: []string{"balance_workload", "minimize_gaps"},
			WorkingWeek:       domain.WorkingWeek{Days: []string{"monday"}, StartTime: "09:00", EndTime: "17:00", SlotDuration: 60},
		},
	}
}

func newOrchestrator(svc orchestrator.JobService) *orchestrator.Orchestrator {
	return orchestrator.New(svc, orchestrator.Options{Interval: tick, Timeout: time.Minute})
}

func waitState(t *testing.T, o *orchestrator.Orchestrator, want orchestrator.State) orchestrator.View {
	t.Helper()
	require.Eventually(t, func() bool { return o.View().State == want }, waitFor, tick)
	return o.View()
}

func TestNotReadyMakesNoNetworkCall(t *testing.T) {
	svc := &fakeService{}
	o := newOrchestrator(svc)

	_, err := o.RequestGeneration(context.Background(), sampleRequest(), blockedSnapshot())

	var nr *orchestrator.NotReadyError
	require.ErrorAs(t, err, &nr)
	assert.Equal(t, []domain.ValidationDomain{domain.DomainCourses}, nr.Blocking)
	assert.Empty(t, svc.submissions())
	assert.Equal(t, 0, svc.fetchCount())
	v := o.View()
	assert.Equal(t, orchestrator.StateIdle, v.State)
	assert.Contains(t, v.Message, "courses")
}

func TestRunningProgressMapsToPhase(t *testing.T) {
	svc := &fakeService{status: func(id string, n int) (domain.GenerationJob, error) {
		return running(id, 350), nil
	}}
	o := newOrchestrator(svc)
	t.Cleanup(o.CancelPolling)

	id, err := o.RequestGeneration(context.Background(), sampleRequest(), readySnapshot())
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)

	require.Eventually(t, func() bool { return o.View().Progress.Index == 3 }, waitFor, tick)
	v := o.View()
	assert.Equal(t, orchestrator.StatePolling, v.State)
	assert.Equal(t, domain.JobStatusRunning, v.JobStatus)
	cur, ok := v.Progress.Current()
	require.True(t, ok)
	assert.Equal(t, "Schedule Generation", cur.Label)
}

func TestCompletionStopsPolling(t *testing.T) {
	svc := &fakeService{status: func(id string, n int) (domain.GenerationJob, error) {
		if n < 3 {
			return running(id, float64(n*100)), nil
		}
		return domain.GenerationJob{ID: id, Status: domain.JobStatusCompleted}, nil
	}}
	o := newOrchestrator(svc)

	_, err := o.RequestGeneration(context.Background(), sampleRequest(), readySnapshot())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	v, err := o.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateCompleted, v.State)
	assert.Equal(t, len(progress.Phases), v.Progress.Index)
	assert.Equal(t, 100, v.Progress.Percent)
	assert.Equal(t, orchestrator.MessageCompleted, v.Message)
	assert.NoError(t, v.Err)

	seen := svc.fetchCount()
	time.Sleep(10 * tick)
	assert.Equal(t, seen, svc.fetchCount())
}

func TestDraftIsFailure(t *testing.T) {
	svc := &fakeService{status: func(id string, n int) (domain.GenerationJob, error) {
		return domain.GenerationJob{ID: id, Status: domain.JobStatusDraft, Message: "iteration budget exhausted"}, nil
	}}
	o := newOrchestrator(svc)

	_, err := o.RequestGeneration(context.Background(), sampleRequest(), readySnapshot())
	require.NoError(t, err)

	v := waitState(t, o, orchestrator.StateFailed)
	var jf *orchestrator.JobFailedError
	require.ErrorAs(t, v.Err, &jf)
	assert.Equal(t, domain.JobStatusDraft, jf.Status)
	assert.Equal(t, "job-1", jf.JobID)
	assert.Equal(t, orchestrator.MessageFailed, v.Message)
}

func TestUnrecognisedStatusStopsPolling(t *testing.T) {
	for _, status := range []domain.JobStatus{"cancelled", ""} {
		t.Run(string(status), func(t *testing.T) {
			svc := &fakeService{status: func(id string, n int) (domain.GenerationJob, error) {
				return domain.GenerationJob{ID: id, Status: status}, nil
			}}
			o := newOrchestrator(svc)

			_, err := o.RequestGeneration(context.Background(), sampleRequest(), readySnapshot())
			require.NoError(t, err)

			v := waitState(t, o, orchestrator.StateFailed)
			var us *orchestrator.UnknownStatusError
			require.ErrorAs(t, v.Err, &us)
			assert.Equal(t, status, us.Status)
			assert.Equal(t, orchestrator.MessageFailed, v.Message)

			_, err = o.Wait(context.Background())
			require.NoError(t, err)
			seen := svc.fetchCount()
			time.Sleep(5 * tick)
			assert.Equal(t, seen, svc.fetchCount())
			assert.Equal(t, 1, seen)
		})
	}
}

func TestRegenerateAfterCompletionResubmitsSameRequest(t *testing.T) {
	svc := &fakeService{status: func(id string, n int) (domain.GenerationJob, error) {
		return domain.GenerationJob{ID: id, Status: domain.JobStatusCompleted}, nil
	}}
	o := newOrchestrator(svc)
	ctx := context.Background()

	first, err := o.RequestGeneration(ctx, sampleRequest(), readySnapshot())
	require.NoError(t, err)
	waitState(t, o, orchestrator.StateCompleted)

	second, err := o.Regenerate(ctx, readySnapshot())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	waitState(t, o, orchestrator.StateCompleted)

	subs := svc.submissions()
	require.Len(t, subs, 2)
	assert.Equal(t, subs[0], subs[1])
}

func TestRegenerateWithoutRequest(t *testing.T) {
	o := newOrchestrator(&fakeService{})
	_, err := o.Regenerate(context.Background(), readySnapshot())
	assert.ErrorIs(t, err, orchestrator.ErrNoPreviousRequest)
}

func TestRegenerateRechecksReadiness(t *testing.T) {
	svc := &fakeService{status: func(id string, n int) (domain.GenerationJob, error) {
		return domain.GenerationJob{ID: id, Status: domain.JobStatusCompleted}, nil
	}}
	o := newOrchestrator(svc)
	_, err := o.RequestGeneration(context.Background(), sampleRequest(), readySnapshot())
	require.NoError(t, err)
	waitState(t, o, orchestrator.StateCompleted)

	_, err = o.Regenerate(context.Background(), blockedSnapshot())
	var nr *orchestrator.NotReadyError
	require.ErrorAs(t, err, &nr)
	assert.Len(t, svc.submissions(), 1)
	assert.Equal(t, orchestrator.StateIdle, o.View().State)
}

func TestSecondRequestWhileActiveIsBusy(t *testing.T) {
	svc := &fakeService{}
	o := newOrchestrator(svc)
	t.Cleanup(o.CancelPolling)

	_, err := o.RequestGeneration(context.Background(), sampleRequest(), readySnapshot())
	require.NoError(t, err)
	_, err = o.RequestGeneration(context.Background(), sampleRequest(), readySnapshot())
	assert.ErrorIs(t, err, orchestrator.ErrBusy)
	assert.Len(t, svc.submissions(), 1)
}

func TestSubmissionErrorReturnsToIdle(t *testing.T) {
	svc := &fakeService{submitErr: errors.New("department is required")}
	o := newOrchestrator(svc)

	_, err := o.RequestGeneration(context.Background(), sampleRequest(), readySnapshot())
	var se *orchestrator.SubmissionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "department is required", err.Error())

	v := o.View()
	assert.Equal(t, orchestrator.StateIdle, v.State)
	assert.Equal(t, "department is required", v.Message)
	assert.Equal(t, 0, svc.fetchCount())
}

func TestPollTransportErrorStopsWithoutRetry(t *testing.T) {
	svc := &fakeService{status: func(id string, n int) (domain.GenerationJob, error) {
		return domain.GenerationJob{}, errors.New("connection refused")
	}}
	o := newOrchestrator(svc)

	_, err := o.RequestGeneration(context.Background(), sampleRequest(), readySnapshot())
	require.NoError(t, err)

	v := waitState(t, o, orchestrator.StateIdle)
	var pe *orchestrator.PollingTransportError
	require.ErrorAs(t, v.Err, &pe)
	assert.Equal(t, "job-1", pe.JobID)

	time.Sleep(10 * tick)
	assert.Equal(t, 1, svc.fetchCount())
}

func TestCancelPollingIsIdempotent(t *testing.T) {
	svc := &fakeService{status: func(id string, n int) (domain.GenerationJob, error) {
		return running(id, 120), nil
	}}
	o := newOrchestrator(svc)

	_, err := o.RequestGeneration(context.Background(), sampleRequest(), readySnapshot())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return svc.fetchCount() > 0 }, waitFor, tick)

	o.CancelPolling()
	before := o.View()
	o.CancelPolling()
	after := o.View()

	assert.Equal(t, orchestrator.StatePolling, after.State)
	assert.Equal(t, before.Progress, after.Progress)
	assert.Equal(t, before.JobID, after.JobID)

	seen := svc.fetchCount()
	time.Sleep(10 * tick)
	assert.Equal(t, seen, svc.fetchCount())

	// a cancelled loop no longer blocks new work
	_, err = o.RequestGeneration(context.Background(), sampleRequest(), readySnapshot())
	require.NoError(t, err)
	o.CancelPolling()
}

func TestLateResponseAfterCancelIsDiscarded(t *testing.T) {
	gate := make(chan struct{})
	svc := &fakeService{
		fetchGate: gate,
		fetching:  make(chan struct{}, 1),
		status: func(id string, n int) (domain.GenerationJob, error) {
			return domain.GenerationJob{ID: id, Status: domain.JobStatusCompleted}, nil
		},
	}
	o := newOrchestrator(svc)

	_, err := o.RequestGeneration(context.Background(), sampleRequest(), readySnapshot())
	require.NoError(t, err)
	select {
	case <-svc.fetching:
	case <-time.After(waitFor):
		t.Fatal("fetch never started")
	}

	done := make(chan struct{})
	go func() {
		o.CancelPolling()
		close(done)
	}()
	// CancelPolling has bumped the generation before the response arrives.
	require.Eventually(t, func() bool { return o.View().Generation == 2 }, waitFor, tick)
	close(gate)
	<-done

	v := o.View()
	assert.Equal(t, orchestrator.StatePolling, v.State)
	assert.NotEqual(t, domain.JobStatusCompleted, v.JobStatus)
}

func TestCancelDuringSubmission(t *testing.T) {
	gate := make(chan struct{})
	svc := &fakeService{submitGate: gate}
	o := newOrchestrator(svc)

	errc := make(chan error, 1)
	go func() {
		_, err := o.RequestGeneration(context.Background(), sampleRequest(), readySnapshot())
		errc <- err
	}()
	waitState(t, o, orchestrator.StateSubmitting)

	o.CancelPolling()
	assert.Equal(t, orchestrator.StateIdle, o.View().State)
	close(gate)

	assert.ErrorIs(t, <-errc, orchestrator.ErrCancelled)
	assert.Equal(t, orchestrator.StateIdle, o.View().State)
	time.Sleep(10 * tick)
	assert.Equal(t, 0, svc.fetchCount())
}

func TestPollingTimesOut(t *testing.T) {
	svc := &fakeService{}
	o := orchestrator.New(svc, orchestrator.Options{Interval: tick, Timeout: 40 * time.Millisecond})

	_, err := o.RequestGeneration(context.Background(), sampleRequest(), readySnapshot())
	require.NoError(t, err)

	v := waitState(t, o, orchestrator.StateIdle)
	var te *orchestrator.TimeoutError
	require.ErrorAs(t, v.Err, &te)
	assert.Equal(t, 40*time.Millisecond, te.After)
}

func TestSubmittedPayloadIsSnapshot(t *testing.T) {
	svc := &fakeService{}
	o := newOrchestrator(svc)
	t.Cleanup(o.CancelPolling)

	req := sampleRequest()
	_, err := o.RequestGeneration(context.Background(), req, readySnapshot())
	require.NoError(t, err)
	req.Settings.OptimizationGoals[0] = "compact_days"

	subs := svc.submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, []string{"balance_workload", "minimize_gaps"}, subs[0].Settings.OptimizationGoals)
}

func TestUpdatesDeliversLatestView(t *testing.T) {
	svc := &fakeService{status: func(id string, n int) (domain.GenerationJob, error) {
		return domain.GenerationJob{ID: id, Status: domain.JobStatusCompleted}, nil
	}}
	o := newOrchestrator(svc)

	_, err := o.RequestGeneration(context.Background(), sampleRequest(), readySnapshot())
	require.NoError(t, err)
	waitState(t, o, orchestrator.StateCompleted)

	select {
	case v := <-o.Updates():
		assert.Equal(t, orchestrator.StateCompleted, v.State)
	default:
		t.Fatal("no update published")
	}
}

package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ValidationDomain names one area of institutional data that must be complete
// before a timetable can be generated.
type ValidationDomain string

const (
	DomainTeachers   ValidationDomain = "teachers"
	DomainClassrooms ValidationDomain = "classrooms"
	DomainPrograms   ValidationDomain = "programs"
	DomainCourses    ValidationDomain = "courses"
	DomainPolicies   ValidationDomain = "policies"
	DomainCalendar   ValidationDomain = "calendar"
)

// ValidationDomains lists every domain in display order.
var ValidationDomains = []ValidationDomain{
	DomainTeachers,
	DomainClassrooms,
	DomainPrograms,
	DomainCourses,
	DomainPolicies,
	DomainCalendar,
}

func (d ValidationDomain) Valid() bool {
	for _, known := range ValidationDomains {
		if d == known {
			return true
		}
	}
	return false
}

type DomainStatus string

const (
	DomainStatusUnknown   DomainStatus = "unknown"
	DomainStatusPending   DomainStatus = "pending"
	DomainStatusCompleted DomainStatus = "completed"
)

// Issue is a single problem reported against a validation domain.
// Issues with severity "warning" do not block generation.
type Issue struct {
	Code     string `json:"code,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity,omitempty" enum:"error,warning"`
}

func (i Issue) Blocking() bool {
	return i.Severity != "warning"
}

// Issues accepts either a bare count or a list of issue descriptors on the wire.
// A bare count carries no severity, so every counted issue is treated as blocking.
type Issues struct {
	Count int
	Items []Issue
}

func (is Issues) MarshalJSON() ([]byte, error) {
	if len(is.Items) > 0 {
		return json.Marshal(is.Items)
	}
	return json.Marshal(is.Count)
}

func (is *Issues) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*is = Issues{}
		return nil
	}
	if trimmed[0] == '[' {
		var items []Issue
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return fmt.Errorf("invalid issues list: %w", err)
		}
		*is = Issues{Count: len(items), Items: items}
		return nil
	}
	var n int
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("issues must be a count or a list: %w", err)
	}
	*is = Issues{Count: n}
	return nil
}

// BlockingCount returns how many issues hold the readiness gate.
func (is Issues) BlockingCount() int {
	if len(is.Items) == 0 {
		return is.Count
	}
	n := 0
	for _, it := range is.Items {
		if it.Blocking() {
			n++
		}
	}
	return n
}

type DomainState struct {
	Status DomainStatus `json:"status" enum:"unknown,pending,completed"`
	Count  int          `json:"count"`
	Issues Issues       `json:"issues"`
}

type Overall struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
}

// ValidationSnapshot is the readiness state of every domain as reported by the
// validation service. Overall.Ready is authoritative; clients never derive it.
type ValidationSnapshot struct {
	Domains map[ValidationDomain]DomainState `json:"domains"`
	Overall Overall                          `json:"overall"`
}

// Hyperparameter identifiers an algorithm may declare as applicable.
const (
	ParamMaxIterations  = "max_iterations"
	ParamPopulationSize = "population_size"
	ParamCrossoverRate  = "crossover_rate"
	ParamMutationRate   = "mutation_rate"
)

type AlgorithmDescriptor struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Parameters  []string `json:"parameters"`
}

// Supports reports whether param is in the algorithm's declared parameter set.
func (a AlgorithmDescriptor) Supports(param string) bool {
	for _, p := range a.Parameters {
		if p == param {
			return true
		}
	}
	return false
}

// PopulationBased reports whether the algorithm is tuned with a population and
// genetic-style rates.
func (a AlgorithmDescriptor) PopulationBased() bool {
	return a.Supports(ParamPopulationSize)
}

type OptimizationGoal struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Break struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// WorkingWeek describes the teaching days and daily slot grid sent with every request.
type WorkingWeek struct {
	Days         []string `json:"days" yaml:"days"`
	StartTime    string   `json:"start_time" yaml:"start_time"`
	EndTime      string   `json:"end_time" yaml:"end_time"`
	SlotDuration int      `json:"slot_duration_minutes" yaml:"slot_duration_minutes"`
	Breaks       []Break  `json:"breaks" yaml:"breaks" required:"false" nullable:"true"`
}

type RequestSettings struct {
	Algorithm             string      `json:"algorithm"`
	MaxIterations         int         `json:"max_iterations"`
	PopulationSize        *int        `json:"population_size,omitempty"`
	CrossoverRate         *float64    `json:"crossover_rate,omitempty"`
	MutationRate          *float64    `json:"mutation_rate,omitempty"`
	OptimizationGoals     []string    `json:"optimization_goals"`
	WorkingWeek           WorkingWeek `json:"working_week"`
	AllowBackToBack       bool        `json:"allow_back_to_back"`
	EnforceBreaks         bool        `json:"enforce_breaks"`
	BalanceWorkload       bool        `json:"balance_workload"`
	PrioritizePreferences bool        `json:"prioritize_preferences"`
}

// GenerationRequest is the submission payload for one generation attempt.
type GenerationRequest struct {
	Name         string          `json:"name"`
	AcademicYear string          `json:"academic_year"`
	Semester     string          `json:"semester"`
	Department   string          `json:"department"`
	Year         int             `json:"year"`
	Settings     RequestSettings `json:"settings"`
}

// Clone returns a deep copy so callers can hold a request without sharing slices.
func (r GenerationRequest) Clone() GenerationRequest {
	out := r
	if r.Settings.OptimizationGoals != nil {
		out.Settings.OptimizationGoals = append([]string{}, r.Settings.OptimizationGoals...)
	}
	out.Settings.WorkingWeek.Days = append([]string(nil), r.Settings.WorkingWeek.Days...)
	out.Settings.WorkingWeek.Breaks = append([]Break(nil), r.Settings.WorkingWeek.Breaks...)
	if r.Settings.PopulationSize != nil {
		v := *r.Settings.PopulationSize
		out.Settings.PopulationSize = &v
	}
	if r.Settings.CrossoverRate != nil {
		v := *r.Settings.CrossoverRate
		out.Settings.CrossoverRate = &v
	}
	if r.Settings.MutationRate != nil {
		v := *r.Settings.MutationRate
		out.Settings.MutationRate = &v
	}
	return out
}

type SubmitResult struct {
	JobID string `json:"job_id"`
}

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusDraft     JobStatus = "draft"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the server will not change the job status again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusDraft, JobStatusFailed:
		return true
	}
	return false
}

type GenerationJob struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Algorithm   string    `json:"algorithm,omitempty"`
	Status      JobStatus `json:"status" enum:"queued,running,completed,draft,failed"`
	Progress    *float64  `json:"progress,omitempty"`
	Message     string    `json:"message,omitempty"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   string    `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt   string    `json:"updated_at,omitempty" format:"date-time"`
	CompletedAt *string   `json:"completed_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

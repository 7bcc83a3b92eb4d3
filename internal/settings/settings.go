// Package settings models the operator-editable configuration of a generation
// request. It has no network or polling side effects.
package settings

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/catalog"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/domain"
)

var (
	ErrUnknownAlgorithm = errors.New("unknown algorithm")
	ErrUnknownGoal      = errors.New("unknown optimization goal")
	ErrNotApplicable    = errors.New("parameter not applicable to algorithm")
	ErrOutOfRange       = errors.New("value out of range")
)

// Policy holds the boolean scheduling rules sent with a request.
type Policy struct {
	AllowBackToBack       bool `json:"allow_back_to_back" yaml:"allow_back_to_back"`
	EnforceBreaks         bool `json:"enforce_breaks" yaml:"enforce_breaks"`
	BalanceWorkload       bool `json:"balance_workload" yaml:"balance_workload"`
	PrioritizePreferences bool `json:"prioritize_preferences" yaml:"prioritize_preferences"`
}

// Values is a plain copy of every setting. It seeds a Settings and is what
// Snapshot returns.
type Values struct {
	Algorithm      string   `json:"algorithm" yaml:"algorithm"`
	MaxIterations  int      `json:"max_iterations" yaml:"max_iterations"`
	PopulationSize int      `json:"population_size" yaml:"population_size"`
	CrossoverRate  float64  `json:"crossover_rate" yaml:"crossover_rate"`
	MutationRate   float64  `json:"mutation_rate" yaml:"mutation_rate"`
	Goals          []string `json:"optimization_goals" yaml:"optimization_goals"`
	Policy         Policy   `json:"policy" yaml:"policy"`
}

// RequestMeta identifies what the timetable is for.
type RequestMeta struct {
	Name         string `json:"name" yaml:"name"`
	AcademicYear string `json:"academic_year" yaml:"academic_year"`
	Semester     string `json:"semester" yaml:"semester"`
	Department   string `json:"department" yaml:"department"`
	Year         int    `json:"year" yaml:"year"`
}

// Settings is the mutable model edited before submission. It is not safe for
// concurrent use; the orchestrator only ever sees snapshots.
type Settings struct {
	catalog        catalog.Catalog
	algorithm      domain.AlgorithmDescriptor
	maxIterations  int
	populationSize int
	crossoverRate  float64
	mutationRate   float64
	goals          []string
	Policy         Policy
}

// New validates defaults against the catalog and returns an editable model.
func New(cat catalog.Catalog, defaults Values) (*Settings, error) {
	s := &Settings{catalog: cat, Policy: defaults.Policy}
	if err := s.SetAlgorithm(defaults.Algorithm); err != nil {
		return nil, err
	}
	if err := s.SetMaxIterations(defaults.MaxIterations); err != nil {
		return nil, err
	}
	// Population parameters are stored even for algorithms that ignore them so
	// switching back to a population-based algorithm restores them.
	if defaults.PopulationSize <= 0 {
		return nil, fmt.Errorf("%w: population_size must be positive", ErrOutOfRange)
	}
	s.populationSize = defaults.PopulationSize
	if err := checkRate("crossover_rate", defaults.CrossoverRate); err != nil {
		return nil, err
	}
	s.crossoverRate = defaults.CrossoverRate
	if err := checkRate("mutation_rate", defaults.MutationRate); err != nil {
		return nil, err
	}
	s.mutationRate = defaults.MutationRate
	for _, g := range defaults.Goals {
		if !s.HasGoal(g) {
			if err := s.ToggleGoal(g); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

func (s *Settings) Algorithm() domain.AlgorithmDescriptor {
	return s.algorithm
}

// Applicable reports whether param may be displayed and edited for the
// currently selected algorithm.
func (s *Settings) Applicable(param string) bool {
	return s.algorithm.Supports(param)
}

func (s *Settings) SetAlgorithm(id string) error {
	a, ok := s.catalog.Algorithm(strings.TrimSpace(id))
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAlgorithm, id)
	}
	s.algorithm = a
	return nil
}

func (s *Settings) SetMaxIterations(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: max_iterations must be positive, got %d", ErrOutOfRange, n)
	}
	s.maxIterations = n
	return nil
}

func (s *Settings) SetPopulationSize(n int) error {
	if err := s.requireApplicable(domain.ParamPopulationSize); err != nil {
		return err
	}
	if n <= 0 {
		return fmt.Errorf("%w: population_size must be positive, got %d", ErrOutOfRange, n)
	}
	s.populationSize = n
	return nil
}

// SetCrossoverRate stores r as given; values outside [0,1] are rejected, never clamped.
func (s *Settings) SetCrossoverRate(r float64) error {
	if err := s.requireApplicable(domain.ParamCrossoverRate); err != nil {
		return err
	}
	if err := checkRate("crossover_rate", r); err != nil {
		return err
	}
	s.crossoverRate = r
	return nil
}

func (s *Settings) SetMutationRate(r float64) error {
	if err := s.requireApplicable(domain.ParamMutationRate); err != nil {
		return err
	}
	if err := checkRate("mutation_rate", r); err != nil {
		return err
	}
	s.mutationRate = r
	return nil
}

// ToggleGoal removes id if selected and adds it otherwise.
func (s *Settings) ToggleGoal(id string) error {
	if _, ok := s.catalog.Goal(id); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownGoal, id)
	}
	for i, g := range s.goals {
		if g == id {
			s.goals = append(s.goals[:i:i], s.goals[i+1:]...)
			return nil
		}
	}
	s.goals = append(s.goals, id)
	return nil
}

func (s *Settings) HasGoal(id string) bool {
	for _, g := range s.goals {
		if g == id {
			return true
		}
	}
	return false
}

// Snapshot returns a detached copy; later edits do not affect it.
func (s *Settings) Snapshot() Values {
	goals := append([]string(nil), s.goals...)
	sort.Strings(goals)
	return Values{
		Algorithm:      s.algorithm.ID,
		MaxIterations:  s.maxIterations,
		PopulationSize: s.populationSize,
		CrossoverRate:  s.crossoverRate,
		MutationRate:   s.mutationRate,
		Goals:          goals,
		Policy:         s.Policy,
	}
}

// Validate re-checks every value against the catalog. Setters already enforce
// these rules; Validate catches a catalog that changed underneath the model.
func (s *Settings) Validate() error {
	a, ok := s.catalog.Algorithm(s.algorithm.ID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s.algorithm.ID)
	}
	if s.maxIterations <= 0 {
		return fmt.Errorf("%w: max_iterations must be positive, got %d", ErrOutOfRange, s.maxIterations)
	}
	if a.Supports(domain.ParamPopulationSize) && s.populationSize <= 0 {
		return fmt.Errorf("%w: population_size must be positive, got %d", ErrOutOfRange, s.populationSize)
	}
	if a.Supports(domain.ParamCrossoverRate) {
		if err := checkRate("crossover_rate", s.crossoverRate); err != nil {
			return err
		}
	}
	if a.Supports(domain.ParamMutationRate) {
		if err := checkRate("mutation_rate", s.mutationRate); err != nil {
			return err
		}
	}
	for _, g := range s.goals {
		if _, ok := s.catalog.Goal(g); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownGoal, g)
		}
	}
	return nil
}

// Payload builds the submission payload from a snapshot of the current
// settings. Hyperparameters the algorithm does not declare are omitted.
func (s *Settings) Payload(meta RequestMeta, week domain.WorkingWeek) domain.GenerationRequest {
	v := s.Snapshot()
	rs := domain.RequestSettings{
		Algorithm:             v.Algorithm,
		MaxIterations:         v.MaxIterations,
		OptimizationGoals:     v.Goals,
		WorkingWeek:           cloneWeek(week),
		AllowBackToBack:       v.Policy.AllowBackToBack,
		EnforceBreaks:         v.Policy.EnforceBreaks,
		BalanceWorkload:       v.Policy.BalanceWorkload,
		PrioritizePreferences: v.Policy.PrioritizePreferences,
	}
	if rs.OptimizationGoals == nil {
		rs.OptimizationGoals = []string{}
	}
	if s.Applicable(domain.ParamPopulationSize) {
		n := v.PopulationSize
		rs.PopulationSize = &n
	}
	if s.Applicable(domain.ParamCrossoverRate) {
		r := v.CrossoverRate
		rs.CrossoverRate = &r
	}
	if s.Applicable(domain.ParamMutationRate) {
		r := v.MutationRate
		rs.MutationRate = &r
	}
	return domain.GenerationRequest{
		Name:         meta.Name,
		AcademicYear: meta.AcademicYear,
		Semester:     meta.Semester,
		Department:   meta.Department,
		Year:         meta.Year,
		Settings:     rs,
	}
}

func (s *Settings) requireApplicable(param string) error {
	if !s.Applicable(param) {
		return fmt.Errorf("%w: %s is not used by %s", ErrNotApplicable, param, s.algorithm.ID)
	}
	return nil
}

func checkRate(name string, r float64) error {
	if math.IsNaN(r) || r < 0 || r > 1 {
		return fmt.Errorf("%w: %s must be within [0,1], got %v", ErrOutOfRange, name, r)
	}
	return nil
}

func cloneWeek(w domain.WorkingWeek) domain.WorkingWeek {
	out := w
	out.Days = append([]string(nil), w.Days...)
	out.Breaks = append([]domain.Break(nil), w.Breaks...)
	return out
}

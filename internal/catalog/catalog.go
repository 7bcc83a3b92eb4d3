// Package catalog holds the selectable generation algorithms and optimization goals.
package catalog

import (
	"context"
	"fmt"

	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/domain"
)

const (
	AlgorithmGenetic            = "genetic"
	AlgorithmBacktracking       = "backtracking"
	AlgorithmSimulatedAnnealing = "simulated_annealing"
)

// Source loads reference data from the generation service.
type Source interface {
	FetchAlgorithmCatalog(ctx context.Context) ([]domain.AlgorithmDescriptor, error)
	FetchOptimizationGoals(ctx context.Context) ([]domain.OptimizationGoal, error)
}

// Catalog is immutable once built; lookups return copies.
type Catalog struct {
	algorithms []domain.AlgorithmDescriptor
	goals      []domain.OptimizationGoal
}

// New builds a catalog, rejecting duplicate or empty ids.
func New(algorithms []domain.AlgorithmDescriptor, goals []domain.OptimizationGoal) (Catalog, error) {
	seen := map[string]bool{}
	for _, a := range algorithms {
		if a.ID == "" {
			return Catalog{}, fmt.Errorf("catalog: algorithm with empty id")
		}
		if seen[a.ID] {
			return Catalog{}, fmt.Errorf("catalog: duplicate algorithm %s", a.ID)
		}
		seen[a.ID] = true
	}
	seen = map[string]bool{}
	for _, g := range goals {
		if g.ID == "" {
			return Catalog{}, fmt.Errorf("catalog: goal with empty id")
		}
		if seen[g.ID] {
			return Catalog{}, fmt.Errorf("catalog: duplicate goal %s", g.ID)
		}
		seen[g.ID] = true
	}
	c := Catalog{
		algorithms: make([]domain.AlgorithmDescriptor, 0, len(algorithms)),
		goals:      append([]domain.OptimizationGoal(nil), goals...),
	}
	for _, a := range algorithms {
		a.Parameters = append([]string(nil), a.Parameters...)
		c.algorithms = append(c.algorithms, a)
	}
	return c, nil
}

// Load fetches algorithms and goals once from src.
func Load(ctx context.Context, src Source) (Catalog, error) {
	algorithms, err := src.FetchAlgorithmCatalog(ctx)
	if err != nil {
		return Catalog{}, fmt.Errorf("catalog: fetch algorithms: %w", err)
	}
	goals, err := src.FetchOptimizationGoals(ctx)
	if err != nil {
		return Catalog{}, fmt.Errorf("catalog: fetch goals: %w", err)
	}
	return New(algorithms, goals)
}

// Default returns the built-in catalog served by the generation service.
func Default() Catalog {
	c, _ := New(defaultAlgorithms(), defaultGoals())
	return c
}

func (c Catalog) Algorithms() []domain.AlgorithmDescriptor {
	out := make([]domain.AlgorithmDescriptor, len(c.algorithms))
	for i, a := range c.algorithms {
		a.Parameters = append([]string(nil), a.Parameters...)
		out[i] = a
	}
	return out
}

func (c Catalog) Goals() []domain.OptimizationGoal {
	return append([]domain.OptimizationGoal(nil), c.goals...)
}

func (c Catalog) Algorithm(id string) (domain.AlgorithmDescriptor, bool) {
	for _, a := range c.algorithms {
		if a.ID == id {
			a.Parameters = append([]string(nil), a.Parameters...)
			return a, true
		}
	}
	return domain.AlgorithmDescriptor{}, false
}

func (c Catalog) Goal(id string) (domain.OptimizationGoal, bool) {
	for _, g := range c.goals {
		if g.ID == id {
			return g, true
		}
	}
	return domain.OptimizationGoal{}, false
}

func defaultAlgorithms() []domain.AlgorithmDescriptor {
	return []domain.AlgorithmDescriptor{
		{
			ID:          AlgorithmGenetic,
			Name:        "Genetic Algorithm",
			Description: "Evolves a population of candidate timetables through crossover and mutation.",
			Parameters: []string{
				domain.ParamMaxIterations,
				domain.ParamPopulationSize,
				domain.ParamCrossoverRate,
				domain.ParamMutationRate,
			},
		},
		{
			ID:          AlgorithmBacktracking,
			Name:        "Backtracking",
			Description: "Assigns sessions one by one and backtracks on constraint violations.",
			Parameters:  []string{domain.ParamMaxIterations},
		},
		{
			ID:          AlgorithmSimulatedAnnealing,
			Name:        "Simulated Annealing",
			Description: "Refines a single timetable, accepting worse moves with decreasing probability.",
			Parameters:  []string{domain.ParamMaxIterations},
		},
	}
}

func defaultGoals() []domain.OptimizationGoal {
	return []domain.OptimizationGoal{
		{ID: "minimize_gaps", Name: "Minimize gaps", Description: "Reduce idle periods between classes."},
		{ID: "balance_workload", Name: "Balance workload", Description: "Spread teaching hours evenly across teachers."},
		{ID: "respect_preferences", Name: "Respect preferences", Description: "Honour teacher time and room preferences."},
		{ID: "minimize_room_changes", Name: "Minimize room changes", Description: "Keep consecutive sessions in the same room."},
		{ID: "compact_days", Name: "Compact days", Description: "Prefer fewer teaching days per group."},
	}
}

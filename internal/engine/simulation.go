package engine

import (
	"math"
	"time"

	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/config"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/domain"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/progress"
)

// draftPhase is the phase at which an under-budgeted run gives up and saves a draft.
const draftPhase = 5

const draftMessage = "iteration budget below minimum; best partial schedule saved as draft"

// Simulation derives a job's status from wall-clock time. A job waits
// QueueDelay, then advances one phase per PhaseDuration on the
// progress.PhaseScale scale until all phases are done.
type Simulation struct {
	PhaseDuration time.Duration
	QueueDelay    time.Duration
	MinIterations int
}

func SimulationFromConfig(c config.SimulationConfig) Simulation {
	return Simulation{PhaseDuration: c.PhaseDuration, QueueDelay: c.QueueDelay, MinIterations: c.MinIterations}
}

// State returns the status and raw progress of a job created at created,
// observed at now.
func (s Simulation) State(created, now time.Time, maxIterations int) (domain.JobStatus, float64) {
	elapsed := now.Sub(created)
	if elapsed < s.QueueDelay {
		return domain.JobStatusQueued, 0
	}
	phaseDuration := s.PhaseDuration
	if phaseDuration <= 0 {
		phaseDuration = time.Second
	}
	p := math.Floor(float64(elapsed-s.QueueDelay) / float64(phaseDuration) * progress.PhaseScale)
	total := float64(progress.PhaseScale * len(progress.Phases))
	if maxIterations < s.MinIterations {
		limit := float64(progress.PhaseScale * draftPhase)
		if p >= limit {
			return domain.JobStatusDraft, limit
		}
	}
	if p >= total {
		return domain.JobStatusCompleted, total
	}
	return domain.JobStatusRunning, p
}

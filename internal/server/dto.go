package server

import (
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/domain"
)

// Request payloads

type DomainUpdateRequest struct {
	Status     domain.DomainStatus `json:"status" enum:"unknown,pending,completed"`
	Count      int                 `json:"count,omitempty" minimum:"0"`
	Issues     []domain.Issue      `json:"issues,omitempty"`
	IssueCount *int                `json:"issue_count,omitempty" minimum:"0"`
}

func (r DomainUpdateRequest) state() domain.DomainState {
	st := domain.DomainState{Status: r.Status, Count: r.Count}
	switch {
	case len(r.Issues) > 0:
		st.Issues = domain.Issues{Count: len(r.Issues), Items: r.Issues}
	case r.IssueCount != nil:
		st.Issues = domain.Issues{Count: *r.IssueCount}
	}
	return st
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id" example:"registrar"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type AlgorithmListResponse struct {
	Items []domain.AlgorithmDescriptor `json:"items"`
}

type GoalListResponse struct {
	Items []domain.OptimizationGoal `json:"items"`
}

type JobListResponse struct {
	Items []domain.GenerationJob `json:"items"`
}

type EventListResponse struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

type SubmitResponse struct {
	JobID  string           `json:"job_id"`
	Status domain.JobStatus `json:"status"`
}

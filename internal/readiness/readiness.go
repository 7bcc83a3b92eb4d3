// Package readiness reads validation snapshots and owns the single rule that
// decides whether institutional data is complete enough to generate a timetable.
package readiness

import (
	"context"
	"fmt"
	"strings"

	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/domain"
)

const (
	OverallReady    = "ready"
	OverallNotReady = "incomplete"
)

// Source fetches the raw snapshot from the validation service.
type Source interface {
	FetchValidationSnapshot(ctx context.Context) (domain.ValidationSnapshot, error)
}

// Reader normalizes snapshots so every domain is present with a known status.
type Reader struct {
	Source Source
}

func NewReader(src Source) Reader {
	return Reader{Source: src}
}

// Read fetches and normalizes the current snapshot. The overall ready flag is
// passed through unchanged; a snapshot without one reads as not ready.
func (r Reader) Read(ctx context.Context) (domain.ValidationSnapshot, error) {
	if r.Source == nil {
		return domain.ValidationSnapshot{}, fmt.Errorf("readiness: no source configured")
	}
	snap, err := r.Source.FetchValidationSnapshot(ctx)
	if err != nil {
		return domain.ValidationSnapshot{}, fmt.Errorf("readiness: fetch snapshot: %w", err)
	}
	return Normalize(snap), nil
}

// Normalize fills missing domains, folds unrecognised statuses to unknown and
// clamps negative counts.
func Normalize(snap domain.ValidationSnapshot) domain.ValidationSnapshot {
	out := domain.ValidationSnapshot{
		Domains: make(map[domain.ValidationDomain]domain.DomainState, len(domain.ValidationDomains)),
		Overall: snap.Overall,
	}
	for _, d := range domain.ValidationDomains {
		st, ok := snap.Domains[d]
		if !ok {
			out.Domains[d] = domain.DomainState{Status: domain.DomainStatusUnknown}
			continue
		}
		st.Status = normalizeStatus(st.Status)
		if st.Count < 0 {
			st.Count = 0
		}
		if st.Issues.Count < 0 {
			st.Issues.Count = 0
		}
		out.Domains[d] = st
	}
	if strings.TrimSpace(out.Overall.Status) == "" {
		out.Overall.Status = OverallNotReady
		if out.Overall.Ready {
			out.Overall.Status = OverallReady
		}
	}
	return out
}

func normalizeStatus(s domain.DomainStatus) domain.DomainStatus {
	switch domain.DomainStatus(strings.ToLower(strings.TrimSpace(string(s)))) {
	case domain.DomainStatusCompleted:
		return domain.DomainStatusCompleted
	case domain.DomainStatusPending:
		return domain.DomainStatusPending
	default:
		return domain.DomainStatusUnknown
	}
}

// Evaluate computes the overall summary for a set of domain states. It is the
// only place readiness is derived; the validation service calls it and clients
// consume its result.
func Evaluate(domains map[domain.ValidationDomain]domain.DomainState) domain.Overall {
	for _, d := range domain.ValidationDomains {
		st, ok := domains[d]
		if !ok || st.Status != domain.DomainStatusCompleted || st.Issues.BlockingCount() > 0 {
			return domain.Overall{Status: OverallNotReady, Ready: false}
		}
	}
	return domain.Overall{Status: OverallReady, Ready: true}
}

// Blocking lists the domains that currently hold the gate, in display order.
// It is used to explain a closed gate, never to open one.
func Blocking(snap domain.ValidationSnapshot) []domain.ValidationDomain {
	var out []domain.ValidationDomain
	for _, d := range domain.ValidationDomains {
		st, ok := snap.Domains[d]
		if !ok || st.Status != domain.DomainStatusCompleted || st.Issues.BlockingCount() > 0 {
			out = append(out, d)
		}
	}
	return out
}

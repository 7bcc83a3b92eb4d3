package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/domain"
)

// UpsertDomain stores the validation state of one domain.
func (r Repo) UpsertDomain(ctx context.Context, tx *sql.Tx, d domain.ValidationDomain, state domain.DomainState, updatedAt string) error {
	if !d.Valid() {
		return fmt.Errorf("unknown validation domain %q", d)
	}
	var issuesJSON any
	if len(state.Issues.Items) > 0 {
		data, err := json.Marshal(state.Issues.Items)
		if err != nil {
			return fmt.Errorf("marshal issues: %w", err)
		}
		issuesJSON = string(data)
	}
	_, err := r.exec(tx).ExecContext(ctx, `INSERT INTO validation_domains(domain,status,count,issue_count,issues_json,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(domain) DO UPDATE SET status=excluded.status, count=excluded.count, issue_count=excluded.issue_count, issues_json=excluded.issues_json, updated_at=excluded.updated_at`,
		string(d), string(state.Status), state.Count, state.Issues.Count, issuesJSON, updatedAt)
	return err
}

// ListDomains returns every stored domain state keyed by domain. Domains never
// written are absent.
func (r Repo) ListDomains(ctx context.Context) (map[domain.ValidationDomain]domain.DomainState, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT domain,status,count,issue_count,COALESCE(issues_json,'') FROM validation_domains`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[domain.ValidationDomain]domain.DomainState{}
	for rows.Next() {
		var (
			name, status, issuesJSON string
			state                    domain.DomainState
		)
		if err := rows.Scan(&name, &status, &state.Count, &state.Issues.Count, &issuesJSON); err != nil {
			return nil, err
		}
		state.Status = domain.DomainStatus(status)
		if issuesJSON != "" {
			if err := json.Unmarshal([]byte(issuesJSON), &state.Issues.Items); err != nil {
				return nil, fmt.Errorf("decode issues for %s: %w", name, err)
			}
		}
		out[domain.ValidationDomain(name)] = state
	}
	return out, rows.Err()
}

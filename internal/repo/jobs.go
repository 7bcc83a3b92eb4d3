package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/domain"
)

// JobRecord is a stored generation job together with the request that started it.
type JobRecord struct {
	Job           domain.GenerationJob
	MaxIterations int
	Request       domain.GenerationRequest
}

type JobFilters struct {
	Status domain.JobStatus
	Limit  int
}

const (
	jobInsertColumns = `id,name,algorithm,max_iterations,status,progress,message,request_json,created_by,created_at,updated_at,completed_at`
	jobColumns       = `id,name,algorithm,max_iterations,status,progress,COALESCE(message,''),request_json,created_by,created_at,updated_at,completed_at`
)

func (r Repo) InsertJob(ctx context.Context, tx *sql.Tx, rec JobRecord) error {
	if rec.Job.ID == "" {
		return fmt.Errorf("job id required")
	}
	reqJSON, err := json.Marshal(rec.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	var progress float64
	if rec.Job.Progress != nil {
		progress = *rec.Job.Progress
	}
	j := rec.Job
	_, err = r.exec(tx).ExecContext(ctx, `INSERT INTO jobs(`+jobInsertColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.Name, j.Algorithm, rec.MaxIterations, string(j.Status), progress, nullable(j.Message), string(reqJSON),
		j.CreatedBy, j.CreatedAt, j.UpdatedAt, nullableStringPtr(j.CompletedAt))
	return err
}

// UpdateJobState writes the mutable fields of a job.
func (r Repo) UpdateJobState(ctx context.Context, tx *sql.Tx, job domain.GenerationJob) error {
	var progress float64
	if job.Progress != nil {
		progress = *job.Progress
	}
	res, err := r.exec(tx).ExecContext(ctx, `UPDATE jobs SET status=?, progress=?, message=?, updated_at=?, completed_at=? WHERE id=?`,
		string(job.Status), progress, nullable(job.Message), job.UpdatedAt, nullableStringPtr(job.CompletedAt), job.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetJob(ctx context.Context, id string) (JobRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	if err != nil {
		return JobRecord{}, err
	}
	recs, err := scanJobs(rows)
	if err != nil {
		return JobRecord{}, err
	}
	if len(recs) == 0 {
		return JobRecord{}, ErrNotFound
	}
	return recs[0], nil
}

// ListJobs returns jobs newest first.
func (r Repo) ListJobs(ctx context.Context, f JobFilters) ([]JobRecord, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

// ListActiveJobs returns queued and running jobs, oldest first.
func (r Repo) ListActiveJobs(ctx context.Context) ([]JobRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status IN (?,?) ORDER BY created_at ASC, id ASC`,
		string(domain.JobStatusQueued), string(domain.JobStatusRunning))
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]JobRecord, error) {
	defer rows.Close()
	var res []JobRecord
	for rows.Next() {
		var (
			rec       JobRecord
			status    string
			progress  float64
			reqJSON   string
			completed sql.NullString
		)
		j := &rec.Job
		if err := rows.Scan(&j.ID, &j.Name, &j.Algorithm, &rec.MaxIterations, &status, &progress, &j.Message, &reqJSON,
			&j.CreatedBy, &j.CreatedAt, &j.UpdatedAt, &completed); err != nil {
			return nil, err
		}
		j.Status = domain.JobStatus(status)
		j.Progress = &progress
		if completed.Valid {
			v := completed.String
			j.CompletedAt = &v
		}
		if err := json.Unmarshal([]byte(reqJSON), &rec.Request); err != nil {
			return nil, fmt.Errorf("decode request for job %s: %w", j.ID, err)
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

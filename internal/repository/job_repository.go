package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/leadflow-backend/internal/errors"
	"github.com/unclebandit/leadflow-backend/internal/model"
)

const jobColumns = `id, owner, kind, status, progress, message, payload_ref, created_at, updated_at`

type JobRepository struct {
	DB *sql.DB
}

func scanJob(row rowScanner) (*model.Job, error) {
	var j model.Job
	var owner sql.NullString
	err := row.Scan(&j.ID, &owner, &j.Kind, &j.Status, &j.Progress, &j.Message, &j.PayloadRef, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if owner.Valid {
		j.Owner = &owner.String
	}
	return &j, nil
}

func (r *JobRepository) Create(ctx context.Context, j *model.Job) error {
	query := `
        INSERT INTO jobs (id, owner, kind, status, progress, message, payload_ref)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING created_at, updated_at
    `
	err := r.DB.QueryRowContext(ctx, query, j.ID, j.Owner, j.Kind, j.Status, j.Progress, j.Message, j.PayloadRef).
		Scan(&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id=$1`
	j, err := scanJob(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NotFound("job", id)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// Update writes only the fields set in u. Progress is never lowered, a
// terminal status forces progress to 100 and terminal rows are never touched.
func (r *JobRepository) Update(ctx context.Context, id string, u model.JobUpdate) error {
	if u.IsEmpty() {
		return nil
	}

	sets := []string{}
	args := []any{}
	argPos := 1

	if u.Status != nil {
		sets = append(sets, fmt.Sprintf("status=$%d", argPos))
		args = append(args, *u.Status)
		argPos++
	}
	if u.Status != nil && u.Status.IsTerminal() {
		sets = append(sets, "progress=100")
	} else if u.Progress != nil {
		sets = append(sets, fmt.Sprintf("progress=GREATEST(progress, $%d)", argPos))
		args = append(args, min(max(*u.Progress, 0), 100))
		argPos++
	}
	if u.Message != nil {
		sets = append(sets, fmt.Sprintf("message=$%d", argPos))
		args = append(args, *u.Message)
		argPos++
	}
	sets = append(sets, "updated_at=NOW()")

	query := fmt.Sprintf("UPDATE jobs SET %s WHERE id=$%d AND status NOT IN ('COMPLETE', 'FAILED')",
		strings.Join(sets, ", "), argPos)
	args = append(args, id)
	argPos++

	if u.Status != nil {
		query += fmt.Sprintf(" AND status = ANY($%d)", argPos)
		args = append(args, pq.Array(statusStrings(model.SourceStatuses(*u.Status))))
	}

	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n == 0 {
		return r.explainMiss(ctx, id)
	}
	return nil
}

func (r *JobRepository) Claim(ctx context.Context, id, message string) (*model.Job, error) {
	query := `
        UPDATE jobs SET status='PROCESSING', message=$2, updated_at=NOW()
        WHERE id=$1 AND status='PENDING'
        RETURNING ` + jobColumns
	j, err := scanJob(r.DB.QueryRowContext(ctx, query, id, message))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.explainMiss(ctx, id)
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return j, nil
}

func (r *JobRepository) ListStale(ctx context.Context, status model.JobStatus, olderThan time.Time) ([]*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status=$1 AND updated_at < $2 ORDER BY updated_at ASC`
	rows, err := r.DB.QueryContext(ctx, query, status, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*model.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// explainMiss turns a conditional write that touched no row into NotFound or
// Conflict.
func (r *JobRepository) explainMiss(ctx context.Context, id string) error {
	j, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return appErrors.Conflict("job %s is %s and cannot be changed", id, j.Status)
}

func statusStrings(in []model.JobStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

var _ JobRepositoryInterface = (*JobRepository)(nil)

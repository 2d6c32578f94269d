package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/unclebandit/leadflow-backend/internal/model"
)

// StagingRepository bulk-loads parsed upload rows with COPY in a single
// transaction, so a failed batch leaves nothing behind.
type StagingRepository struct {
	DB *sql.DB
}

func (r *StagingRepository) StageRecords(ctx context.Context, jobID, marketRegion string, records []model.StagingRecord) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("leads_staging", "job_id", "market_region", "row_number", "raw_data"))
	if err != nil {
		return err
	}

	for _, rec := range records {
		raw, mErr := json.Marshal(rec.Fields)
		if mErr != nil {
			stmt.Close()
			return fmt.Errorf("encode row %d: %w", rec.Row, mErr)
		}
		if _, err = stmt.ExecContext(ctx, jobID, marketRegion, rec.Row, string(raw)); err != nil {
			stmt.Close()
			return err
		}
	}

	// flush buffered COPY data
	if _, err = stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return err
	}
	if err = stmt.Close(); err != nil {
		return err
	}
	return tx.Commit()
}

var _ StagingRepositoryInterface = (*StagingRepository)(nil)

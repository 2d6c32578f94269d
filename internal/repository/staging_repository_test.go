package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/leadflow-backend/internal/model"
)

func TestStagingRepository_StageRecords(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := &StagingRepository{DB: db}
	records := []model.StagingRecord{
		{Row: 1, Fields: map[string]string{"email": "a@x.io"}},
		{Row: 2, Fields: map[string]string{"email": "b@x.io"}},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`COPY "leads_staging"`)
	prep.ExpectExec().WithArgs("job-1", "TX", 1, `{"email":"a@x.io"}`).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("job-1", "TX", 2, `{"email":"b@x.io"}`).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, repo.StageRecords(context.Background(), "job-1", "TX", records))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStagingRepository_StageRecordsRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := &StagingRepository{DB: db}
	records := []model.StagingRecord{{Row: 1, Fields: map[string]string{"email": "a@x.io"}}}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`COPY "leads_staging"`)
	prep.ExpectExec().WillReturnError(errors.New(`duplicate key value violates unique constraint "leads_staging_job_id_row_number_key"`))
	mock.ExpectRollback()

	err = repo.StageRecords(context.Background(), "job-1", "TX", records)
	assert.ErrorContains(t, err, "duplicate key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unclebandit/leadflow-backend/internal/config"
	"github.com/unclebandit/leadflow-backend/internal/queue"
)

func TestBuildMemory(t *testing.T) {
	cfg := &config.Config{
		StoreDriver: config.StoreDriverMemory,
		QueueDriver: config.QueueDriverMemory,
		WorkerCount: 1,
		UploadQueue: "upload_runs",
		UploadRoot:  t.TempDir(),
	}
	a, err := Build(context.Background(), cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB)
	assert.IsType(t, &queue.InMemoryQueue{}, a.Queue)
	require.NoError(t, a.Ingestion.Subscribe())

	job, err := a.Ingestion.Start(context.Background(), "u1", "leads.csv")
	require.NoError(t, err)
	got, err := a.Repos.Jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestOpenQueueUnknownDriver(t *testing.T) {
	_, err := OpenQueue(&config.Config{QueueDriver: "kafka"}, zap.NewNop().Sugar())
	assert.Error(t, err)
}

package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"Mansoor88-6/driver-agent/internal/database"
	"Mansoor88-6/driver-agent/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSyncHistoryRepository(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "agent.db"), zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	repo := NewSyncHistoryRepository(db.DB)
	ctx := context.Background()
	now := time.Now()

	old := &models.FlushRecord{DeviceID: "d", FlushedAt: now.Add(-48 * time.Hour).UnixMilli(), Submitted: 1, Failed: 1, Error: "timeout"}
	recent := &models.FlushRecord{DeviceID: "d", FlushedAt: now.UnixMilli(), Submitted: 3, Sent: 2, Failed: 1}
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, recent))
	assert.NotZero(t, old.ID)
	assert.NotZero(t, recent.ID)

	records, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, recent.ID, records[0].ID)
	assert.Equal(t, 2, records[0].Sent)
	assert.Equal(t, "", records[0].Error)
	assert.Equal(t, "timeout", records[1].Error)

	n, err := repo.DeleteOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	records, err = repo.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

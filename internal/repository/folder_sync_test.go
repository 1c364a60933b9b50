package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailbridge/mailbridge/internal/enum"
	"github.com/mailbridge/mailbridge/internal/models"
)

func TestFolderSyncRepository_GetState_NoneYet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFolderSyncRepository(db)

	state, err := repo.GetState(context.Background(), models.FolderInbox)

	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestFolderSyncRepository_SaveAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFolderSyncRepository(db)
	ctx := context.Background()

	err := repo.SaveState(ctx, &models.FolderSyncState{
		FolderName: models.FolderInbox,
		Status:     enum.SyncSyncing,
	})
	require.NoError(t, err)

	state, err := repo.GetState(ctx, models.FolderInbox)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, enum.SyncSyncing, state.Status)
	assert.NotEmpty(t, state.ID)
}

func TestFolderSyncRepository_SaveState_UpdatesExisting(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFolderSyncRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.SaveState(ctx, &models.FolderSyncState{
		FolderName: models.FolderInbox,
		Status:     enum.SyncSyncing,
	}))

	now := time.Now().UTC()
	require.NoError(t, repo.SaveState(ctx, &models.FolderSyncState{
		FolderName: models.FolderInbox,
		Status:     enum.SyncFresh,
		LastSync:   now,
	}))

	states, err := repo.ListStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, enum.SyncFresh, states[0].Status)
}

func TestFolderSyncRepository_DeleteState(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFolderSyncRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.SaveState(ctx, &models.FolderSyncState{
		FolderName: models.FolderSpam,
		Status:     enum.SyncStale,
	}))

	require.NoError(t, repo.DeleteState(ctx, models.FolderSpam))

	state, err := repo.GetState(ctx, models.FolderSpam)
	require.NoError(t, err)
	assert.Nil(t, state)
}

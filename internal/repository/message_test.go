package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailbridge/mailbridge/internal/enum"
	"github.com/mailbridge/mailbridge/internal/errs"
	"github.com/mailbridge/mailbridge/internal/models"
	"github.com/mailbridge/mailbridge/internal/query"
)

func testMessage(id, folder string) *models.Message {
	sentAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return &models.Message{
		ID:          id,
		Provider:    enum.EmailProviderGeneric,
		Folder:      folder,
		Labels:      []string{folder},
		Subject:     "Quarterly report",
		FromAddress: "alice@example.com",
		ToAddresses: []string{"bob@example.com"},
		SentAt:      &sentAt,
		BodyText:    "numbers attached",
	}
}

func TestMessageRepository_PutAndGet(t *testing.T) {
	// Arrange
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	// Act
	err := repo.Put(ctx, testMessage("m1", models.FolderInbox))

	// Assert
	require.NoError(t, err)
	got, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Quarterly report", got.Subject)
	assert.NotNil(t, got.LastSyncedAt)
	assert.False(t, got.Dirty)
}

func TestMessageRepository_GetByID_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)

	_, err := repo.GetByID(context.Background(), "missing")

	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestMessageRepository_Put_MergesKeepsDirtyFields(t *testing.T) {
	// Arrange: cache entry with a pending local read-state change
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, testMessage("m1", models.FolderInbox)))
	_, err := repo.SetReadLocal(ctx, "m1", true)
	require.NoError(t, err)

	// Act: remote snapshot still says unread, with a newer subject
	remote := testMessage("m1", models.FolderInbox)
	remote.IsRead = false
	remote.Subject = "Quarterly report (final)"
	require.NoError(t, repo.Put(ctx, remote))

	// Assert: local read state wins, remote subject wins
	got, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, got.IsRead)
	assert.True(t, got.Dirty)
	assert.Equal(t, "Quarterly report (final)", got.Subject)
}

func TestMessageRepository_Put_MergeAdoptsRemoteAttachments(t *testing.T) {
	// Arrange: cached entry without attachment metadata yet
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, testMessage("m1", models.FolderInbox)))

	// Act: a later snapshot carries the attachment rows
	remote := testMessage("m1", models.FolderInbox)
	remote.HasAttachment = true
	remote.Attachments = []models.Attachment{{
		ID: "att_1", MessageID: "m1", Filename: "report.pdf",
		ContentType: "application/pdf", Size: 1024,
	}}
	require.NoError(t, repo.Put(ctx, remote))

	// Assert: the merged save persisted the association
	got, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, got.HasAttachment)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "report.pdf", got.Attachments[0].Filename)
}

func TestMessageRepository_SetReadLocal_SameStateStaysClean(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, testMessage("m1", models.FolderInbox)))

	got, err := repo.SetReadLocal(ctx, "m1", false)

	require.NoError(t, err)
	assert.False(t, got.Dirty)
	assert.Empty(t, got.DirtyFields)
}

func TestMessageRepository_MoveLocal_TrashHidesFromFolderScan(t *testing.T) {
	// Arrange
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, testMessage("m1", models.FolderInbox)))
	require.NoError(t, repo.Put(ctx, testMessage("m2", models.FolderInbox)))

	// Act
	_, err := repo.MoveLocal(ctx, "m1", models.FolderTrash)
	require.NoError(t, err)

	// Assert: the deleted message no longer appears in INBOX scans
	inbox, count, err := repo.ListByFolder(ctx, models.FolderInbox, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	require.Len(t, inbox, 1)
	assert.Equal(t, "m2", inbox[0].ID)

	trash, _, err := repo.ListByFolder(ctx, models.FolderTrash, 50, 0)
	require.NoError(t, err)
	require.Len(t, trash, 1)
	assert.Equal(t, "m1", trash[0].ID)
	assert.True(t, trash[0].Dirty)
}

func TestMessageRepository_ListByFolder_Ordering(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	older := testMessage("m-old", models.FolderInbox)
	oldAt := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	older.SentAt = &oldAt
	newer := testMessage("m-new", models.FolderInbox)

	require.NoError(t, repo.Put(ctx, older))
	require.NoError(t, repo.Put(ctx, newer))

	got, _, err := repo.ListByFolder(ctx, models.FolderInbox, 50, 0)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m-new", got[0].ID)
	assert.Equal(t, "m-old", got[1].ID)
}

func TestMessageRepository_Search(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	m1 := testMessage("m1", models.FolderInbox)
	m2 := testMessage("m2", models.FolderInbox)
	m2.Subject = "Lunch plans"
	m2.FromAddress = "carol@example.com"
	m2.IsRead = true
	require.NoError(t, repo.Put(ctx, m1))
	require.NoError(t, repo.Put(ctx, m2))

	q, err := query.Parse("subject:quarterly is:unread")
	require.NoError(t, err)

	got, err := repo.Search(ctx, q, 50, 0)

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)
}

func TestMessageRepository_MarkSyncedAndListDirty(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, testMessage("m1", models.FolderInbox)))
	require.NoError(t, repo.Put(ctx, testMessage("m2", models.FolderInbox)))
	_, err := repo.SetReadLocal(ctx, "m1", true)
	require.NoError(t, err)

	dirty, err := repo.ListDirty(ctx)
	require.NoError(t, err)
	require.Len(t, dirty, 1)
	assert.Equal(t, "m1", dirty[0].ID)

	require.NoError(t, repo.MarkSynced(ctx, "m1", time.Now().UTC()))

	dirty, err = repo.ListDirty(ctx)
	require.NoError(t, err)
	assert.Empty(t, dirty)
}

func TestMessageRepository_Purge(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	m := testMessage("m1", models.FolderInbox)
	m.HasAttachment = true
	m.Attachments = []models.Attachment{{MessageID: "m1", Filename: "report.pdf", ContentType: "application/pdf", Size: 1024}}
	require.NoError(t, repo.Put(ctx, m))

	require.NoError(t, repo.Purge(ctx, "m1"))

	_, err := repo.GetByID(ctx, "m1")
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	var attCount int64
	require.NoError(t, db.Model(&models.Attachment{}).Where("message_id = ?", "m1").Count(&attCount).Error)
	assert.Zero(t, attCount)
}

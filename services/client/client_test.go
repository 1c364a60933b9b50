package client

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mailbridge/mailbridge/interfaces"
	"github.com/mailbridge/mailbridge/internal/enum"
	"github.com/mailbridge/mailbridge/internal/errs"
	"github.com/mailbridge/mailbridge/internal/logger"
	"github.com/mailbridge/mailbridge/internal/models"
	"github.com/mailbridge/mailbridge/internal/query"
	"github.com/mailbridge/mailbridge/internal/repository"
)

// fakeEngine records calls; freshness is always satisfied.
type fakeEngine struct {
	mu               sync.Mutex
	ensureFreshCalls []string
	refreshCalls     []string
	invalidateCalls  []string
	flushCalls       int
}

func (f *fakeEngine) EnsureFresh(ctx context.Context, folder string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureFreshCalls = append(f.ensureFreshCalls, folder)
	return nil
}

func (f *fakeEngine) Refresh(ctx context.Context, folder string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls = append(f.refreshCalls, folder)
	return nil
}

func (f *fakeEngine) FlushDirty(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushCalls++
	return nil
}

func (f *fakeEngine) Invalidate(ctx context.Context, folder string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidateCalls = append(f.invalidateCalls, folder)
	return nil
}

func (f *fakeEngine) Status(ctx context.Context) ([]interfaces.FolderSyncStatus, error) {
	return nil, nil
}

// fakeAdapter serves canned messages and search hits.
type fakeAdapter struct {
	mu           sync.Mutex
	remote       map[string]*models.Message
	searchIDs    []string
	searchErr    error
	searchFolder string
	fetchCalls   int
}

func (f *fakeAdapter) Provider() enum.EmailProvider { return enum.EmailProviderGeneric }

func (f *fakeAdapter) Folders(ctx context.Context) ([]models.Folder, error) {
	return []models.Folder{
		{Name: models.FolderInbox, Kind: enum.FolderKindSystem},
		{Name: "Newsletters", Kind: enum.FolderKindCustom},
	}, nil
}

func (f *fakeAdapter) ListIDs(ctx context.Context, folder, pageToken string, limit int) ([]string, string, error) {
	return nil, "", nil
}

func (f *fakeAdapter) Fetch(ctx context.Context, id string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	m, ok := f.remote[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	clone := *m
	return &clone, nil
}

type sliceIterator struct {
	ids []string
	pos int
}

func (it *sliceIterator) Next(ctx context.Context) (string, error) {
	if it.pos >= len(it.ids) {
		return "", io.EOF
	}
	id := it.ids[it.pos]
	it.pos++
	return id, nil
}

func (it *sliceIterator) Close() error { return nil }

func (f *fakeAdapter) Search(ctx context.Context, q *query.Query, folder string) (interfaces.IDIterator, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	f.mu.Lock()
	f.searchFolder = folder
	f.mu.Unlock()
	return &sliceIterator{ids: f.searchIDs}, nil
}

func (f *fakeAdapter) SetFlags(ctx context.Context, id string, update interfaces.FlagUpdate) error {
	return nil
}

func (f *fakeAdapter) Delete(ctx context.Context, id string) error { return nil }

func (f *fakeAdapter) FetchAttachment(ctx context.Context, messageID string, attachment *models.Attachment) ([]byte, error) {
	return []byte("attachment-bytes"), nil
}

func setupClient(t *testing.T) (interfaces.MailClient, *fakeAdapter, *fakeEngine, interfaces.MessageRepository) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Message{}, &models.Attachment{}, &models.FolderSyncState{}))

	repos := repository.InitRepositories(db)

	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()

	adapter := &fakeAdapter{remote: make(map[string]*models.Message)}
	engine := &fakeEngine{}
	c := NewUnifiedClient(adapter, repos.MessageRepository, engine, nil, appLogger)
	return c, adapter, engine, repos.MessageRepository
}

func cachedMessage(id, folder string) *models.Message {
	sentAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &models.Message{
		ID: id, Provider: enum.EmailProviderGeneric,
		Folder: folder, Labels: []string{folder},
		Subject: "subject " + id, FromAddress: "sender@example.com",
		SentAt: &sentAt,
	}
}

func waitForFlush(t *testing.T, engine *fakeEngine) {
	t.Helper()
	require.Eventually(t, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return engine.flushCalls > 0
	}, time.Second, 5*time.Millisecond)
}

func TestUnifiedClient_Messages_AppliesStalenessPolicy(t *testing.T) {
	c, _, engine, repo := setupClient(t)
	ctx := context.Background()
	require.NoError(t, repo.Put(ctx, cachedMessage("m1", models.FolderInbox)))

	got, count, err := c.Messages(ctx, models.FolderInbox, 50, 0)

	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	require.Len(t, got, 1)
	assert.Equal(t, []string{models.FolderInbox}, engine.ensureFreshCalls)
}

func TestUnifiedClient_Message_LocalMissFallsBackToBackend(t *testing.T) {
	c, adapter, _, repo := setupClient(t)
	ctx := context.Background()
	adapter.remote["m9"] = cachedMessage("m9", models.FolderInbox)

	got, err := c.Message(ctx, "m9")

	require.NoError(t, err)
	assert.Equal(t, "m9", got.ID)

	// Cached now: a second read does not touch the backend again
	adapter.mu.Lock()
	fetchesAfterFirst := adapter.fetchCalls
	adapter.mu.Unlock()
	_, err = c.Message(ctx, "m9")
	require.NoError(t, err)
	adapter.mu.Lock()
	assert.Equal(t, fetchesAfterFirst, adapter.fetchCalls)
	adapter.mu.Unlock()

	_, err = repo.GetByID(ctx, "m9")
	assert.NoError(t, err)
}

func TestUnifiedClient_MarkRead_LocalFirstWithWriteBehind(t *testing.T) {
	c, _, engine, repo := setupClient(t)
	ctx := context.Background()
	require.NoError(t, repo.Put(ctx, cachedMessage("m1", models.FolderInbox)))

	require.NoError(t, c.MarkRead(ctx, "m1"))

	got, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, got.IsRead)
	assert.True(t, got.Dirty)
	waitForFlush(t, engine)
}

func TestUnifiedClient_Delete_HidesImmediately(t *testing.T) {
	c, _, engine, repo := setupClient(t)
	ctx := context.Background()
	require.NoError(t, repo.Put(ctx, cachedMessage("m1", models.FolderInbox)))

	require.NoError(t, c.Delete(ctx, "m1"))

	_, count, err := repo.ListByFolder(ctx, models.FolderInbox, 50, 0)
	require.NoError(t, err)
	assert.Zero(t, count)

	got, err := repo.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.FolderTrash, got.Folder)
	waitForFlush(t, engine)
}

func TestUnifiedClient_Search_LazyIterator(t *testing.T) {
	c, adapter, _, repo := setupClient(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, cachedMessage("m1", models.FolderInbox)))
	adapter.remote["m2"] = cachedMessage("m2", models.FolderInbox)
	adapter.searchIDs = []string{"m1", "m2"}

	it, err := c.Search(ctx, "subject:subject", models.FolderInbox)
	require.NoError(t, err)
	defer it.Close()

	first, err := it.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m1", first.ID)

	second, err := it.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m2", second.ID)

	_, err = it.Next(ctx)
	assert.Equal(t, io.EOF, err)

	// The remote-only hit got cached on the way through
	_, err = repo.GetByID(ctx, "m2")
	assert.NoError(t, err)

	// The folder scope reached the backend
	adapter.mu.Lock()
	assert.Equal(t, models.FolderInbox, adapter.searchFolder)
	adapter.mu.Unlock()
}

func TestUnifiedClient_Search_UnsupportedQuerySurfaces(t *testing.T) {
	c, adapter, _, _ := setupClient(t)
	adapter.searchErr = errs.ErrUnsupportedQuery

	_, err := c.Search(context.Background(), "report", "")

	assert.ErrorIs(t, err, errs.ErrUnsupportedQuery)
}

func TestUnifiedClient_Search_MalformedQueryRejected(t *testing.T) {
	c, _, _, _ := setupClient(t)

	_, err := c.Search(context.Background(), "label:urgent", "")

	assert.ErrorIs(t, err, errs.ErrUnsupportedQuery)
}

func TestUnifiedClient_Refresh_Forces(t *testing.T) {
	c, _, engine, _ := setupClient(t)

	require.NoError(t, c.Refresh(context.Background(), models.FolderInbox))

	assert.Equal(t, []string{models.FolderInbox}, engine.refreshCalls)
}

func TestUnifiedClient_Invalidate_MarksFolderStale(t *testing.T) {
	c, _, engine, _ := setupClient(t)

	require.NoError(t, c.Invalidate(context.Background(), models.FolderInbox))

	assert.Equal(t, []string{models.FolderInbox}, engine.invalidateCalls)
}

func TestUnifiedClient_Purge_EvictsLocalCopyOnly(t *testing.T) {
	c, adapter, _, repo := setupClient(t)
	ctx := context.Background()
	require.NoError(t, repo.Put(ctx, cachedMessage("m1", models.FolderInbox)))

	require.NoError(t, c.Purge(ctx, "m1"))

	_, err := repo.GetByID(ctx, "m1")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	// Purge touches only the cache
	adapter.mu.Lock()
	assert.Zero(t, adapter.fetchCalls)
	adapter.mu.Unlock()
}

func TestUnifiedClient_Attachment_FromBackend(t *testing.T) {
	c, _, _, repo := setupClient(t)
	ctx := context.Background()

	m := cachedMessage("m1", models.FolderInbox)
	m.HasAttachment = true
	m.Attachments = []models.Attachment{{
		ID: "att_1", MessageID: "m1", Filename: "report.pdf",
		ContentType: "application/pdf", Size: 16,
	}}
	require.NoError(t, repo.Put(ctx, m))

	data, attachment, err := c.Attachment(ctx, "m1", "att_1")

	require.NoError(t, err)
	assert.Equal(t, []byte("attachment-bytes"), data)
	assert.Equal(t, "report.pdf", attachment.Filename)
}

package sync

import (
	"context"
	"fmt"
	"strconv"
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

// fakeAdapter is an in-memory backend with fault injection hooks.
type fakeAdapter struct {
	mu sync.Mutex

	remote map[string]*models.Message
	order  map[string][]string // folder -> ids, newest first

	listCalls    int
	failListPage int // fail when serving this page number (1-based), 0 = never
	listDelay    time.Duration

	setFlagsCalls []string
	deleteCalls   []string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		remote: make(map[string]*models.Message),
		order:  make(map[string][]string),
	}
}

func (f *fakeAdapter) addMessage(folder, id string) {
	sentAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.remote[id] = &models.Message{
		ID:          id,
		Provider:    enum.EmailProviderGeneric,
		Folder:      folder,
		Labels:      []string{folder},
		Subject:     "subject " + id,
		FromAddress: "sender@example.com",
		SentAt:      &sentAt,
	}
	f.order[folder] = append(f.order[folder], id)
}

func (f *fakeAdapter) Provider() enum.EmailProvider { return enum.EmailProviderGeneric }

func (f *fakeAdapter) Folders(ctx context.Context) ([]models.Folder, error) {
	return []models.Folder{{Name: models.FolderInbox, Kind: enum.FolderKindSystem}}, nil
}

func (f *fakeAdapter) ListIDs(ctx context.Context, folder, pageToken string, limit int) ([]string, string, error) {
	f.mu.Lock()
	f.listCalls++
	failPage := f.failListPage
	delay := f.listDelay
	ids := append([]string(nil), f.order[folder]...)
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}

	offset := 0
	page := 1
	if pageToken != "" {
		offset, _ = strconv.Atoi(pageToken)
		page = offset/limit + 1
	}
	if failPage > 0 && page == failPage {
		return nil, "", errs.ErrTransientIO
	}

	if offset >= len(ids) {
		return nil, "", nil
	}
	end := offset + limit
	next := ""
	if end < len(ids) {
		next = strconv.Itoa(end)
	} else {
		end = len(ids)
	}
	return ids[offset:end], next, nil
}

func (f *fakeAdapter) Fetch(ctx context.Context, id string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.remote[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	clone := *m
	clone.Labels = append([]string(nil), m.Labels...)
	return &clone, nil
}

func (f *fakeAdapter) Search(ctx context.Context, q *query.Query, folder string) (interfaces.IDIterator, error) {
	return nil, errs.ErrUnsupportedQuery
}

func (f *fakeAdapter) SetFlags(ctx context.Context, id string, update interfaces.FlagUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.remote[id]
	if !ok {
		return errs.ErrNotFound
	}
	if update.IsRead != nil {
		m.IsRead = *update.IsRead
	}
	for _, l := range update.RemoveLabels {
		out := m.Labels[:0]
		for _, have := range m.Labels {
			if have != l {
				out = append(out, have)
			}
		}
		m.Labels = out
	}
	m.Labels = append(m.Labels, update.AddLabels...)
	if len(m.Labels) > 0 {
		m.Folder = m.Labels[len(m.Labels)-1]
	}
	f.setFlagsCalls = append(f.setFlagsCalls, id)
	return nil
}

func (f *fakeAdapter) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.remote[id]; !ok {
		return errs.ErrNotFound
	}
	f.deleteCalls = append(f.deleteCalls, id)
	f.remote[id].Folder = models.FolderTrash
	f.remote[id].Labels = []string{models.FolderTrash}
	return nil
}

func (f *fakeAdapter) FetchAttachment(ctx context.Context, messageID string, attachment *models.Attachment) ([]byte, error) {
	return nil, errs.ErrNotFound
}

func setupEngine(t *testing.T, adapter *fakeAdapter) (*Engine, *repository.Repositories) {
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

	engine := NewEngine(adapter, repos.MessageRepository, repos.FolderSyncRepository, nil, appLogger, Config{
		StaleAfter:      5 * time.Minute,
		PageSize:        2,
		FetchWorkers:    2,
		FlushMaxRetries: 1,
		FlushBackoffMin: time.Millisecond,
		FlushBackoffMax: 2 * time.Millisecond,
	})
	return engine, repos
}

func waitForStatus(t *testing.T, repos *repository.Repositories, folder string, want enum.SyncStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		state, err := repos.FolderSyncRepository.GetState(context.Background(), folder)
		return err == nil && state != nil && state.Status == want
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_EnsureFresh_FirstSyncBlocksUntilFirstPage(t *testing.T) {
	// Arrange
	adapter := newFakeAdapter()
	for i := 0; i < 5; i++ {
		adapter.addMessage(models.FolderInbox, fmt.Sprintf("m%d", i))
	}
	engine, repos := setupEngine(t, adapter)
	ctx := context.Background()

	// Act
	err := engine.EnsureFresh(ctx, models.FolderInbox)

	// Assert: the first page is already visible when the call returns
	require.NoError(t, err)
	_, count, err := repos.MessageRepository.ListByFolder(ctx, models.FolderInbox, 50, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, int64(2))

	// The rest of the sync completes in the background
	waitForStatus(t, repos, models.FolderInbox, enum.SyncFresh)
	_, count, err = repos.MessageRepository.ListByFolder(ctx, models.FolderInbox, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestEngine_EnsureFresh_FreshFolderSkipsRemote(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.addMessage(models.FolderInbox, "m1")
	engine, repos := setupEngine(t, adapter)
	ctx := context.Background()

	require.NoError(t, engine.Refresh(ctx, models.FolderInbox))
	adapter.mu.Lock()
	callsAfterSync := adapter.listCalls
	adapter.mu.Unlock()

	require.NoError(t, engine.EnsureFresh(ctx, models.FolderInbox))

	adapter.mu.Lock()
	assert.Equal(t, callsAfterSync, adapter.listCalls)
	adapter.mu.Unlock()

	state, err := repos.FolderSyncRepository.GetState(ctx, models.FolderInbox)
	require.NoError(t, err)
	assert.Equal(t, enum.SyncFresh, state.Status)
}

func TestEngine_EnsureFresh_InterruptedSyncRecovers(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.addMessage(models.FolderInbox, "m1")
	engine, repos := setupEngine(t, adapter)
	ctx := context.Background()

	require.NoError(t, engine.Refresh(ctx, models.FolderInbox))

	// The persisted status says Syncing but no pass is running, as left
	// behind by a process that died mid-refresh.
	state, err := repos.FolderSyncRepository.GetState(ctx, models.FolderInbox)
	require.NoError(t, err)
	state.Status = enum.SyncSyncing
	require.NoError(t, repos.FolderSyncRepository.SaveState(ctx, state))

	adapter.addMessage(models.FolderInbox, "m2")

	// The read is served from what is on disk and schedules a new pass
	// instead of trusting the leftover status forever.
	require.NoError(t, engine.EnsureFresh(ctx, models.FolderInbox))

	waitForStatus(t, repos, models.FolderInbox, enum.SyncFresh)
	_, count, err := repos.MessageRepository.ListByFolder(ctx, models.FolderInbox, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestEngine_Refresh_HungAdapterCallHitsDeadline(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.addMessage(models.FolderInbox, "m1")
	adapter.listDelay = time.Second
	engine, repos := setupEngine(t, adapter)
	engine.cfg.OpTimeout = 20 * time.Millisecond
	ctx := context.Background()

	err := engine.Refresh(ctx, models.FolderInbox)

	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))

	state, stateErr := repos.FolderSyncRepository.GetState(ctx, models.FolderInbox)
	require.NoError(t, stateErr)
	assert.Equal(t, enum.SyncStale, state.Status)
}

func TestEngine_Refresh_PurgesRemotelyDeleted(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.addMessage(models.FolderInbox, "m1")
	engine, repos := setupEngine(t, adapter)
	ctx := context.Background()

	// Locally cached message that no longer exists remotely
	stale := &models.Message{
		ID: "ghost", Provider: enum.EmailProviderGeneric,
		Folder: models.FolderInbox, Labels: []string{models.FolderInbox},
	}
	require.NoError(t, repos.MessageRepository.Put(ctx, stale))

	require.NoError(t, engine.Refresh(ctx, models.FolderInbox))

	_, err := repos.MessageRepository.GetByID(ctx, "ghost")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = repos.MessageRepository.GetByID(ctx, "m1")
	assert.NoError(t, err)
}

func TestEngine_Refresh_EmptyFolderStillLandsFresh(t *testing.T) {
	adapter := newFakeAdapter()
	engine, repos := setupEngine(t, adapter)
	ctx := context.Background()

	require.NoError(t, engine.Refresh(ctx, models.FolderInbox))

	state, err := repos.FolderSyncRepository.GetState(ctx, models.FolderInbox)
	require.NoError(t, err)
	assert.Equal(t, enum.SyncFresh, state.Status)

	_, count, err := repos.MessageRepository.ListByFolder(ctx, models.FolderInbox, 50, 0)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEngine_Refresh_MidPaginationFailureKeepsPartialProgress(t *testing.T) {
	// Arrange: 5 messages, page size 2, second page fails
	adapter := newFakeAdapter()
	for i := 0; i < 5; i++ {
		adapter.addMessage(models.FolderInbox, fmt.Sprintf("m%d", i))
	}
	adapter.failListPage = 2
	engine, repos := setupEngine(t, adapter)
	ctx := context.Background()

	// Act
	err := engine.Refresh(ctx, models.FolderInbox)

	// Assert: error surfaced, first page kept, folder marked stale
	require.Error(t, err)
	_, count, listErr := repos.MessageRepository.ListByFolder(ctx, models.FolderInbox, 50, 0)
	require.NoError(t, listErr)
	assert.Equal(t, int64(2), count)

	state, stateErr := repos.FolderSyncRepository.GetState(ctx, models.FolderInbox)
	require.NoError(t, stateErr)
	assert.Equal(t, enum.SyncStale, state.Status)
	assert.NotEmpty(t, state.LastError)
}

func TestEngine_Refresh_CoalescesConcurrentCalls(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.addMessage(models.FolderInbox, "m1")
	adapter.listDelay = 50 * time.Millisecond
	engine, _ := setupEngine(t, adapter)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, engine.Refresh(context.Background(), models.FolderInbox))
		}()
	}
	wg.Wait()

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	assert.Equal(t, 1, adapter.listCalls)
}

func TestEngine_FlushDirty_ReadStateConfirmedRemotely(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.addMessage(models.FolderInbox, "m1")
	engine, repos := setupEngine(t, adapter)
	ctx := context.Background()

	require.NoError(t, engine.Refresh(ctx, models.FolderInbox))
	_, err := repos.MessageRepository.SetReadLocal(ctx, "m1", true)
	require.NoError(t, err)

	require.NoError(t, engine.FlushDirty(ctx))

	adapter.mu.Lock()
	assert.True(t, adapter.remote["m1"].IsRead)
	adapter.mu.Unlock()

	got, err := repos.MessageRepository.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, got.Dirty)
	assert.True(t, got.IsRead)
}

func TestEngine_FlushDirty_TrashMoveBecomesDelete(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.addMessage(models.FolderInbox, "m1")
	engine, repos := setupEngine(t, adapter)
	ctx := context.Background()

	require.NoError(t, engine.Refresh(ctx, models.FolderInbox))
	_, err := repos.MessageRepository.MoveLocal(ctx, "m1", models.FolderTrash)
	require.NoError(t, err)

	require.NoError(t, engine.FlushDirty(ctx))

	adapter.mu.Lock()
	assert.Equal(t, []string{"m1"}, adapter.deleteCalls)
	adapter.mu.Unlock()

	got, err := repos.MessageRepository.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, got.Dirty)
	assert.Equal(t, models.FolderTrash, got.Folder)
}

func TestEngine_FlushDirty_GoneRemotelyPurgesLocal(t *testing.T) {
	adapter := newFakeAdapter()
	engine, repos := setupEngine(t, adapter)
	ctx := context.Background()

	orphan := &models.Message{
		ID: "orphan", Provider: enum.EmailProviderGeneric,
		Folder: models.FolderInbox, Labels: []string{models.FolderInbox},
	}
	require.NoError(t, repos.MessageRepository.Put(ctx, orphan))
	_, err := repos.MessageRepository.SetReadLocal(ctx, "orphan", true)
	require.NoError(t, err)

	require.NoError(t, engine.FlushDirty(ctx))

	_, err = repos.MessageRepository.GetByID(ctx, "orphan")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestEngine_Refresh_RemoteSnapshotDoesNotClobberDirtyRead(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.addMessage(models.FolderInbox, "m1")
	engine, repos := setupEngine(t, adapter)
	ctx := context.Background()

	require.NoError(t, engine.Refresh(ctx, models.FolderInbox))
	_, err := repos.MessageRepository.SetReadLocal(ctx, "m1", true)
	require.NoError(t, err)

	// Refresh flushes the pending change first, so the remote side
	// agrees by the time the snapshot is merged back.
	require.NoError(t, engine.Refresh(ctx, models.FolderInbox))

	got, err := repos.MessageRepository.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, got.IsRead)
	assert.False(t, got.Dirty)
}

func TestEngine_Invalidate_MarksFolderStale(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.addMessage(models.FolderInbox, "m1")
	engine, repos := setupEngine(t, adapter)
	ctx := context.Background()
	require.NoError(t, engine.Refresh(ctx, models.FolderInbox))

	require.NoError(t, engine.Invalidate(ctx, models.FolderInbox))

	state, err := repos.FolderSyncRepository.GetState(ctx, models.FolderInbox)
	require.NoError(t, err)
	assert.Equal(t, enum.SyncStale, state.Status)

	// A never-synced folder is a no-op
	require.NoError(t, engine.Invalidate(ctx, "Newsletters"))
	state, err = repos.FolderSyncRepository.GetState(ctx, "Newsletters")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestEngine_Status(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.addMessage(models.FolderInbox, "m1")
	engine, _ := setupEngine(t, adapter)
	ctx := context.Background()

	require.NoError(t, engine.Refresh(ctx, models.FolderInbox))

	statuses, err := engine.Status(ctx)

	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, models.FolderInbox, statuses[0].Folder)
	assert.Equal(t, enum.SyncFresh, statuses[0].Status)
	assert.False(t, statuses[0].LastSync.IsZero())
}

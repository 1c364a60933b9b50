package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mailbridge/mailbridge/interfaces"
	"github.com/mailbridge/mailbridge/internal/enum"
	"github.com/mailbridge/mailbridge/internal/errs"
	"github.com/mailbridge/mailbridge/internal/logger"
	"github.com/mailbridge/mailbridge/internal/models"
	"github.com/mailbridge/mailbridge/internal/tracing"
	"github.com/mailbridge/mailbridge/internal/utils"
)

const localScanPageSize = 500

type Config struct {
	// StaleAfter is how long a completed sync keeps a folder fresh.
	StaleAfter time.Duration `env:"SYNC_STALE_AFTER" envDefault:"5m"`

	PageSize     int `env:"SYNC_PAGE_SIZE" envDefault:"50"`
	FetchWorkers int `env:"SYNC_FETCH_WORKERS" envDefault:"4"`

	// OpTimeout bounds each individual adapter call so a hung backend
	// cannot wedge a refresh pass. Zero disables the bound.
	OpTimeout time.Duration `env:"SYNC_OP_TIMEOUT" envDefault:"30s"`

	FlushMaxRetries int           `env:"SYNC_FLUSH_MAX_RETRIES" envDefault:"3"`
	FlushBackoffMin time.Duration `env:"SYNC_FLUSH_BACKOFF_MIN" envDefault:"500ms"`
	FlushBackoffMax time.Duration `env:"SYNC_FLUSH_BACKOFF_MAX" envDefault:"10s"`
}

// Engine converges the local store toward the backend, one folder at a
// time. Reads stay local; the engine decides when a folder needs a
// remote pass and pushes pending local mutations back out.
type Engine struct {
	adapter   interfaces.MailboxAdapter
	messages  interfaces.MessageRepository
	states    interfaces.FolderSyncRepository
	publisher interfaces.EventPublisher
	log       logger.Logger
	cfg       Config

	// Concurrent refreshes of the same folder coalesce onto one pass.
	group singleflight.Group

	gateMu sync.Mutex
	gates  map[string]*firstPageGate
}

// firstPageGate lets never-synced reads block until the first page of
// a folder's initial sync is persisted, without waiting for the rest.
type firstPageGate struct {
	once sync.Once
	ch   chan struct{}
	err  error
}

func (g *firstPageGate) signal(err error) {
	g.once.Do(func() {
		g.err = err
		close(g.ch)
	})
}

func NewEngine(adapter interfaces.MailboxAdapter, messages interfaces.MessageRepository, states interfaces.FolderSyncRepository, publisher interfaces.EventPublisher, log logger.Logger, cfg Config) *Engine {
	return &Engine{
		adapter:   adapter,
		messages:  messages,
		states:    states,
		publisher: publisher,
		log:       log,
		cfg:       cfg,
		gates:     make(map[string]*firstPageGate),
	}
}

func (e *Engine) gate(folder string) *firstPageGate {
	e.gateMu.Lock()
	defer e.gateMu.Unlock()
	g, ok := e.gates[folder]
	if !ok {
		g = &firstPageGate{ch: make(chan struct{})}
		e.gates[folder] = g
	}
	return g
}

func (e *Engine) clearGate(folder string) {
	e.gateMu.Lock()
	delete(e.gates, folder)
	e.gateMu.Unlock()
}

// refreshLive reports whether a refresh pass for the folder is running
// in this process. Every pass registers a gate for its whole duration.
func (e *Engine) refreshLive(folder string) bool {
	e.gateMu.Lock()
	defer e.gateMu.Unlock()
	_, ok := e.gates[folder]
	return ok
}

// opCtx bounds one adapter call with the configured operation timeout.
func (e *Engine) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.OpTimeout)
}

// EnsureFresh implements the read-path staleness policy. A fresh
// folder costs nothing; a stale one is served as-is while a refresh
// runs behind it; a folder that has never completed a first page
// blocks until that page lands, because there is no stale data to
// serve.
func (e *Engine) EnsureFresh(ctx context.Context, folder string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncEngine.EnsureFresh")
	defer span.Finish()
	tracing.TagComponentSyncEngine(span)
	tracing.TagFolder(span, folder)

	state, err := e.states.GetState(ctx, folder)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	if state == nil || (state.Status == enum.SyncSyncing && state.LastSync.IsZero()) {
		if err := e.awaitFirstPage(ctx, folder); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		return nil
	}

	if state.Status == enum.SyncSyncing {
		if e.refreshLive(folder) {
			return nil
		}
		// A persisted Syncing with no pass in flight is a leftover from
		// an interrupted sync; the data already on disk stays servable.
		e.refreshInBackground(folder)
		return nil
	}
	if state.Status == enum.SyncFresh && time.Since(state.LastSync) < e.cfg.StaleAfter {
		return nil
	}

	// Stale with data: serve what we have, refresh in the background.
	e.refreshInBackground(folder)
	return nil
}

// Refresh forces a synchronous folder pass regardless of staleness.
func (e *Engine) Refresh(ctx context.Context, folder string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncEngine.Refresh")
	defer span.Finish()
	tracing.TagComponentSyncEngine(span)
	tracing.TagFolder(span, folder)

	_, err, _ := e.group.Do(folder, func() (interface{}, error) {
		return nil, e.refreshFolder(ctx, folder)
	})
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func (e *Engine) awaitFirstPage(ctx context.Context, folder string) error {
	gate := e.gate(folder)

	results := e.group.DoChan(folder, func() (interface{}, error) {
		return nil, e.refreshFolder(context.Background(), folder)
	})

	select {
	case <-gate.ch:
		return gate.err
	case res := <-results:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) refreshInBackground(folder string) {
	go func() {
		_, err, _ := e.group.Do(folder, func() (interface{}, error) {
			return nil, e.refreshFolder(context.Background(), folder)
		})
		if err != nil {
			e.log.Errorf("background refresh of %s failed: %v", folder, err)
		}
	}()
}

// refreshFolder is the single-flight body: flush pending local
// mutations, pull the remote listing page by page, then reconcile
// local entries the listing no longer contains. A failure partway
// keeps every page already persisted and leaves the folder stale.
func (e *Engine) refreshFolder(ctx context.Context, folder string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncEngine.refreshFolder")
	defer span.Finish()
	tracing.TagComponentSyncEngine(span)
	tracing.TagFolder(span, folder)

	gate := e.gate(folder)
	defer e.clearGate(folder)

	prior, err := e.states.GetState(ctx, folder)
	if err != nil {
		gate.signal(err)
		return err
	}

	state := &models.FolderSyncState{FolderName: folder, Status: enum.SyncSyncing}
	if prior != nil {
		state = prior
		state.Status = enum.SyncSyncing
	}
	if err := e.states.SaveState(ctx, state); err != nil {
		gate.signal(err)
		return err
	}

	if err := e.flushFolderDirty(ctx, folder); err != nil {
		e.markStale(ctx, state, err)
		gate.signal(err)
		return err
	}

	seen := make(map[string]bool)
	pageToken := ""
	firstPage := true
	fetched := 0

	for {
		listCtx, cancel := e.opCtx(ctx)
		ids, nextToken, err := e.adapter.ListIDs(listCtx, folder, pageToken, e.cfg.PageSize)
		cancel()
		if err != nil {
			e.markStale(ctx, state, err)
			gate.signal(err)
			tracing.TraceErr(span, err)
			return err
		}

		count, err := e.fetchPage(ctx, ids, seen)
		fetched += count
		if err != nil {
			e.markStale(ctx, state, err)
			gate.signal(err)
			tracing.TraceErr(span, err)
			return err
		}

		if firstPage {
			gate.signal(nil)
			firstPage = false
		}

		if nextToken == "" {
			break
		}
		pageToken = nextToken
	}
	gate.signal(nil)

	purged, err := e.reconcileMissing(ctx, folder, seen)
	if err != nil {
		e.markStale(ctx, state, err)
		tracing.TraceErr(span, err)
		return err
	}

	state.Status = enum.SyncFresh
	state.LastSync = utils.Now()
	state.LastError = ""
	if err := e.states.SaveState(ctx, state); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	e.publishFolderSynced(ctx, folder, fetched, purged)
	e.log.Infof("folder %s synced: %d fetched, %d purged", folder, fetched, purged)
	return nil
}

// fetchPage pulls full messages for one page of ids with a bounded
// worker pool. Ids that vanished between listing and fetch are purged
// locally instead of failing the pass.
func (e *Engine) fetchPage(ctx context.Context, ids []string, seen map[string]bool) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.FetchWorkers)

	var mu sync.Mutex
	fetched := 0

	for _, id := range ids {
		seen[id] = true
		id := id
		g.Go(func() error {
			fetchCtx, cancel := e.opCtx(gctx)
			remote, err := e.adapter.Fetch(fetchCtx, id)
			cancel()
			if errors.Is(err, errs.ErrNotFound) {
				return e.messages.Purge(gctx, id)
			}
			if err != nil {
				return err
			}
			if err := e.messages.Put(gctx, remote); err != nil {
				return err
			}
			mu.Lock()
			fetched++
			mu.Unlock()
			return nil
		})
	}

	return fetched, g.Wait()
}

// reconcileMissing handles entries the remote listing no longer
// contains: each one is verified with a direct fetch, purging the gone
// and re-merging the moved. Dirty entries are left for the flusher.
func (e *Engine) reconcileMissing(ctx context.Context, folder string, seen map[string]bool) (int, error) {
	purged := 0
	offset := 0

	for {
		local, _, err := e.messages.ListByFolder(ctx, folder, localScanPageSize, offset)
		if err != nil {
			return purged, err
		}

		for _, m := range local {
			if seen[m.ID] || m.Dirty {
				continue
			}
			fetchCtx, cancel := e.opCtx(ctx)
			remote, err := e.adapter.Fetch(fetchCtx, m.ID)
			cancel()
			if errors.Is(err, errs.ErrNotFound) {
				if err := e.messages.Purge(ctx, m.ID); err != nil {
					return purged, err
				}
				purged++
				continue
			}
			if err != nil {
				return purged, err
			}
			if err := e.messages.Put(ctx, remote); err != nil {
				return purged, err
			}
		}

		if len(local) < localScanPageSize {
			return purged, nil
		}
		offset += localScanPageSize
	}
}

func (e *Engine) markStale(ctx context.Context, state *models.FolderSyncState, cause error) {
	state.Status = enum.SyncStale
	state.LastError = cause.Error()
	if err := e.states.SaveState(ctx, state); err != nil {
		e.log.Errorf("failed to record stale state for %s: %v", state.FolderName, err)
	}
}

func (e *Engine) publishFolderSynced(ctx context.Context, folder string, fetched, purged int) {
	if e.publisher == nil {
		return
	}
	payload := map[string]interface{}{
		"folder":  folder,
		"fetched": fetched,
		"purged":  purged,
		"at":      utils.Now(),
	}
	if err := e.publisher.PublishFanoutEvent(ctx, "folder.synced", payload); err != nil {
		e.log.Warnf("failed to publish folder.synced for %s: %v", folder, err)
	}
}

// Invalidate forces a folder back to the stale state. A folder that
// never synced has nothing to invalidate.
func (e *Engine) Invalidate(ctx context.Context, folder string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncEngine.Invalidate")
	defer span.Finish()
	tracing.TagComponentSyncEngine(span)
	tracing.TagFolder(span, folder)

	state, err := e.states.GetState(ctx, folder)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if state == nil {
		return nil
	}

	state.Status = enum.SyncStale
	if err := e.states.SaveState(ctx, state); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// Status reports the per-folder sync state machine.
func (e *Engine) Status(ctx context.Context) ([]interfaces.FolderSyncStatus, error) {
	states, err := e.states.ListStates(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]interfaces.FolderSyncStatus, 0, len(states))
	for _, s := range states {
		out = append(out, interfaces.FolderSyncStatus{
			Folder:   s.FolderName,
			Status:   s.Status,
			LastSync: s.LastSync,
			LastErr:  s.LastError,
		})
	}
	return out, nil
}

package sync

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"
	"github.com/opentracing/opentracing-go"

	"github.com/mailbridge/mailbridge/interfaces"
	"github.com/mailbridge/mailbridge/internal/errs"
	"github.com/mailbridge/mailbridge/internal/models"
	"github.com/mailbridge/mailbridge/internal/tracing"
	"github.com/mailbridge/mailbridge/internal/utils"
)

// FlushDirty pushes every pending local mutation to the backend.
// Transient failures are retried with bounded backoff and otherwise
// left dirty for the next pass; auth expiry aborts the whole flush
// because no further call can succeed.
func (e *Engine) FlushDirty(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncEngine.FlushDirty")
	defer span.Finish()
	tracing.TagComponentSyncEngine(span)

	dirty, err := e.messages.ListDirty(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	var lastErr error
	for _, m := range dirty {
		if err := e.flushEntry(ctx, m); err != nil {
			if errors.Is(err, errs.ErrAuthExpired) {
				tracing.TraceErr(span, err)
				return err
			}
			e.log.Warnf("flush of %s failed, leaving dirty: %v", m.ID, err)
			lastErr = err
		}
	}
	return lastErr
}

// flushFolderDirty flushes only the entries currently resolved into
// one folder, so a refresh pushes local state out before pulling.
func (e *Engine) flushFolderDirty(ctx context.Context, folder string) error {
	dirty, err := e.messages.ListDirty(ctx)
	if err != nil {
		return err
	}
	for _, m := range dirty {
		if m.Folder != folder {
			continue
		}
		if err := e.flushEntry(ctx, m); err != nil {
			if errors.Is(err, errs.ErrAuthExpired) {
				return err
			}
			e.log.Warnf("flush of %s failed, leaving dirty: %v", m.ID, err)
		}
	}
	return nil
}

// flushEntry confirms one dirty entry remotely. A local move to TRASH
// is pushed as a backend delete; everything else becomes a flag/label
// update computed against the current remote membership.
func (e *Engine) flushEntry(ctx context.Context, m *models.Message) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncEngine.flushEntry")
	defer span.Finish()
	tracing.TagComponentSyncEngine(span)
	tracing.TagMessageId(span, m.ID)

	err := e.withRetry(ctx, func() error {
		// Each attempt gets a fresh deadline.
		opCtx, cancel := e.opCtx(ctx)
		defer cancel()
		return e.pushEntry(opCtx, m)
	})
	if errors.Is(err, errs.ErrNotFound) {
		// Gone remotely: nothing left to confirm.
		return e.messages.Purge(ctx, m.ID)
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	return e.messages.MarkSynced(ctx, m.ID, utils.Now())
}

func (e *Engine) pushEntry(ctx context.Context, m *models.Message) error {
	dirtyFolder := utils.ContainsString(m.DirtyFields, models.FieldFolder)
	dirtyRead := utils.ContainsString(m.DirtyFields, models.FieldIsRead)

	if dirtyFolder && m.Folder == models.FolderTrash {
		if err := e.adapter.Delete(ctx, m.ID); err != nil {
			return err
		}
		if !dirtyRead {
			return nil
		}
		// Fall through to confirm the read state on the trashed copy.
		dirtyFolder = false
	}

	update := interfaces.FlagUpdate{}
	if dirtyRead {
		read := m.IsRead
		update.IsRead = &read
	}

	if dirtyFolder {
		// Compute the membership delta against the live remote state
		// so a label backend drops the old placement, not just gains
		// the new one.
		remote, err := e.adapter.Fetch(ctx, m.ID)
		if err != nil {
			return err
		}
		for _, label := range m.Labels {
			if !utils.ContainsString(remote.Labels, label) {
				update.AddLabels = append(update.AddLabels, label)
			}
		}
		for _, label := range remote.Labels {
			if !utils.ContainsString(m.Labels, label) {
				update.RemoveLabels = append(update.RemoveLabels, label)
			}
		}
		if len(update.AddLabels) == 0 && m.Folder != "" {
			update.AddLabels = []string{m.Folder}
		}
	}

	return e.adapter.SetFlags(ctx, m.ID, update)
}

// withRetry retries transient failures with exponential backoff up to
// the configured attempt bound. Permanent failures return immediately.
func (e *Engine) withRetry(ctx context.Context, op func() error) error {
	b := &backoff.Backoff{
		Min:    e.cfg.FlushBackoffMin,
		Max:    e.cfg.FlushBackoffMax,
		Jitter: true,
	}

	var err error
	for attempt := 0; attempt <= e.cfg.FlushMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(b.Duration()):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = op()
		if err == nil || !errs.IsTransient(err) {
			return err
		}
	}
	return err
}

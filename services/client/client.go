// Package client is the unified mail facade: callers read from the
// local store, mutate locally with write-behind confirmation, and
// search through the backend, without ever seeing which provider is
// underneath.
package client

import (
	"context"
	"errors"

	"github.com/opentracing/opentracing-go"

	"github.com/mailbridge/mailbridge/interfaces"
	"github.com/mailbridge/mailbridge/internal/errs"
	"github.com/mailbridge/mailbridge/internal/logger"
	"github.com/mailbridge/mailbridge/internal/models"
	"github.com/mailbridge/mailbridge/internal/query"
	"github.com/mailbridge/mailbridge/internal/tracing"
)

type unifiedClient struct {
	adapter  interfaces.MailboxAdapter
	messages interfaces.MessageRepository
	engine   interfaces.SyncEngine
	storage  interfaces.StorageService
	log      logger.Logger
}

func NewUnifiedClient(adapter interfaces.MailboxAdapter, messages interfaces.MessageRepository, engine interfaces.SyncEngine, storage interfaces.StorageService, log logger.Logger) interfaces.MailClient {
	return &unifiedClient{
		adapter:  adapter,
		messages: messages,
		engine:   engine,
		storage:  storage,
		log:      log,
	}
}

// Messages lists a folder from the local store. The staleness policy
// decides whether the call blocks (never synced), triggers a background
// refresh (stale) or costs nothing (fresh).
func (c *unifiedClient) Messages(ctx context.Context, folder string, limit, offset int) ([]*models.Message, int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "unifiedClient.Messages")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagFolder(span, folder)

	if err := c.engine.EnsureFresh(ctx, folder); err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, err
	}
	return c.messages.ListByFolder(ctx, folder, limit, offset)
}

// Message reads one message, falling back to a remote fetch on a local
// miss so a direct link works before its folder ever synced.
func (c *unifiedClient) Message(ctx context.Context, id string) (*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "unifiedClient.Message")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagMessageId(span, id)

	m, err := c.messages.GetByID(ctx, id)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		tracing.TraceErr(span, err)
		return nil, err
	}

	remote, err := c.adapter.Fetch(ctx, id)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if err := c.messages.Put(ctx, remote); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return c.messages.GetByID(ctx, id)
}

// Search parses the neutral query and evaluates it on the backend,
// returning a lazy iterator that reads at most one result ahead.
// Queries the backend cannot express fail with ErrUnsupportedQuery
// rather than returning silently incomplete results.
func (c *unifiedClient) Search(ctx context.Context, rawQuery string, folder string) (interfaces.MessageIterator, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "unifiedClient.Search")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagFolder(span, folder)

	q, err := query.Parse(rawQuery)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	ids, err := c.adapter.Search(ctx, q, folder)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return newMessageIterator(ids, c.resolveMessage), nil
}

// resolveMessage turns a search hit into a full message, preferring
// the local copy and caching remote fetches.
func (c *unifiedClient) resolveMessage(ctx context.Context, id string) (*models.Message, error) {
	m, err := c.messages.GetByID(ctx, id)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	remote, err := c.adapter.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.messages.Put(ctx, remote); err != nil {
		return nil, err
	}
	return remote, nil
}

func (c *unifiedClient) Folders(ctx context.Context) ([]models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "unifiedClient.Folders")
	defer span.Finish()
	tracing.TagComponentService(span)

	return c.adapter.Folders(ctx)
}

func (c *unifiedClient) MarkRead(ctx context.Context, id string) error {
	return c.setRead(ctx, id, true)
}

func (c *unifiedClient) MarkUnread(ctx context.Context, id string) error {
	return c.setRead(ctx, id, false)
}

// setRead applies the change locally and returns; the backend is
// confirmed behind the caller's back.
func (c *unifiedClient) setRead(ctx context.Context, id string, read bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "unifiedClient.setRead")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagMessageId(span, id)

	if _, err := c.messages.SetReadLocal(ctx, id, read); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	c.flushAsync()
	return nil
}

func (c *unifiedClient) Move(ctx context.Context, id string, folder string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "unifiedClient.Move")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagMessageId(span, id)
	tracing.TagFolder(span, folder)

	if _, err := c.messages.MoveLocal(ctx, id, folder); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	c.flushAsync()
	return nil
}

// Delete is a move to TRASH: the message disappears from folder scans
// immediately and the backend delete follows behind.
func (c *unifiedClient) Delete(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "unifiedClient.Delete")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagMessageId(span, id)

	if _, err := c.messages.MoveLocal(ctx, id, models.FolderTrash); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	c.flushAsync()
	return nil
}

// Attachment serves content from blob storage when it was persisted
// there, otherwise straight from the backend.
func (c *unifiedClient) Attachment(ctx context.Context, messageID, attachmentID string) ([]byte, *models.Attachment, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "unifiedClient.Attachment")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagMessageId(span, messageID)

	m, err := c.messages.GetByID(ctx, messageID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, nil, err
	}

	var attachment *models.Attachment
	for i := range m.Attachments {
		if m.Attachments[i].ID == attachmentID {
			attachment = &m.Attachments[i]
			break
		}
	}
	if attachment == nil {
		return nil, nil, errs.ErrNotFound
	}

	if attachment.StorageKey != "" && c.storage != nil {
		data, err := c.storage.Download(ctx, attachment.StorageKey)
		if err == nil {
			return data, attachment, nil
		}
		c.log.Warnf("blob download of %s failed, falling back to backend: %v", attachment.StorageKey, err)
	}

	data, err := c.adapter.FetchAttachment(ctx, messageID, attachment)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, nil, err
	}
	return data, attachment, nil
}

func (c *unifiedClient) Refresh(ctx context.Context, folder string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "unifiedClient.Refresh")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagFolder(span, folder)

	if err := c.engine.Refresh(ctx, folder); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (c *unifiedClient) Invalidate(ctx context.Context, folder string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "unifiedClient.Invalidate")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagFolder(span, folder)

	if err := c.engine.Invalidate(ctx, folder); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// Purge evicts the local copy only; eviction is never implicit.
func (c *unifiedClient) Purge(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "unifiedClient.Purge")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagMessageId(span, id)

	if err := c.messages.Purge(ctx, id); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (c *unifiedClient) flushAsync() {
	go func() {
		if err := c.engine.FlushDirty(context.Background()); err != nil {
			c.log.Warnf("write-behind flush failed: %v", err)
		}
	}()
}

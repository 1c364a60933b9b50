package interfaces

import (
	"context"

	"github.com/mailbridge/mailbridge/internal/models"
)

// MessageIterator yields full messages lazily, fetching ahead at most
// one result. Next returns io.EOF when the stream is exhausted.
// Iterators are single-use.
type MessageIterator interface {
	Next(ctx context.Context) (*models.Message, error)
	Close() error
}

// MailClient is the unified facade: cache-backed reads, local-first
// writes, provider-neutral search.
type MailClient interface {
	Messages(ctx context.Context, folder string, limit, offset int) ([]*models.Message, int64, error)
	Message(ctx context.Context, id string) (*models.Message, error)
	// Search bypasses the cache and queries the backend directly. An
	// empty folder searches the whole mailbox.
	Search(ctx context.Context, rawQuery string, folder string) (MessageIterator, error)
	Folders(ctx context.Context) ([]models.Folder, error)

	MarkRead(ctx context.Context, id string) error
	MarkUnread(ctx context.Context, id string) error
	Move(ctx context.Context, id string, folder string) error
	Delete(ctx context.Context, id string) error

	Attachment(ctx context.Context, messageID, attachmentID string) ([]byte, *models.Attachment, error)

	// Refresh forces a folder synchronization regardless of staleness.
	Refresh(ctx context.Context, folder string) error

	// Invalidate marks a folder stale without touching its cached data.
	Invalidate(ctx context.Context, folder string) error

	// Purge evicts a message from the local cache. The remote copy is
	// untouched; the message reappears on its folder's next sync.
	Purge(ctx context.Context, id string) error
}

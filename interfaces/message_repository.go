package interfaces

import (
	"context"
	"time"

	"github.com/mailbridge/mailbridge/internal/models"
	"github.com/mailbridge/mailbridge/internal/query"
)

type MessageRepository interface {
	// Put upserts a remote snapshot. Existing dirty entries are merged
	// field-wise so pending local mutations survive.
	Put(ctx context.Context, message *models.Message) error

	GetByID(ctx context.Context, id string) (*models.Message, error)
	ListByFolder(ctx context.Context, folder string, limit, offset int) ([]*models.Message, int64, error)
	Search(ctx context.Context, q *query.Query, limit, offset int) ([]*models.Message, error)

	// SetReadLocal and MoveLocal apply a local mutation and mark the
	// entry dirty; the sync engine flushes it to the backend later.
	SetReadLocal(ctx context.Context, id string, read bool) (*models.Message, error)
	MoveLocal(ctx context.Context, id string, folder string) (*models.Message, error)

	MarkSynced(ctx context.Context, id string, at time.Time) error
	ListDirty(ctx context.Context) ([]*models.Message, error)

	// Purge removes an entry and its attachments outright, used when
	// the backend reports the message gone.
	Purge(ctx context.Context, id string) error
}

type FolderSyncRepository interface {
	// GetState returns nil without error when the folder has never
	// been synced.
	GetState(ctx context.Context, folderName string) (*models.FolderSyncState, error)
	SaveState(ctx context.Context, state *models.FolderSyncState) error
	ListStates(ctx context.Context) ([]models.FolderSyncState, error)
	DeleteState(ctx context.Context, folderName string) error
}

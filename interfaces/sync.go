package interfaces

import (
	"context"
	"time"

	"github.com/mailbridge/mailbridge/internal/enum"
)

type FolderSyncStatus struct {
	Folder   string
	Status   enum.SyncStatus
	LastSync time.Time
	LastErr  string
}

// SyncEngine keeps the local store converging toward the backend.
type SyncEngine interface {
	// EnsureFresh blocks only when the folder has never been synced;
	// otherwise stale data is served while a refresh runs behind it.
	EnsureFresh(ctx context.Context, folder string) error

	// Refresh runs a full folder synchronization. Concurrent calls for
	// the same folder coalesce onto one pass.
	Refresh(ctx context.Context, folder string) error

	// FlushDirty pushes pending local mutations to the backend.
	FlushDirty(ctx context.Context) error

	// Invalidate marks a folder stale so the next read triggers a
	// refresh. Cached data stays readable in the meantime.
	Invalidate(ctx context.Context, folder string) error

	Status(ctx context.Context) ([]FolderSyncStatus, error)
}

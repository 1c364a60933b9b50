package enum

// SyncStatus is the per-folder synchronization state machine.
type SyncStatus string

const (
	SyncStale   SyncStatus = "stale"
	SyncSyncing SyncStatus = "syncing"
	SyncFresh   SyncStatus = "fresh"
)

func (t SyncStatus) String() string {
	return string(t)
}

// FolderKind distinguishes well-known folders from user-defined labels.
type FolderKind string

const (
	FolderKindSystem FolderKind = "system"
	FolderKindCustom FolderKind = "custom"
)

func (t FolderKind) String() string {
	return string(t)
}

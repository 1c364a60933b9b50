package models

import (
	"time"

	"github.com/mailbridge/mailbridge/internal/enum"
)

// FolderSyncState records the synchronization cursor for a folder.
type FolderSyncState struct {
	ID         string          `gorm:"column:id;type:varchar(50);primaryKey"`
	FolderName string          `gorm:"column:folder_name;type:varchar(255);uniqueIndex;not null"`
	Status     enum.SyncStatus `gorm:"column:status;type:varchar(20);not null"`
	LastSync   time.Time       `gorm:"column:last_sync;type:timestamp"`
	LastError  string          `gorm:"column:last_error;type:text"`
	CreatedAt  time.Time       `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (FolderSyncState) TableName() string {
	return "folder_sync_states"
}

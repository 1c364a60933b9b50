package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/mailbridge/mailbridge/internal/utils"
)

// Attachment is metadata only; content is fetched lazily via the blob
// storage key or the adapter's attachment accessor.
type Attachment struct {
	ID        string `gorm:"column:id;type:varchar(50);primaryKey"`
	MessageID string `gorm:"column:message_id;type:varchar(255);index;not null"`

	// RemoteID is the provider-side attachment handle, when the
	// provider exposes one (Gmail does, IMAP does not).
	RemoteID    string `gorm:"column:remote_id;type:varchar(500)"`
	Filename    string `gorm:"column:filename;type:varchar(500)"`
	ContentType string `gorm:"column:content_type;type:varchar(255)"`
	Size        int64  `gorm:"column:size;default:0"`
	Position    int    `gorm:"column:position;default:0"`

	// Set when the content has been persisted to blob storage.
	StorageKey string `gorm:"column:storage_key;type:varchar(1000)"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (Attachment) TableName() string {
	return "attachments"
}

func (a *Attachment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIdWithPrefix("att", 12)
	}
	a.CreatedAt = utils.Now()
	return nil
}

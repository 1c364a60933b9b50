package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/mailbridge/mailbridge/internal/enum"
	"github.com/mailbridge/mailbridge/internal/utils"
)

// Dirty-field names recorded on a cache entry pending remote confirmation.
const (
	FieldIsRead = "is_read"
	FieldFolder = "folder"
)

// Message is a cached snapshot of a remote message plus the cache-entry
// bookkeeping (dirty flag, last-synced-at). The ID is the adapter's
// opaque message id and never changes; body and attachments are
// immutable once fetched. Only IsRead and folder membership mutate
// locally.
type Message struct {
	ID       string             `gorm:"column:id;type:varchar(255);primaryKey"`
	Provider enum.EmailProvider `gorm:"column:provider;type:varchar(50);index;not null"`

	// Folder is the resolved current folder; Labels is the full
	// membership set (single-element for true-folder backends).
	Folder string         `gorm:"column:folder;type:varchar(255);index;not null"`
	Labels pq.StringArray `gorm:"column:labels;type:text[]"`

	Subject      string         `gorm:"column:subject;type:varchar(1000)"`
	FromAddress  string         `gorm:"column:from_address;type:varchar(255);index"`
	ToAddresses  pq.StringArray `gorm:"column:to_addresses;type:text[]"`
	CcAddresses  pq.StringArray `gorm:"column:cc_addresses;type:text[]"`
	BccAddresses pq.StringArray `gorm:"column:bcc_addresses;type:text[]"`

	SentAt *time.Time `gorm:"column:sent_at;type:timestamp;index"`

	BodyText      string `gorm:"column:body_text;type:text"`
	BodyHTML      string `gorm:"column:body_html;type:text"`
	HasAttachment bool   `gorm:"column:has_attachment;default:false"`

	IsRead bool `gorm:"column:is_read;default:false;index"`

	RawHeaders JSONMap `gorm:"column:raw_headers;type:jsonb"`

	// Cache-entry state. Dirty entries carry local mutations not yet
	// confirmed remotely; DirtyFields names them for field-level merge.
	Dirty        bool           `gorm:"column:dirty;default:false;index"`
	DirtyFields  pq.StringArray `gorm:"column:dirty_fields;type:text[]"`
	LastSyncedAt *time.Time     `gorm:"column:last_synced_at;type:timestamp"`

	Attachments []Attachment `gorm:"foreignKey:MessageID;references:ID"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIdWithPrefix("msg", 24)
	}
	m.CreatedAt = utils.Now()
	return nil
}

// InFolder reports membership in the given folder/label.
func (m *Message) InFolder(folder string) bool {
	return utils.ContainsString(m.Labels, folder)
}

// MarkDirty records a pending local mutation on the named field.
func (m *Message) MarkDirty(field string) {
	m.Dirty = true
	if !utils.ContainsString(m.DirtyFields, field) {
		m.DirtyFields = append(m.DirtyFields, field)
	}
}

// ClearDirty resets the cache-entry bookkeeping after remote confirmation.
func (m *Message) ClearDirty(at time.Time) {
	m.Dirty = false
	m.DirtyFields = nil
	m.LastSyncedAt = &at
}

// MergeRemote applies a freshly fetched remote snapshot onto this cached
// entry. Fields with pending local mutations win locally; everything
// else takes the remote value. Immutable fields (body, attachments) are
// taken from whichever side has them.
func (m *Message) MergeRemote(remote *Message) {
	dirtyRead := utils.ContainsString(m.DirtyFields, FieldIsRead)
	dirtyFolder := utils.ContainsString(m.DirtyFields, FieldFolder)

	if !dirtyRead {
		m.IsRead = remote.IsRead
	}
	if !dirtyFolder {
		m.Folder = remote.Folder
		m.Labels = remote.Labels
	}

	m.Subject = remote.Subject
	m.FromAddress = remote.FromAddress
	m.ToAddresses = remote.ToAddresses
	m.CcAddresses = remote.CcAddresses
	m.BccAddresses = remote.BccAddresses
	if remote.SentAt != nil {
		m.SentAt = remote.SentAt
	}
	if m.BodyText == "" {
		m.BodyText = remote.BodyText
	}
	if m.BodyHTML == "" {
		m.BodyHTML = remote.BodyHTML
	}
	m.HasAttachment = remote.HasAttachment
	if remote.RawHeaders != nil {
		m.RawHeaders = remote.RawHeaders
	}
	if len(m.Attachments) == 0 {
		m.Attachments = remote.Attachments
	}
}

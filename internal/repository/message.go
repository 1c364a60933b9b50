package repository

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/mailbridge/mailbridge/interfaces"
	"github.com/mailbridge/mailbridge/internal/errs"
	"github.com/mailbridge/mailbridge/internal/models"
	"github.com/mailbridge/mailbridge/internal/query"
	"github.com/mailbridge/mailbridge/internal/tracing"
	"github.com/mailbridge/mailbridge/internal/utils"
)

const lockStripes = 64

type messageRepository struct {
	db *gorm.DB

	// Write paths serialize per message id so a refresh merge and a
	// local mutation never interleave on the same entry.
	locks [lockStripes]sync.Mutex
}

func NewMessageRepository(db *gorm.DB) interfaces.MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &r.locks[h.Sum32()%lockStripes]
}

// Put upserts a remote snapshot. When the entry already exists locally
// the snapshot is merged field-wise: fields with pending local
// mutations keep their local value, everything else takes the remote
// one.
func (r *messageRepository) Put(ctx context.Context, message *models.Message) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.Put")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	if message == nil || message.ID == "" {
		return ErrInvalidInput
	}
	tracing.TagMessageId(span, message.ID)

	mu := r.lockFor(message.ID)
	mu.Lock()
	defer mu.Unlock()

	now := utils.Now()

	var existing models.Message
	err := r.db.WithContext(ctx).
		Preload("Attachments").
		Where("id = ?", message.ID).
		First(&existing).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		message.LastSyncedAt = &now
		if createErr := r.db.WithContext(ctx).Create(message).Error; createErr != nil {
			tracing.TraceErr(span, createErr)
			return createErr
		}
		return nil
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	existing.MergeRemote(message)
	existing.LastSyncedAt = &now
	existing.UpdatedAt = now

	// Save upserts the merged attachment rows through the association;
	// the merge keeps existing attachments and adopts remote ones only
	// when none were recorded yet.
	if saveErr := r.db.WithContext(ctx).Save(&existing).Error; saveErr != nil {
		tracing.TraceErr(span, saveErr)
		return saveErr
	}

	return nil
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagMessageId(span, id)

	var message models.Message
	if err := r.db.WithContext(ctx).
		Preload("Attachments").
		Where("id = ?", id).
		First(&message).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrNotFound
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &message, nil
}

// ListByFolder retrieves messages for a folder with pagination, newest
// first. Messages moved to TRASH carry TRASH in their folder column, so
// they never show up in other folder listings.
func (r *messageRepository) ListByFolder(ctx context.Context, folder string, limit, offset int) ([]*models.Message, int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.ListByFolder")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagFolder(span, folder)

	var messages []*models.Message
	var count int64

	if err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("folder = ?", folder).
		Count(&count).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, err
	}

	if err := r.db.WithContext(ctx).
		Preload("Attachments").
		Where("folder = ?", folder).
		Order("sent_at DESC, id ASC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, err
	}

	return messages, count, nil
}

// Search evaluates a parsed query against the local store.
func (r *messageRepository) Search(ctx context.Context, q *query.Query, limit, offset int) ([]*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.Search")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	tx := r.db.WithContext(ctx).Model(&models.Message{})

	for _, term := range q.Text {
		pattern := "%" + strings.ToLower(term) + "%"
		tx = tx.Where(
			"LOWER(subject) LIKE ? OR LOWER(body_text) LIKE ? OR LOWER(from_address) LIKE ?",
			pattern, pattern, pattern,
		)
	}
	if q.Subject != "" {
		tx = tx.Where("LOWER(subject) LIKE ?", "%"+strings.ToLower(q.Subject)+"%")
	}
	if q.From != "" {
		tx = tx.Where("LOWER(from_address) LIKE ?", "%"+strings.ToLower(q.From)+"%")
	}
	if q.IsRead != nil {
		tx = tx.Where("is_read = ?", *q.IsRead)
	}
	if q.HasAttachment {
		tx = tx.Where("has_attachment = ?", true)
	}

	var messages []*models.Message
	if err := tx.
		Preload("Attachments").
		Order("sent_at DESC, id ASC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	return messages, nil
}

// SetReadLocal flips the read state and marks the entry dirty. Setting
// the state it already has is a no-op and leaves the entry clean.
func (r *messageRepository) SetReadLocal(ctx context.Context, id string, read bool) (*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.SetReadLocal")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagMessageId(span, id)

	mu := r.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	message, err := r.getForUpdate(ctx, id)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	if message.IsRead == read {
		return message, nil
	}

	message.IsRead = read
	message.MarkDirty(models.FieldIsRead)
	message.UpdatedAt = utils.Now()

	if err := r.db.WithContext(ctx).Save(message).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return message, nil
}

// MoveLocal changes the folder membership and marks the entry dirty.
// The folder column is updated immediately, so a move to TRASH hides
// the message from every other folder scan before the backend confirms.
func (r *messageRepository) MoveLocal(ctx context.Context, id string, folder string) (*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.MoveLocal")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagMessageId(span, id)
	tracing.TagFolder(span, folder)

	mu := r.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	message, err := r.getForUpdate(ctx, id)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	if message.Folder == folder {
		return message, nil
	}

	message.Labels = utils.RemoveString(message.Labels, message.Folder)
	if !utils.ContainsString(message.Labels, folder) {
		message.Labels = append(message.Labels, folder)
	}
	message.Folder = folder
	message.MarkDirty(models.FieldFolder)
	message.UpdatedAt = utils.Now()

	if err := r.db.WithContext(ctx).Save(message).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return message, nil
}

// MarkSynced clears the dirty bookkeeping after the backend confirmed
// the pending mutations.
func (r *messageRepository) MarkSynced(ctx context.Context, id string, at time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.MarkSynced")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagMessageId(span, id)

	mu := r.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	message, err := r.getForUpdate(ctx, id)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	message.ClearDirty(at)
	message.UpdatedAt = utils.Now()

	if err := r.db.WithContext(ctx).Save(message).Error; err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *messageRepository) ListDirty(ctx context.Context) ([]*models.Message, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.ListDirty")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	var messages []*models.Message
	if err := r.db.WithContext(ctx).
		Where("dirty = ?", true).
		Order("updated_at ASC").
		Find(&messages).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return messages, nil
}

// Purge removes the entry and its attachment metadata outright.
func (r *messageRepository) Purge(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "messageRepository.Purge")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagMessageId(span, id)

	mu := r.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ?", id).Delete(&models.Attachment{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.Message{}).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *messageRepository) getForUpdate(ctx context.Context, id string) (*models.Message, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&message).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &message, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/mailbridge/mailbridge/interfaces"
	"github.com/mailbridge/mailbridge/internal/models"
	"github.com/mailbridge/mailbridge/internal/tracing"
	"github.com/mailbridge/mailbridge/internal/utils"
)

type folderSyncRepository struct {
	db *gorm.DB
}

func NewFolderSyncRepository(db *gorm.DB) interfaces.FolderSyncRepository {
	return &folderSyncRepository{db: db}
}

// GetState retrieves the sync state for a folder
func (r *folderSyncRepository) GetState(ctx context.Context, folderName string) (*models.FolderSyncState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderSyncRepository.GetState")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagFolder(span, folderName)

	var state models.FolderSyncState
	result := r.db.WithContext(ctx).
		Where("folder_name = ?", folderName).
		First(&state)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil // No sync state yet
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get sync state: %w", result.Error)
	}

	return &state, nil
}

// SaveState saves the sync state for a folder
func (r *folderSyncRepository) SaveState(ctx context.Context, state *models.FolderSyncState) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderSyncRepository.SaveState")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagFolder(span, state.FolderName)

	// Try to update first
	result := r.db.WithContext(ctx).
		Model(&models.FolderSyncState{}).
		Where("folder_name = ?", state.FolderName).
		Updates(map[string]interface{}{
			"status":     state.Status,
			"last_sync":  state.LastSync,
			"last_error": state.LastError,
			"updated_at": utils.Now(),
		})

	// If no record was updated, create a new one
	if result.Error == nil && result.RowsAffected == 0 {
		if state.ID == "" {
			state.ID = utils.GenerateNanoIdWithPrefix("fss", 12)
		}
		result = r.db.WithContext(ctx).Create(state)
	}

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save sync state: %w", result.Error)
	}

	return nil
}

// ListStates gets the sync state of every known folder
func (r *folderSyncRepository) ListStates(ctx context.Context) ([]models.FolderSyncState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderSyncRepository.ListStates")
	defer span.Finish()
	tracing.TagComponentRepository(span)

	var states []models.FolderSyncState
	if err := r.db.WithContext(ctx).Order("folder_name ASC").Find(&states).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list sync states: %w", err)
	}

	return states, nil
}

// DeleteState deletes the sync state for a folder
func (r *folderSyncRepository) DeleteState(ctx context.Context, folderName string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderSyncRepository.DeleteState")
	defer span.Finish()
	tracing.TagComponentRepository(span)
	tracing.TagFolder(span, folderName)

	result := r.db.WithContext(ctx).
		Where("folder_name = ?", folderName).
		Delete(&models.FolderSyncState{})

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete sync state: %w", result.Error)
	}

	return nil
}

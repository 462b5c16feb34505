package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jarto666/scriptforge/internal/domain"
	"gorm.io/gorm"
)

// BatchRepository handles batch and script persistence.
type BatchRepository struct {
	db *gorm.DB
}

// NewBatchRepository creates a new BatchRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *BatchRepository: repository instance bound to db.
func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// CreateBatch inserts a batch together with its expanded scripts.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - batch: batch record including its Scripts slice.
// Returns:
//   - error: non-nil if the insert fails.
func (r *BatchRepository) CreateBatch(ctx context.Context, batch *domain.Batch) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

// UpdateScript persists one script's current status and content.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - script: script record with updated fields.
// Returns:
//   - error: non-nil if the update fails.
func (r *BatchRepository) UpdateScript(ctx context.Context, script *domain.Script) error {
	return r.db.WithContext(ctx).Model(&domain.Script{}).
		Where("id = ?", script.ID).
		Updates(map[string]interface{}{
			"status":     script.Status,
			"hook":       script.Hook,
			"body":       script.Body,
			"cta":        script.CTA,
			"error":      script.Error,
			"updated_at": script.UpdatedAt,
		}).Error
}

// FinalizeBatch persists a batch's terminal state and final counters.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - batch: batch record at terminal state.
// Returns:
//   - error: non-nil if the update fails.
func (r *BatchRepository) FinalizeBatch(ctx context.Context, batch *domain.Batch) error {
	return r.db.WithContext(ctx).Model(&domain.Batch{}).
		Where("id = ?", batch.ID).
		Updates(map[string]interface{}{
			"status":            batch.Status,
			"completed_scripts": batch.CompletedScripts,
			"failed_scripts":    batch.FailedScripts,
			"started_at":        batch.StartedAt,
			"completed_at":      batch.CompletedAt,
			"updated_at":        batch.UpdatedAt,
		}).Error
}

// GetByID retrieves a batch with its scripts.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: batch ID.
// Returns:
//   - *domain.Batch: batch record if found.
//   - error: domain.ErrBatchNotFound if missing, otherwise the lookup error.
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	var batch domain.Batch
	err := r.db.WithContext(ctx).Preload("Scripts").First(&batch, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrBatchNotFound, id)
		}
		return nil, err
	}
	return &batch, nil
}

// ListByProject retrieves a project's batches, newest first, without scripts.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - projectID: owning project ID.
//   - limit: maximum number of batches to return (0 means no limit).
// Returns:
//   - []domain.Batch: batch records.
//   - error: non-nil if the query fails.
func (r *BatchRepository) ListByProject(ctx context.Context, projectID string, limit int) ([]domain.Batch, error) {
	var batches []domain.Batch
	q := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jarto666/scriptforge/internal/domain"
)

// batchArtifact is the JSON document exported for a completed batch. It is a
// self-contained record of the final scripts and counters, suitable for
// downstream editing tools that never touch the database.
type batchArtifact struct {
	BatchID          string             `json:"batch_id"`
	ProjectID        string             `json:"project_id"`
	Platform         domain.Platform    `json:"platform"`
	QualityTier      domain.QualityTier `json:"quality_tier"`
	TotalScripts     int                `json:"total_scripts"`
	CompletedScripts int                `json:"completed_scripts"`
	FailedScripts    int                `json:"failed_scripts"`
	ExportedAt       time.Time          `json:"exported_at"`
	Scripts          []domain.Script    `json:"scripts"`
}

// BatchExporter writes completed batches to object storage as JSON artifacts.
type BatchExporter struct {
	store ObjectStorage
}

// NewBatchExporter creates an exporter over the given storage backend.
func NewBatchExporter(store ObjectStorage) *BatchExporter {
	return &BatchExporter{store: store}
}

// ExportBatch uploads the batch's final scripts as a JSON artifact.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - batch: batch at terminal state.
//   - scripts: the batch's scripts with their final content.
// Returns:
//   - string: storage key of the uploaded artifact.
//   - error: non-nil if marshaling or upload fails.
func (e *BatchExporter) ExportBatch(ctx context.Context, batch *domain.Batch, scripts []domain.Script) (string, error) {
	artifact := batchArtifact{
		BatchID:          batch.ID,
		ProjectID:        batch.ProjectID,
		Platform:         batch.Platform,
		QualityTier:      batch.QualityTier,
		TotalScripts:     batch.TotalScripts,
		CompletedScripts: batch.CompletedScripts,
		FailedScripts:    batch.FailedScripts,
		ExportedAt:       time.Now().UTC(),
		Scripts:          scripts,
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal batch artifact: %w", err)
	}

	key := fmt.Sprintf("batches/%s/%s.json", batch.ProjectID, batch.ID)
	if err := e.store.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return "", fmt.Errorf("failed to upload batch artifact: %w", err)
	}
	return key, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/attest/internal/storage"
)

// ResultRepository persists validation results through GORM. It is shared
// by the SQLite backend — GORM's dialects handle the SQL differences.
// Append-only: no Update method exists on this type.
type ResultRepository struct {
	db *gorm.DB
}

// NewResultRepository creates a ResultRepository.
func NewResultRepository(db *gorm.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// Save inserts a single result record.
func (r *ResultRepository) Save(ctx context.Context, result *storage.ValidationResult) error {
	model := toResultModel(result)
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("saving validation result: %w", err)
	}
	// Reflect the generated ID and timestamp back to the caller.
	result.ID = model.ID
	result.CreatedAt = model.CreatedAt
	return nil
}

// Get returns one result by ID, or storage.ErrNotFound.
func (r *ResultRepository) Get(ctx context.Context, id uuid.UUID) (*storage.ValidationResult, error) {
	var model ValidationResultModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching validation result: %w", err)
	}
	return toResultDomain(&model), nil
}

// List returns results newest first. Limit defaults to 100.
func (r *ResultRepository) List(ctx context.Context, limit int) ([]*storage.ValidationResult, error) {
	if limit <= 0 {
		limit = 100
	}

	var models []ValidationResultModel
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("listing validation results: %w", err)
	}

	results := make([]*storage.ValidationResult, len(models))
	for i := range models {
		results[i] = toResultDomain(&models[i])
	}
	return results, nil
}

// DeleteBefore removes results created before the cutoff.
func (r *ResultRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&ValidationResultModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("pruning validation results: %w", res.Error)
	}
	return res.RowsAffected, nil
}

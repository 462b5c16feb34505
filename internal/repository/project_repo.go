package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jarto666/scriptforge/internal/domain"
	"gorm.io/gorm"
)

// ProjectRepository handles project and persona persistence. Full project
// management lives in the surrounding CRUD service; this covers the lookups
// and minimal writes the generation flow needs.
type ProjectRepository struct {
	db *gorm.DB
}

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Create inserts a new project record.
func (r *ProjectRepository) Create(ctx context.Context, project *domain.Project) error {
	return r.db.WithContext(ctx).Create(project).Error
}

// GetByID retrieves a project by its ID.
// Returns domain.ErrProjectNotFound if the id does not resolve.
func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	var project domain.Project
	err := r.db.WithContext(ctx).First(&project, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrProjectNotFound, id)
		}
		return nil, err
	}
	return &project, nil
}

// GetPersona retrieves a persona by its ID; nil without error when id is empty.
func (r *ProjectRepository) GetPersona(ctx context.Context, id string) (*domain.Persona, error) {
	if id == "" {
		return nil, nil
	}
	var persona domain.Persona
	err := r.db.WithContext(ctx).First(&persona, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &persona, nil
}

package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jarto666/scriptforge/internal/domain"
	"github.com/jarto666/scriptforge/internal/repository"
)

// ProjectHandler handles project endpoints.
type ProjectHandler struct {
	projects *repository.ProjectRepository
}

// NewProjectHandler creates a new project handler.
func NewProjectHandler(projects *repository.ProjectRepository) *ProjectHandler {
	return &ProjectHandler{projects: projects}
}

// CreateProjectRequest is the body of POST /api/v1/projects.
type CreateProjectRequest struct {
	Name    string `json:"name" binding:"required"`
	Product string `json:"product"`
}

// CreateProject handles POST /api/v1/projects.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	project := &domain.Project{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Product:   req.Product,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := h.projects.Create(c.Request.Context(), project); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create project: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, project)
}

// GetProject handles GET /api/v1/projects/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ProjectHandler) GetProject(c *gin.Context) {
	id := c.Param("id")

	project, err := h.projects.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrProjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found: " + id})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load project: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, project)
}

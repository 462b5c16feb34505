package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jarto666/scriptforge/internal/domain"
	"github.com/jarto666/scriptforge/internal/repository"
	"github.com/jarto666/scriptforge/internal/service"
)

// BatchHandler handles batch lifecycle endpoints.
type BatchHandler struct {
	coordinator *service.Coordinator
	batches     *repository.BatchRepository
	projects    *repository.ProjectRepository
}

// NewBatchHandler creates a new batch handler.
// Parameters:
//   - coordinator: batch coordinator instance.
//   - batches: batch repository.
//   - projects: project repository.
// Returns:
//   - *BatchHandler: initialized handler.
func NewBatchHandler(coordinator *service.Coordinator, batches *repository.BatchRepository, projects *repository.ProjectRepository) *BatchHandler {
	return &BatchHandler{
		coordinator: coordinator,
		batches:     batches,
		projects:    projects,
	}
}

// CreateBatchRequest is the body of POST /api/v1/batches.
type CreateBatchRequest struct {
	ProjectID string             `json:"project_id" binding:"required"`
	Config    domain.BatchConfig `json:"config" binding:"required"`
}

// CreateBatch handles POST /api/v1/batches: validate, expand, persist, and
// dispatch the batch for generation. Responds 202 with the created batch;
// progress streams over the websocket gateway.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *BatchHandler) CreateBatch(c *gin.Context) {
	var req CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	ctx := c.Request.Context()

	project, err := h.projects.GetByID(ctx, req.ProjectID)
	if err != nil {
		if errors.Is(err, domain.ErrProjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found: " + req.ProjectID})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load project: " + err.Error()})
		return
	}

	persona, err := h.projects.GetPersona(ctx, req.Config.PersonaID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load persona: " + err.Error()})
		return
	}

	batch, err := h.coordinator.CreateBatch(ctx, project.ID, req.Config)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidConfiguration) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create batch: " + err.Error()})
		return
	}

	if err := h.coordinator.Start(ctx, batch, persona); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, batch)
}

// GetBatch handles GET /api/v1/batches/:id. The persisted record is the
// baseline; while the batch is still in flight the coordinator's live
// counters overlay the stored aggregates so a freshly connected client can
// reconcile before its event stream starts.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *BatchHandler) GetBatch(c *gin.Context) {
	id := c.Param("id")

	batch, err := h.batches.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrBatchNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found: " + id})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load batch: " + err.Error()})
		return
	}

	if counters, live := h.coordinator.Counters(id); live {
		batch.Status = domain.BatchStatusGenerating
		batch.CompletedScripts = counters.Completed
		batch.FailedScripts = counters.Failed
	}

	c.JSON(http.StatusOK, batch)
}

// CancelBatch handles POST /api/v1/batches/:id/cancel. Outstanding scripts
// are accounted as failed and the batch converges to its terminal state,
// emitting its usual completion event.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *BatchHandler) CancelBatch(c *gin.Context) {
	id := c.Param("id")

	if err := h.coordinator.Cancel(id); err != nil {
		if errors.Is(err, domain.ErrBatchNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No running batch: " + id})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel batch: " + err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling", "batch_id": id})
}

// ListBatches handles GET /api/v1/projects/:id/batches.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *BatchHandler) ListBatches(c *gin.Context) {
	projectID := c.Param("id")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit: " + raw})
			return
		}
		limit = n
	}

	batches, err := h.batches.ListByProject(c.Request.Context(), projectID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list batches: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"batches": batches,
		"total":   len(batches),
	})
}

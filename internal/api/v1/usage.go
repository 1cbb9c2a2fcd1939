package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/api/dto"
	"github.com/meterline/meterline/internal/config"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/service"
)

type UsageHandler struct {
	cfg        *config.Configuration
	ingestion  service.IngestionService
	aggregator service.AggregatorService
	query      service.UsageQueryService
	log        *logger.Logger
}

func NewUsageHandler(
	cfg *config.Configuration,
	ingestion service.IngestionService,
	aggregator service.AggregatorService,
	query service.UsageQueryService,
	log *logger.Logger,
) *UsageHandler {
	return &UsageHandler{
		cfg:        cfg,
		ingestion:  ingestion,
		aggregator: aggregator,
		query:      query,
		log:        log,
	}
}

// @Summary Submit a usage event
// @Description Submit one raw usage event for accumulation and aggregation
// @Tags Usage
// @Accept json
// @Produce json
// @Param usage body dto.SubmitUsageRequest true "Usage event"
// @Success 200 {object} dto.SubmitUsageResponse
// @Success 202 {object} dto.SubmitUsageResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 422 {object} ierr.ErrorResponse
// @Router /usage/events [post]
func (h *UsageHandler) SubmitUsage(c *gin.Context) {
	var req dto.SubmitUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error("Failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	event := req.ToEvent()

	if h.cfg.Ingestion.Enabled {
		if err := h.ingestion.PublishEvent(c.Request.Context(), event); err != nil {
			h.log.Error("Failed to publish usage event", "error", err)
			c.Error(err)
			return
		}
		c.JSON(http.StatusAccepted, &dto.SubmitUsageResponse{
			EventID:  event.ID,
			Accepted: true,
			Async:    true,
		})
		return
	}

	result, err := h.ingestion.ProcessEvent(c.Request.Context(), event)
	if err != nil {
		h.log.Error("Failed to process usage event", "error", err)
		c.Error(err)
		return
	}

	resp := &dto.SubmitUsageResponse{
		EventID:   event.ID,
		Accepted:  true,
		Duplicate: result.Duplicate,
	}
	if result.Marker != nil {
		resp.ProcessedID = result.Marker.ProcessedID
	}
	c.JSON(http.StatusOK, resp)
}

// @Summary Get organization usage
// @Description Get the latest organization rollup as of a point in time
// @Tags Usage
// @Produce json
// @Param organization_id path string true "Organization ID"
// @Param at query string false "Point in time (RFC3339), defaults to now"
// @Success 200 {object} usage.OrganizationUsage
// @Failure 404 {object} ierr.ErrorResponse
// @Router /organizations/{organization_id}/usage [get]
func (h *UsageHandler) GetOrganizationUsage(c *gin.Context) {
	at, err := h.atParam(c)
	if err != nil {
		c.Error(err)
		return
	}

	org, err := h.query.GetOrganizationUsage(c.Request.Context(), c.Param("organization_id"), at)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, org)
}

// @Summary Get space usage
// @Description Get the latest space rollup as of a point in time
// @Tags Usage
// @Produce json
// @Param organization_id path string true "Organization ID"
// @Param space_id path string true "Space ID"
// @Param at query string false "Point in time (RFC3339), defaults to now"
// @Success 200 {object} usage.SpaceUsage
// @Failure 404 {object} ierr.ErrorResponse
// @Router /organizations/{organization_id}/spaces/{space_id}/usage [get]
func (h *UsageHandler) GetSpaceUsage(c *gin.Context) {
	at, err := h.atParam(c)
	if err != nil {
		c.Error(err)
		return
	}

	space, err := h.query.GetSpaceUsage(c.Request.Context(), c.Param("organization_id"), c.Param("space_id"), at)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, space)
}

// @Summary Get consumer usage
// @Description Get the latest consumer rollup as of a point in time
// @Tags Usage
// @Produce json
// @Param organization_id path string true "Organization ID"
// @Param space_id path string true "Space ID"
// @Param consumer_id path string true "Consumer ID"
// @Param at query string false "Point in time (RFC3339), defaults to now"
// @Success 200 {object} usage.ConsumerUsage
// @Failure 404 {object} ierr.ErrorResponse
// @Router /organizations/{organization_id}/spaces/{space_id}/consumers/{consumer_id}/usage [get]
func (h *UsageHandler) GetConsumerUsage(c *gin.Context) {
	at, err := h.atParam(c)
	if err != nil {
		c.Error(err)
		return
	}

	consumer, err := h.query.GetConsumerUsage(
		c.Request.Context(),
		c.Param("organization_id"),
		c.Param("space_id"),
		c.Param("consumer_id"),
		at,
	)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, consumer)
}

// @Summary Get accumulated usage for a resource instance
// @Description Get the latest accumulated document for a resource instance as of a point in time
// @Tags Usage
// @Produce json
// @Param organization_id path string true "Organization ID"
// @Param resource_instance_id path string true "Resource instance ID"
// @Param at query string false "Point in time (RFC3339), defaults to now"
// @Success 200 {object} usage.AccumulatedUsage
// @Failure 404 {object} ierr.ErrorResponse
// @Router /organizations/{organization_id}/instances/{resource_instance_id}/usage [get]
func (h *UsageHandler) GetAccumulatedUsage(c *gin.Context) {
	at, err := h.atParam(c)
	if err != nil {
		c.Error(err)
		return
	}

	acc, err := h.query.GetAccumulatedUsage(
		c.Request.Context(),
		c.Param("organization_id"),
		c.Param("resource_instance_id"),
		at,
	)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, acc)
}

// @Summary Replay parked aggregation errors
// @Description Re-aggregate documents whose aggregation failed on a plan lookup
// @Tags Usage
// @Produce json
// @Success 200 {object} dto.ReplayErrorsResponse
// @Router /usage/errors/replay [post]
func (h *UsageHandler) ReplayErrors(c *gin.Context) {
	replayed, err := h.aggregator.ReplayErrors(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to replay error documents", "error", err)
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, &dto.ReplayErrorsResponse{Replayed: replayed})
}

func (h *UsageHandler) atParam(c *gin.Context) (time.Time, error) {
	raw := c.Query("at")
	if raw == "" {
		return time.Now().UTC(), nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, ierr.WithError(err).
			WithHint("Invalid 'at' timestamp, expected RFC3339").
			Mark(ierr.ErrValidation)
	}
	return at.UTC(), nil
}

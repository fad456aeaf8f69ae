// Package handlers provides the internal REST API used by the content services and the gateway.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devhub-community/reputation-engine/internal/models"
	"github.com/devhub-community/reputation-engine/internal/presence"
	"github.com/devhub-community/reputation-engine/internal/reputation"
	"github.com/devhub-community/reputation-engine/internal/service/award"
	"github.com/devhub-community/reputation-engine/internal/service/leaderboard"
	"github.com/devhub-community/reputation-engine/internal/service/milestones"
	"github.com/devhub-community/reputation-engine/pkg/logger"
)

// UserIDHeader carries the authenticated user on live connections. It is set by the gateway.
const UserIDHeader = "X-User-ID"

// AwardService interface for write operations.
type AwardService interface {
	Award(ctx context.Context, req award.Request) (*award.Result, error)
	Actions() *reputation.Actions
	CreateAccount(ctx context.Context, userID string) (*models.UserReputation, bool, error)
	DeleteAccount(ctx context.Context, userID string) error
}

// ReadService interface for leaderboard and standings.
type ReadService interface {
	Leaderboard(ctx context.Context, limit, offset int) ([]leaderboard.Entry, error)
	Invalidate(ctx context.Context)
	Standing(ctx context.Context, userID string) (*leaderboard.Standing, error)
	Activities(ctx context.Context, userID string, beforeID int64, limit int) ([]models.Activity, error)
}

// MilestoneService interface for the milestone catalogue.
type MilestoneService interface {
	Catalog(ctx context.Context) ([]milestones.CatalogEntry, error)
	UserMilestones(ctx context.Context, userID string) ([]milestones.EarnedMilestone, error)
}

// ConnectionRegistry interface for live connections.
type ConnectionRegistry interface {
	Register(ch *presence.Channel) *presence.Channel
	Unregister(ch *presence.Channel) bool
}

// StreamConfig tunes live connections.
type StreamConfig struct {
	Buffer    int
	Heartbeat time.Duration
}

// Handler handles reputation API requests.
type Handler struct {
	awards     AwardService
	reads      ReadService
	milestones MilestoneService
	registry   ConnectionRegistry
	stream     StreamConfig
	log        *logger.Logger
}

// NewHandler creates a new handler.
func NewHandler(
	awards *award.Service,
	reads *leaderboard.Service,
	ms *milestones.Service,
	registry *presence.Registry,
	stream StreamConfig,
	log *logger.Logger,
) *Handler {
	return NewHandlerWithInterfaces(awards, reads, ms, registry, stream, log)
}

// NewHandlerWithInterfaces creates a new handler with interface dependencies (useful for testing).
func NewHandlerWithInterfaces(
	awards AwardService,
	reads ReadService,
	ms MilestoneService,
	registry ConnectionRegistry,
	stream StreamConfig,
	log *logger.Logger,
) *Handler {
	if stream.Heartbeat <= 0 {
		stream.Heartbeat = 25 * time.Second
	}
	return &Handler{
		awards:     awards,
		reads:      reads,
		milestones: ms,
		registry:   registry,
		stream:     stream,
		log:        log,
	}
}

// awardRequest is the body of POST /api/v1/awards. A missing delta uses the
// action's default.
type awardRequest struct {
	UserID     string     `json:"user_id" binding:"required"`
	ActionType string     `json:"action_type" binding:"required"`
	Delta      *int64     `json:"delta"`
	OccurredAt *time.Time `json:"occurred_at"`
}

// PostAward applies a scoring trigger.
// POST /api/v1/awards.
func (h *Handler) PostAward(c *gin.Context) {
	var body awardRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req := award.Request{UserID: body.UserID, ActionType: body.ActionType}
	if body.Delta != nil {
		req.Delta = *body.Delta
	} else if spec, ok := h.awards.Actions().Lookup(body.ActionType); ok {
		req.Delta = spec.Delta
	}
	if body.OccurredAt != nil {
		req.OccurredAt = *body.OccurredAt
	}

	result, err := h.awards.Award(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err, "Failed to apply award")
		return
	}

	c.JSON(http.StatusOK, result)
}

// CreateUser creates the reputation account of a user. Idempotent.
// POST /api/v1/users/:id.
func (h *Handler) CreateUser(c *gin.Context) {
	rep, created, err := h.awards.CreateAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err, "Failed to create account")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, rep)
}

// DeleteUser removes a user's reputation data.
// DELETE /api/v1/users/:id.
func (h *Handler) DeleteUser(c *gin.Context) {
	if err := h.awards.DeleteAccount(c.Request.Context(), c.Param("id")); err != nil {
		h.handleError(c, err, "Failed to delete account")
		return
	}
	h.reads.Invalidate(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// GetReputation returns the standing of a user.
// GET /api/v1/users/:id/reputation.
func (h *Handler) GetReputation(c *gin.Context) {
	st, err := h.reads.Standing(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err, "Failed to retrieve reputation")
		return
	}
	c.JSON(http.StatusOK, st)
}

// GetActivities returns a page of a user's activity history.
// GET /api/v1/users/:id/activities?limit=20&before=<id>.
func (h *Handler) GetActivities(c *gin.Context) {
	limit, err := parseIntQuery(c, "limit", leaderboard.DefaultLimit, 1, leaderboard.MaxLimit)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	var before int64
	if raw := c.Query("before"); raw != "" {
		before, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || before <= 0 {
			h.errorResponse(c, http.StatusBadRequest, "invalid before parameter: "+raw)
			return
		}
	}

	activities, err := h.reads.Activities(c.Request.Context(), c.Param("id"), before, limit)
	if err != nil {
		h.handleError(c, err, "Failed to retrieve activities")
		return
	}

	resp := gin.H{
		"activities":   activities,
		"generated_at": time.Now().UTC(),
	}
	if len(activities) == limit {
		resp["next_before"] = strconv.FormatInt(activities[len(activities)-1].ID, 10)
	}
	c.JSON(http.StatusOK, resp)
}

// GetUserMilestones returns the milestones a user has earned.
// GET /api/v1/users/:id/milestones.
func (h *Handler) GetUserMilestones(c *gin.Context) {
	earned, err := h.milestones.UserMilestones(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err, "Failed to retrieve milestones")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":    c.Param("id"),
		"milestones": earned,
		"total":      len(earned),
	})
}

// GetCatalog returns every configured milestone with its holder count.
// GET /api/v1/milestones.
func (h *Handler) GetCatalog(c *gin.Context) {
	catalog, err := h.milestones.Catalog(c.Request.Context())
	if err != nil {
		h.handleError(c, err, "Failed to retrieve milestone catalog")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"milestones":   catalog,
		"total":        len(catalog),
		"generated_at": time.Now().UTC(),
	})
}

// GetLeaderboard returns users ordered by points.
// GET /api/v1/leaderboard?limit=20&offset=0.
func (h *Handler) GetLeaderboard(c *gin.Context) {
	limit, err := parseIntQuery(c, "limit", leaderboard.DefaultLimit, 1, leaderboard.MaxLimit)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseIntQuery(c, "offset", 0, 0, 1<<20)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.reads.Leaderboard(c.Request.Context(), limit, offset)
	if err != nil {
		h.handleError(c, err, "Failed to retrieve leaderboard")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"leaderboard":   entries,
		"total_entries": len(entries),
		"generated_at":  time.Now().UTC(),
	})
}

// handleError maps domain errors to status codes. Storage failures are 503 and retryable.
func (h *Handler) handleError(c *gin.Context, err error, msg string) {
	switch {
	case reputation.IsValidation(err):
		h.errorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, reputation.ErrUserNotFound):
		h.errorResponse(c, http.StatusNotFound, "user not found")
	case reputation.IsRetryable(err):
		h.log.Warn().Err(err).Str("path", c.FullPath()).Msg(msg)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     msg,
			"retryable": true,
			"timestamp": time.Now().UTC(),
		})
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg(msg)
		h.errorResponse(c, http.StatusInternalServerError, msg)
	}
}

// errorResponse sends a standardized error response.
func (h *Handler) errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":     message,
		"timestamp": time.Now().UTC(),
	})
}

func parseIntQuery(c *gin.Context, name string, def, minVal, maxVal int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("invalid " + name + " parameter: " + raw)
	}
	if v < minVal || v > maxVal {
		return 0, errors.New(name + " must be between " + strconv.Itoa(minVal) + " and " + strconv.Itoa(maxVal))
	}
	return v, nil
}

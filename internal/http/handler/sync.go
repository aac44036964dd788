package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"tracksync.app/sync-server/common/logger"
	"tracksync.app/sync-server/internal/http/dto"
	"tracksync.app/sync-server/internal/model"
	"tracksync.app/sync-server/internal/sync"
)

const tokenHeader = "X-Sync-Token"

// Dispatcher routes events to the named profile's engine. *sync.Bridge is the
// production implementation.
type Dispatcher interface {
	ProcessChange(ctx context.Context, profile string, ev model.ChangeEvent) (*sync.Result, error)
	ProcessWebhook(ctx context.Context, profile string, ev model.WebhookEvent) (*sync.Result, error)
}

// SyncHandler receives change events from the record store and webhooks from
// the issue tracker and hands them to the bridge.
type SyncHandler struct {
	bridge Dispatcher
	token  string
}

func NewSyncHandler(bridge Dispatcher, token string) *SyncHandler {
	return &SyncHandler{bridge: bridge, token: token}
}

func (h *SyncHandler) authorized(c *gin.Context) bool {
	got := c.GetHeader(tokenHeader)
	if h.token == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) == 1
}

func (h *SyncHandler) HandleChange(c *gin.Context) {
	ctx := c.Request.Context()

	if !h.authorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	profile := c.Param("profile")

	var req dto.ChangeEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid change event", "error", err, "profile", profile)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Profile:    profile,
		RecordType: req.RecordType,
		RecordID:   req.RecordID,
		EventKind:  "change",
	})

	result, err := h.bridge.ProcessChange(ctx, profile, req.Model())
	if err != nil {
		if errors.Is(err, sync.ErrUnknownProfile) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown profile"})
			return
		}
		slog.ErrorContext(ctx, "failed to process change event", "error", err, "field", req.Field)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
		return
	}

	c.JSON(http.StatusOK, syncResponse(result))
}

func (h *SyncHandler) HandleWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	if !h.authorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	profile := c.Param("profile")

	var req dto.WebhookEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid webhook payload", "error", err, "profile", profile)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Profile:   profile,
		IssueKey:  req.IssueKey,
		EventKind: "webhook",
	})

	result, err := h.bridge.ProcessWebhook(ctx, profile, req.Model())
	if err != nil {
		if errors.Is(err, sync.ErrUnknownProfile) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown profile"})
			return
		}
		slog.ErrorContext(ctx, "failed to process webhook", "error", err, "resource", req.Resource, "action", req.Action)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process webhook"})
		return
	}

	c.JSON(http.StatusOK, syncResponse(result))
}

func syncResponse(result *sync.Result) dto.SyncResponse {
	resp := dto.SyncResponse{Synced: result.Synced}
	for _, s := range result.Skipped {
		resp.Skipped = append(resp.Skipped, dto.SkippedFieldResponse{Field: s.Field, Reason: s.Reason})
	}
	return resp
}

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nicedev/wekan-github-sync/boardsync"
	"github.com/nicedev/wekan-github-sync/database"
	"github.com/nicedev/wekan-github-sync/internal/models"
	"github.com/nicedev/wekan-github-sync/internal/signature"
	"go.uber.org/zap"
)

// syncEngine is the slice of boardsync.Engine the handlers call.
type syncEngine interface {
	HandleIssues(ctx context.Context, ev *models.IssuesEvent) error
	HandlePullRequest(ctx context.Context, ev *models.PullRequestEvent) error
	HandlePush(ctx context.Context, ev *models.PushEvent) error
	HandleRepository(ctx context.Context, ev *models.RepositoryEvent) error
}

// sessionProbe reports session validity for /health without triggering a login.
type sessionProbe interface {
	Valid() bool
}

// deliveryStore records delivery outcomes and serves aggregates for /stats.
type deliveryStore interface {
	Record(models.Delivery) error
	Stats() (database.Stats, error)
}

type Handler struct {
	Secret  string
	Engine  syncEngine
	Session sessionProbe
	Store   deliveryStore
	Log     *zap.Logger
}

// eventHeader prefers X-Event-Type and falls back to GitHub's native header.
func eventHeader(c *gin.Context) string {
	if v := c.GetHeader("X-Event-Type"); v != "" {
		return v
	}
	return c.GetHeader("X-GitHub-Event")
}

// signatureHeader prefers X-Signature and falls back to X-Hub-Signature-256.
func signatureHeader(c *gin.Context) string {
	if v := c.GetHeader("X-Signature"); v != "" {
		return v
	}
	return c.GetHeader("X-Hub-Signature-256")
}

func (h *Handler) GithubWebhookHandler(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unable to read request body"})
		return
	}

	if !signature.Verify(body, signatureHeader(c), h.Secret) {
		h.Log.Warn("invalid webhook signature", zap.String("ip", c.ClientIP()))
		h.record(models.Delivery{Event: eventHeader(c), Outcome: models.OutcomeRejected, Detail: "invalid signature"})
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	eventName := eventHeader(c)
	event := models.ParseEventType(eventName)
	if event == models.EventUnknown {
		h.Log.Info("unhandled event type", zap.String("event", eventName))
		h.record(models.Delivery{Event: eventName, Outcome: models.OutcomeIgnored, Detail: "unhandled event type"})
		c.JSON(http.StatusOK, gin.H{"status": "Event not handled", "event": eventName})
		return
	}

	payload, err := models.ParseEvent(event, body)
	if err != nil {
		h.Log.Warn("malformed payload", zap.String("event", eventName), zap.Error(err))
		h.record(models.Delivery{Event: eventName, Outcome: models.OutcomeRejected, Detail: "malformed payload"})
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}

	h.Log.Info("received GitHub webhook event", zap.String("event", eventName))
	h.dispatch(c, event, payload)
}

// dispatch runs the per-event handler and maps the error taxonomy to an HTTP
// status. Internal detail never leaks into the response body.
func (h *Handler) dispatch(c *gin.Context, event models.EventType, payload any) {
	ctx := c.Request.Context()

	var action, repo string
	var err error
	switch event {
	case models.EventIssues:
		ev := payload.(*models.IssuesEvent)
		action, repo = ev.Action, ev.Repository.Name
		err = h.Engine.HandleIssues(ctx, ev)
	case models.EventPullRequest:
		ev := payload.(*models.PullRequestEvent)
		action, repo = ev.Action, ev.Repository.Name
		err = h.Engine.HandlePullRequest(ctx, ev)
	case models.EventPush:
		ev := payload.(*models.PushEvent)
		repo = ev.Repository.Name
		err = h.Engine.HandlePush(ctx, ev)
	case models.EventRepository:
		ev := payload.(*models.RepositoryEvent)
		action, repo = ev.Action, ev.Repository.Name
		err = h.Engine.HandleRepository(ctx, ev)
	}

	delivery := models.Delivery{Event: string(event), Action: action, Repository: repo}

	switch {
	case err == nil:
		delivery.Outcome = models.OutcomeProcessed
		h.record(delivery)
		c.JSON(http.StatusOK, gin.H{"status": "success", "event": string(event)})
	case errors.Is(err, boardsync.ErrSyncFailed):
		h.Log.Error("sync failed", zap.String("event", string(event)), zap.String("repo", repo), zap.Error(err))
		delivery.Outcome = models.OutcomeFailed
		delivery.Detail = "sync failed"
		h.record(delivery)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to synchronize event"})
	default:
		h.Log.Error("unexpected error processing webhook", zap.String("event", string(event)), zap.Error(err))
		delivery.Outcome = models.OutcomeFailed
		delivery.Detail = "internal error"
		h.record(delivery)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func (h *Handler) record(d models.Delivery) {
	if h.Store == nil {
		return
	}
	if err := h.Store.Record(d); err != nil {
		h.Log.Error("failed to record delivery", zap.Error(err))
	}
}

func (h *Handler) HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":                  "healthy",
		"timestamp":               time.Now().Format(time.RFC3339),
		"board_service_connected": h.Session.Valid(),
	})
}

func (h *Handler) StatsHandler(c *gin.Context) {
	if h.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Delivery store not configured"})
		return
	}
	stats, err := h.Store.Stats()
	if err != nil {
		h.Log.Error("failed to load delivery stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Register wires the service routes onto the router.
func Register(r *gin.Engine, h *Handler) {
	r.POST("/github-webhook", h.GithubWebhookHandler)
	r.GET("/health", h.HealthCheckHandler)
	r.GET("/stats", h.StatsHandler)
}

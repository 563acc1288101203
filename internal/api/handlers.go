// Package api implements the REST endpoints of the Postgate service:
// the publish entry point used by the external scheduler and the
// management/introspection surface.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openpostops/postgate/internal/budget"
	"github.com/openpostops/postgate/internal/ledger"
	"github.com/openpostops/postgate/internal/llm"
	"github.com/openpostops/postgate/internal/postcheck"
	"github.com/openpostops/postgate/internal/publisher"
	"github.com/openpostops/postgate/internal/ratectl"
	"github.com/openpostops/postgate/pkg/cache"
	"github.com/openpostops/postgate/pkg/models"
)

// Handlers provides the REST endpoint handlers.
type Handlers struct {
	facade     *publisher.Facade
	guard      *budget.Guard
	cache      *cache.ResilientCache
	controller *ratectl.Controller
	gatherer   *ratectl.Gatherer
	ledger     *ledger.Ledger // may be nil: ledger-less mode
	llm        *llm.Client    // may be nil: no API key configured
}

// NewHandlers creates a Handlers instance.
func NewHandlers(facade *publisher.Facade, guard *budget.Guard, c *cache.ResilientCache, controller *ratectl.Controller, gatherer *ratectl.Gatherer, l *ledger.Ledger, client *llm.Client) *Handlers {
	return &Handlers{
		facade:     facade,
		guard:      guard,
		cache:      c,
		controller: controller,
		gatherer:   gatherer,
		ledger:     l,
		llm:        client,
	}
}

// HealthCheck returns service health including remote cache reachability.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "postgate",
		"version": "0.1.0",
		"cache":   h.cache.Health(c.Request.Context()),
	})
}

// Publish runs a draft through the governance pipeline and posts it.
func (h *Handlers) Publish(c *gin.Context) {
	var draft models.Draft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid draft payload: " + err.Error()})
		return
	}

	receipt, err := h.facade.Post(c.Request.Context(), &draft)
	if err != nil {
		status, code := classifyPublishError(err)
		c.JSON(status, gin.H{
			"error":          code,
			"message":        err.Error(),
			"attempt_status": draft.AttemptStatus,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        receipt.Success,
		"tweet_id":       receipt.TweetID,
		"attempt_status": draft.AttemptStatus,
	})
}

// classifyPublishError maps pipeline failures onto HTTP codes. Budget
// exhaustion is 402; structural and content rejections are 422; an
// upstream network failure is 502.
func classifyPublishError(err error) (int, string) {
	var guardErr *postcheck.GuardError
	if errors.As(err, &guardErr) {
		return http.StatusUnprocessableEntity, "THREAD_GUARD"
	}
	var qualityErr *publisher.QualityError
	if errors.As(err, &qualityErr) {
		return http.StatusUnprocessableEntity, string(qualityErr.Result.Reason)
	}
	var exceeded *budget.ExceededError
	if errors.As(err, &exceeded) {
		return http.StatusPaymentRequired, "BUDGET_EXCEEDED"
	}
	var unsafe *publisher.UnsafeError
	if errors.As(err, &unsafe) {
		return http.StatusUnprocessableEntity, "FACT_CHECK_BLOCKED"
	}
	return http.StatusBadGateway, "POST_FAILED"
}

// BudgetStatus returns today's spend snapshot.
func (h *Handlers) BudgetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.guard.State(c.Request.Context()))
}

// RateTargets gathers the rolling signals and returns the computed
// posting targets for the external scheduler.
func (h *Handlers) RateTargets(c *gin.Context) {
	if h.gatherer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "telemetry unavailable: ledger not connected"})
		return
	}
	inputs, err := h.gatherer.GatherInputs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "telemetry unavailable: " + err.Error()})
		return
	}
	targets := h.controller.ComputeTargets(inputs)
	c.JSON(http.StatusOK, gin.H{"inputs": inputs, "targets": targets})
}

// Generate produces draft text through the budget-guarded LLM client.
// A skipped generation (budget exhausted) is reported as 402.
func (h *Handlers) Generate(c *gin.Context) {
	if h.llm == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "generation unavailable: OPENAI_API_KEY not configured"})
		return
	}

	var req struct {
		Intent    string `json:"intent"`
		System    string `json:"system"`
		Prompt    string `json:"prompt" binding:"required"`
		MaxTokens int    `json:"max_tokens"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid generate payload: " + err.Error()})
		return
	}
	if req.Intent == "" {
		req.Intent = "draft generation"
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = 400
	}

	out, err := h.llm.Complete(c.Request.Context(), req.Intent, req.System, req.Prompt, req.MaxTokens)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if out.Skipped {
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "BUDGET_EXCEEDED", "message": out.Reason})
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": out.Text, "usage": out.Usage})
}

// RecentUsage returns the most recent usage records from the ledger.
func (h *Handlers) RecentUsage(c *gin.Context) {
	if h.ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger unavailable"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 1000 {
		limit = 50
	}

	records, err := h.ledger.RecentUsage(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "data": records})
}

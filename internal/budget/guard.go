// Package budget implements the daily spend ceiling for model API usage.
//
// The guard tracks a rolling daily spend total keyed by UTC calendar day,
// estimates the cost of pending calls from a static price table, and blocks
// once the configured ceiling is reached. The cache counter is the
// authoritative fast-path signal; the ledger carries the full audit trail.
package budget

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/openpostops/postgate/pkg/models"
)

// counterTTL keeps daily spend keys around long enough to survive clock
// skew across the UTC midnight rollover.
const counterTTL = 48 * time.Hour

// modelPricing is USD per 1K tokens.
type modelPricing struct {
	PromptPerK     float64
	CompletionPerK float64
}

// priceTable is the static per-model price list. Unknown models fail
// closed: estimation returns a configuration error, never a silent zero.
var priceTable = map[string]modelPricing{
	"gpt-4o":        {PromptPerK: 0.0025, CompletionPerK: 0.01},
	"gpt-4o-mini":   {PromptPerK: 0.00015, CompletionPerK: 0.0006},
	"gpt-4-turbo":   {PromptPerK: 0.01, CompletionPerK: 0.03},
	"gpt-3.5-turbo": {PromptPerK: 0.0005, CompletionPerK: 0.0015},
	"o1-mini":       {PromptPerK: 0.003, CompletionPerK: 0.012},
}

// ExceededError reports that the daily budget ceiling has been reached.
type ExceededError struct {
	SpentUSD float64
	LimitUSD float64
	Day      string
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("budget: Daily budget exceeded: spent $%.4f of $%.4f for %s",
		e.SpentUSD, e.LimitUSD, e.Day)
}

// UnknownModelError reports a model absent from the price table.
type UnknownModelError struct {
	Model string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("budget: no pricing configured for model %q", e.Model)
}

// Counter is the daily spend counter, served by the resilient cache.
type Counter interface {
	Get(ctx context.Context, key string) (value string, found bool, fellBack bool)
	IncrByFloat(ctx context.Context, key string, delta float64, ttl time.Duration) (newValue float64, fellBack bool)
}

// Recorder persists full usage records to the append-only ledger.
type Recorder interface {
	RecordUsage(ctx context.Context, rec *models.UsageRecord) error
}

// Guard enforces the daily spend ceiling.
type Guard struct {
	counter   Counter
	recorder  Recorder // may be nil: counter-only accounting
	limitUSD  float64
	keyPrefix string
	enabled   bool
	strict    bool

	now func() time.Time // injected for day-rollover tests
}

// NewGuard creates a budget Guard. recorder may be nil, in which case
// usage is reflected only in the cache counter.
func NewGuard(counter Counter, recorder Recorder, limitUSD float64, keyPrefix string, enabled, strict bool) *Guard {
	return &Guard{
		counter:   counter,
		recorder:  recorder,
		limitUSD:  limitUSD,
		keyPrefix: keyPrefix,
		enabled:   enabled,
		strict:    strict,
		now:       time.Now,
	}
}

// DayKey returns the cache key for the current UTC calendar day.
func (g *Guard) DayKey() string {
	return g.keyPrefix + ":" + g.now().UTC().Format("2006-01-02")
}

// EstimateCost computes the linear token cost of a pending call.
func (g *Guard) EstimateCost(in models.CostEstimateInput) (float64, error) {
	p, ok := priceTable[in.Model]
	if !ok {
		return 0, &UnknownModelError{Model: in.Model}
	}
	if in.PromptTokens < 0 || in.CompletionTokens < 0 {
		return 0, fmt.Errorf("budget: negative token counts (%d prompt, %d completion)",
			in.PromptTokens, in.CompletionTokens)
	}
	return float64(in.PromptTokens)/1000*p.PromptPerK +
		float64(in.CompletionTokens)/1000*p.CompletionPerK, nil
}

// CheckBudget returns an *ExceededError when today's spend has reached the
// limit (boundary inclusive), nil otherwise. A disabled guard never blocks.
func (g *Guard) CheckBudget(ctx context.Context) error {
	if !g.enabled {
		return nil
	}
	spent := g.spentToday(ctx)
	if spent >= g.limitUSD {
		return &ExceededError{SpentUSD: spent, LimitUSD: g.limitUSD, Day: g.day()}
	}
	return nil
}

// State returns a snapshot of today's budget.
func (g *Guard) State(ctx context.Context) models.BudgetState {
	spent := g.spentToday(ctx)
	return models.BudgetState{
		DayKey:   g.day(),
		SpentUSD: spent,
		LimitUSD: g.limitUSD,
		Blocked:  spent >= g.limitUSD,
	}
}

// RecordUsage increments the daily spend counter and, independently,
// persists the full record to the ledger. Ledger failure is logged and
// non-fatal: the counter already reflects the spend for subsequent checks.
func (g *Guard) RecordUsage(ctx context.Context, rec *models.UsageRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = g.now().UTC()
	}
	if newVal, fellBack := g.counter.IncrByFloat(ctx, g.DayKey(), rec.CostUSD, counterTTL); fellBack {
		log.Printf("budget: spend counter degraded to per-process fallback (day total $%.4f)", newVal)
	}
	if g.recorder == nil {
		return
	}
	if err := g.recorder.RecordUsage(ctx, rec); err != nil {
		log.Printf("budget: ledger write failed for %s (non-fatal, counter is authoritative): %v", rec.ID, err)
	}
}

// SkipResult is returned by Wrap when the wrapped call was not attempted.
type SkipResult struct {
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason"`
}

// Wrap runs fn under the budget guard. When the budget is exhausted the
// call is skipped entirely and a SkipResult is returned instead of an
// error: skipping a non-critical model call must never crash the caller's
// pipeline. Any other guard failure follows the strict flag.
func Wrap[T any](ctx context.Context, g *Guard, intent string, fn func(context.Context) (T, error)) (T, *SkipResult, error) {
	var zero T
	if err := g.CheckBudget(ctx); err != nil {
		var exceeded *ExceededError
		if errors.As(err, &exceeded) {
			log.Printf("budget: skipping %q: %v", intent, err)
			return zero, &SkipResult{
				Skipped: true,
				Reason: fmt.Sprintf("Daily budget exceeded: spent $%.4f of $%.4f for %s",
					exceeded.SpentUSD, exceeded.LimitUSD, exceeded.Day),
			}, nil
		}
		if g.strict {
			return zero, nil, fmt.Errorf("budget: check failed for %q: %w", intent, err)
		}
		log.Printf("budget: check failed for %q (%v), proceeding (non-strict)", intent, err)
	}

	out, err := fn(ctx)
	if err != nil {
		return zero, nil, err
	}
	return out, nil, nil
}

func (g *Guard) day() string {
	return g.now().UTC().Format("2006-01-02")
}

// spentToday reads the current day counter. A missing or unparseable
// value reads as zero spend.
func (g *Guard) spentToday(ctx context.Context) float64 {
	val, found, fellBack := g.counter.Get(ctx, g.DayKey())
	if fellBack {
		log.Printf("budget: spend read degraded to per-process fallback")
	}
	if !found {
		return 0
	}
	spent, err := strconv.ParseFloat(val, 64)
	if err != nil {
		log.Printf("budget: unparseable spend counter %q, treating as zero: %v", val, err)
		return 0
	}
	return spent
}

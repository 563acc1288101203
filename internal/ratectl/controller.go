// Package ratectl computes target posting and reply rates from rolling
// performance signals. ComputeTargets is a pure function invoked on a
// fixed cadence by an external scheduler; the Gatherer performs the
// blocking telemetry reads that feed it.
package ratectl

import (
	"context"
	"fmt"
	"time"

	"github.com/openpostops/postgate/pkg/models"
)

// Control-loop tuning. Adjustments are independently evaluated and each
// applied at most once per tick.
const (
	BasePostsPerHour  = 1.0
	BaseRepliesPerDay = 10.0

	ER24hBonusThreshold = 0.03 // engagement actions per impression
	ER7dBonusThreshold  = 0.05
	MinFreshOutcomes    = 5

	PostsBonus   = 0.5
	RepliesBonus = 5.0

	SpendPenaltyRatio = 0.8 // penalize above 80% of the daily limit
	ErrorPenaltyRate  = 0.05
	PostsPenalty      = 0.5
	RepliesPenalty    = 5.0
)

// Limits are the configured target range and the absolute hard ceilings.
// The hard ceiling always wins, regardless of performance signals.
type Limits struct {
	PostsPerHourMin      float64
	PostsPerHourMax      float64
	RepliesPerDayMin     float64
	RepliesPerDayMax     float64
	HardMaxPostsPerHour  float64
	HardMaxRepliesPerDay float64
}

// Controller computes rate targets under the given limits.
type Controller struct {
	limits Limits
}

// NewController creates a rate Controller.
func NewController(limits Limits) *Controller {
	return &Controller{limits: limits}
}

// ComputeTargets derives target rates from the rolling signals. Pure:
// same inputs always yield the same targets.
func (c *Controller) ComputeTargets(in models.RateInputs) models.RateTargets {
	posts := BasePostsPerHour
	replies := BaseRepliesPerDay

	// Performance bonuses apply only when enough fresh outcomes back the
	// 24h signal; the 7d signal is stable enough on its own.
	if in.RollingER24h > ER24hBonusThreshold && in.OutcomesFreshness.Good >= MinFreshOutcomes {
		posts += PostsBonus
		replies += RepliesBonus
	}
	if in.RollingER7d > ER7dBonusThreshold {
		posts += PostsBonus
		replies += RepliesBonus
	}

	if in.SpendLimit > 0 && in.SpendToday > SpendPenaltyRatio*in.SpendLimit {
		posts -= PostsPenalty
		replies -= RepliesPenalty
	}
	if in.PostErrorRate > ErrorPenaltyRate {
		posts -= PostsPenalty
		replies -= RepliesPenalty
	}

	posts = clamp(posts, c.limits.PostsPerHourMin, c.limits.PostsPerHourMax)
	replies = clamp(replies, c.limits.RepliesPerDayMin, c.limits.RepliesPerDayMax)

	// Hard ceilings are applied last and are never exceeded.
	if posts > c.limits.HardMaxPostsPerHour {
		posts = c.limits.HardMaxPostsPerHour
	}
	if replies > c.limits.HardMaxRepliesPerDay {
		replies = c.limits.HardMaxRepliesPerDay
	}

	return models.RateTargets{PostsPerHourTarget: posts, RepliesPerDayTarget: replies}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Telemetry is the ledger-backed signal source.
type Telemetry interface {
	RollingEngagement(ctx context.Context, window time.Duration) (float64, error)
	OutcomeFreshness(ctx context.Context) (models.OutcomeFreshness, error)
	PostErrorRate(ctx context.Context) (float64, error)
}

// SpendReader exposes today's budget snapshot; the cache counter is the
// authoritative fast-path spend signal.
type SpendReader interface {
	State(ctx context.Context) models.BudgetState
}

// Gatherer assembles RateInputs from telemetry and the spend counter.
type Gatherer struct {
	telemetry Telemetry
	spend     SpendReader
}

// NewGatherer creates a Gatherer.
func NewGatherer(telemetry Telemetry, spend SpendReader) *Gatherer {
	return &Gatherer{telemetry: telemetry, spend: spend}
}

// GatherInputs reads the rolling signals. Any telemetry failure aborts
// the tick: the controller keeps its previous targets rather than acting
// on partial inputs.
func (g *Gatherer) GatherInputs(ctx context.Context) (models.RateInputs, error) {
	var in models.RateInputs

	er24, err := g.telemetry.RollingEngagement(ctx, 24*time.Hour)
	if err != nil {
		return in, fmt.Errorf("ratectl: gathering 24h engagement: %w", err)
	}
	er7d, err := g.telemetry.RollingEngagement(ctx, 7*24*time.Hour)
	if err != nil {
		return in, fmt.Errorf("ratectl: gathering 7d engagement: %w", err)
	}
	freshness, err := g.telemetry.OutcomeFreshness(ctx)
	if err != nil {
		return in, fmt.Errorf("ratectl: gathering outcome freshness: %w", err)
	}
	errorRate, err := g.telemetry.PostErrorRate(ctx)
	if err != nil {
		return in, fmt.Errorf("ratectl: gathering post error rate: %w", err)
	}

	budget := g.spend.State(ctx)

	in = models.RateInputs{
		RollingER24h:      er24,
		RollingER7d:       er7d,
		OutcomesFreshness: freshness,
		SpendToday:        budget.SpentUSD,
		SpendLimit:        budget.LimitUSD,
		PostErrorRate:     errorRate,
	}
	return in, nil
}

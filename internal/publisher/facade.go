// Package publisher orchestrates the publishing pipeline. Every candidate
// post passes, in fixed order, the segmentation guard, the quality gate,
// the budget check, and content-safety sanitization before the network
// poster is invoked; any stage failure aborts all subsequent stages, so
// no partial posting occurs. The facade is the single legitimate publish
// entry point; arch_test.go enforces the rule that keeps it that way.
package publisher

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openpostops/postgate/internal/budget"
	"github.com/openpostops/postgate/internal/postcheck"
	"github.com/openpostops/postgate/internal/safety"
	"github.com/openpostops/postgate/pkg/models"
)

// Poster is the caller-supplied network posting function. Implementations
// own the social network connection; the facade owns everything before it.
type Poster interface {
	Post(ctx context.Context, plan models.PostPlan) (tweetID string, err error)
}

// AttributionStore receives post telemetry after publish attempts.
type AttributionStore interface {
	InsertAttribution(ctx context.Context, a *models.PostAttribution) error
	RecordPostFailure(ctx context.Context, postID string, at time.Time) error
}

// QualityError reports a quality-gate rejection, surfaced to the caller.
type QualityError struct {
	Result postcheck.QualityResult
}

func (e *QualityError) Error() string {
	return fmt.Sprintf("publisher: quality gate rejected post: %s (%s)",
		e.Result.Reason, strings.Join(e.Result.Issues, "; "))
}

// UnsafeError reports a content-safety rejection.
type UnsafeError struct {
	Reasons []string
}

func (e *UnsafeError) Error() string {
	return fmt.Sprintf("publisher: fact check rejected post: %s", strings.Join(e.Reasons, "; "))
}

// Facade runs the publishing pipeline. It owns no persistent state.
type Facade struct {
	validator    *postcheck.Validator
	guard        *budget.Guard
	mode         safety.Mode
	poster       Poster
	attributions AttributionStore // may be nil: telemetry disabled

	now func() time.Time
}

// New creates the publishing facade.
func New(validator *postcheck.Validator, guard *budget.Guard, mode safety.Mode, poster Poster, attributions AttributionStore) *Facade {
	return &Facade{
		validator:    validator,
		guard:        guard,
		mode:         mode,
		poster:       poster,
		attributions: attributions,
		now:          time.Now,
	}
}

// Post runs the draft through the full pipeline. On success the draft's
// AttemptStatus is "posted" and the receipt carries the network post ID;
// on any rejection the status records which stage blocked it.
func (f *Facade) Post(ctx context.Context, draft *models.Draft) (models.PostReceipt, error) {
	if draft.ID == "" {
		draft.ID = uuid.New().String()
	}
	draft.AttemptStatus = models.StatusPending

	// Stage 1: segmentation guard. Runs before the quality gate because
	// upstream classification is unreliable and posting pre-numbered or
	// oversized content as a single unit is never correct.
	if err := f.validator.GuardClassification(draft); err != nil {
		draft.AttemptStatus = models.StatusBlockedThread
		return models.PostReceipt{}, err
	}

	// Stage 2: quality gate.
	plan := postcheck.PlanFromDraft(draft)
	if q := f.validator.CheckPostQuality(plan); !q.Passed {
		draft.AttemptStatus = models.StatusBlockedQuality
		return models.PostReceipt{}, &QualityError{Result: q}
	}

	// Stage 3: budget check.
	if err := f.guard.CheckBudget(ctx); err != nil {
		draft.AttemptStatus = models.StatusBlockedBudget
		return models.PostReceipt{}, err
	}

	// Stage 4: content-safety sanitization. Strict mode may rewrite the
	// plan in place; any rejection blocks the post.
	sanitized, err := f.sanitizePlan(plan)
	if err != nil {
		draft.AttemptStatus = models.StatusBlockedFactCheck
		return models.PostReceipt{}, err
	}
	plan = sanitized

	// Stage 5: the caller-supplied network post.
	tweetID, err := f.poster.Post(ctx, plan)
	if err != nil {
		draft.AttemptStatus = models.StatusPostFailed
		f.recordFailure(ctx, draft.ID)
		return models.PostReceipt{}, fmt.Errorf("publisher: network post failed for draft %s: %w", draft.ID, err)
	}

	// Stage 6: bookkeeping. The post is out; accounting failures are
	// logged, never surfaced as publish failures.
	draft.AttemptStatus = models.StatusPosted
	f.recordSuccess(ctx, draft, tweetID)
	return models.PostReceipt{Success: true, TweetID: tweetID}, nil
}

// sanitizePlan runs the safety filter over the post text. Thread segments
// are checked individually; one unsafe segment blocks the whole thread.
// Sanitized output is clamped back under the length ceiling: the strict
// rewrite lengthens text, and the quality gate has already run.
func (f *Facade) sanitizePlan(plan models.PostPlan) (models.PostPlan, error) {
	switch plan.Kind {
	case models.KindSingle:
		res := safety.CheckAndSanitize(plan.Text, f.mode)
		if !res.OK {
			return plan, &UnsafeError{Reasons: res.Reasons}
		}
		plan.Text = clampToPostLen(res.Sanitized)
		return plan, nil

	case models.KindThread:
		out := make([]string, len(plan.Segments))
		for i, seg := range plan.Segments {
			res := safety.CheckAndSanitize(seg, f.mode)
			if !res.OK {
				return plan, &UnsafeError{
					Reasons: append([]string{fmt.Sprintf("segment %d", i+1)}, res.Reasons...),
				}
			}
			out[i] = clampToPostLen(res.Sanitized)
		}
		plan.Segments = out
		return plan, nil

	default:
		return plan, &UnsafeError{Reasons: []string{fmt.Sprintf("unknown post kind %q", plan.Kind)}}
	}
}

// clampToPostLen trims over-length sanitized text back to the per-post
// ceiling at a word boundary.
func clampToPostLen(text string) string {
	runes := []rune(text)
	if len(runes) <= postcheck.MaxPostLen {
		return text
	}
	clipped := string(runes[:postcheck.MaxPostLen])
	if i := strings.LastIndexAny(clipped, " \t\n"); i > 0 {
		clipped = clipped[:i]
	}
	return strings.TrimRight(clipped, " \t\n")
}

func (f *Facade) recordSuccess(ctx context.Context, draft *models.Draft, tweetID string) {
	if draft.Usage != nil && !draft.Usage.Recorded {
		f.guard.RecordUsage(ctx, draft.Usage)
		draft.Usage.Recorded = true
	}
	if f.attributions == nil {
		return
	}
	attr := &models.PostAttribution{
		PostID:        tweetID,
		Topic:         draft.Topic,
		HookPattern:   draft.HookPattern,
		GeneratorUsed: draft.GeneratorUsed,
		PostedAt:      f.now().UTC(),
	}
	if err := f.attributions.InsertAttribution(ctx, attr); err != nil {
		log.Printf("publisher: attribution write failed for %s (non-fatal): %v", tweetID, err)
	}
}

func (f *Facade) recordFailure(ctx context.Context, draftID string) {
	if f.attributions == nil {
		return
	}
	if err := f.attributions.RecordPostFailure(ctx, draftID, f.now().UTC()); err != nil {
		log.Printf("publisher: failure telemetry write failed for %s: %v", draftID, err)
	}
}

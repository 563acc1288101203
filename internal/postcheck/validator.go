// Package postcheck enforces the shape contract for candidate posts:
// a quality gate for single posts vs. multi-segment threads, and a
// pre-classification segmentation guard that forces mis-tagged multi-part
// content into thread form before the quality gate ever sees it.
package postcheck

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/openpostops/postgate/pkg/models"
)

// Shape limits for the target network.
const (
	MaxPostLen  = 280
	MinSegments = 2
	MaxSegments = 6
	MinHookLen  = 40 // a thread's first segment is its only visible preview
)

// ReasonCode identifies the failing check in a QualityResult.
type ReasonCode string

const (
	ReasonOK                 ReasonCode = "OK"
	ReasonSingleThreadMarker ReasonCode = "SINGLE_WITH_THREAD_MARKERS"
	ReasonSingleTooLong      ReasonCode = "SINGLE_TOO_LONG"
	ReasonThreadInvalid      ReasonCode = "THREAD_STRUCTURE_INVALID"
	ReasonThreadWeakHook     ReasonCode = "THREAD_WEAK_HOOK"
)

// QualityResult is the verdict of the quality gate.
type QualityResult struct {
	Passed bool       `json:"passed"`
	Reason ReasonCode `json:"reason"`
	Issues []string   `json:"issues"`
}

// GuardError is a structural admission failure from the segmentation
// guard, distinct from a quality verdict: content that must be a thread
// was submitted as a single post without segments.
type GuardError struct {
	Cause string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("postcheck: THREAD_GUARD: %s", e.Cause)
}

// Markers that betray thread-shaped content inside a single post.
var (
	leadingNumberingRe = regexp.MustCompile(`^\s*\d+\s*/\s*\d+`)
	threadWordRe       = regexp.MustCompile(`(?i)\bthread\b`)
	partIndicatorRe    = regexp.MustCompile(`(?i)\bpart\s+\d+\b`)

	continuationPhrases = []string{
		"let's explore",
		"more below",
		"see next",
		"keep reading",
		"continued in",
	}
)

// Validator holds the configurable pieces of the segmentation guard.
type Validator struct {
	forceSegments bool
	delimiter     string
	numberingRe   *regexp.Regexp
}

// NewValidator compiles the configured numbering pattern. delimiter is
// the substring that marks pre-split content (e.g. "---").
func NewValidator(forceSegments bool, delimiter, numberingPattern string) (*Validator, error) {
	re, err := regexp.Compile(numberingPattern)
	if err != nil {
		return nil, fmt.Errorf("postcheck: invalid numbering pattern %q: %w", numberingPattern, err)
	}
	return &Validator{forceSegments: forceSegments, delimiter: delimiter, numberingRe: re}, nil
}

// CheckPostQuality validates a post plan against the shape contract.
// Numbering markers are permitted inside thread segments (they are the
// expected form there); the marker ban applies only to single posts.
func (v *Validator) CheckPostQuality(plan models.PostPlan) QualityResult {
	switch plan.Kind {
	case models.KindSingle:
		return checkSingle(plan.Text)
	case models.KindThread:
		return checkThread(plan.Segments)
	default:
		return QualityResult{
			Passed: false,
			Reason: ReasonThreadInvalid,
			Issues: []string{fmt.Sprintf("unknown post kind %q", plan.Kind)},
		}
	}
}

func checkSingle(text string) QualityResult {
	var issues []string

	if leadingNumberingRe.MatchString(text) {
		issues = append(issues, "single post starts with N/M thread numbering")
	}
	if strings.Contains(text, "🧵") {
		issues = append(issues, "single post contains a thread emoji")
	}
	if threadWordRe.MatchString(text) {
		issues = append(issues, `single post contains the word "thread"`)
	}
	lower := strings.ToLower(text)
	for _, phrase := range continuationPhrases {
		if strings.Contains(lower, phrase) {
			issues = append(issues, fmt.Sprintf("single post contains continuation phrase %q", phrase))
		}
	}
	if partIndicatorRe.MatchString(text) {
		issues = append(issues, "single post contains a part indicator")
	}
	if len(issues) > 0 {
		return QualityResult{Passed: false, Reason: ReasonSingleThreadMarker, Issues: issues}
	}

	if utf8.RuneCountInString(text) > MaxPostLen {
		return QualityResult{
			Passed: false,
			Reason: ReasonSingleTooLong,
			Issues: []string{fmt.Sprintf("single post is %d chars (max %d)", utf8.RuneCountInString(text), MaxPostLen)},
		}
	}

	return QualityResult{Passed: true, Reason: ReasonOK, Issues: []string{}}
}

func checkThread(segments []string) QualityResult {
	var issues []string

	if len(segments) < MinSegments || len(segments) > MaxSegments {
		return QualityResult{
			Passed: false,
			Reason: ReasonThreadInvalid,
			Issues: []string{fmt.Sprintf("thread has %d segments (want %d-%d)", len(segments), MinSegments, MaxSegments)},
		}
	}
	for i, seg := range segments {
		if n := utf8.RuneCountInString(seg); n > MaxPostLen {
			issues = append(issues, fmt.Sprintf("segment %d is %d chars (max %d)", i+1, n, MaxPostLen))
		}
	}
	if len(issues) > 0 {
		return QualityResult{Passed: false, Reason: ReasonThreadInvalid, Issues: issues}
	}

	// Short hooks are structurally valid but explicitly disallowed: the
	// first segment is the thread's only visible preview.
	if utf8.RuneCountInString(segments[0]) < MinHookLen {
		return QualityResult{
			Passed: false,
			Reason: ReasonThreadWeakHook,
			Issues: []string{fmt.Sprintf("first segment is %d chars, too short to function as a hook (min %d)",
				utf8.RuneCountInString(segments[0]), MinHookLen)},
		}
	}

	return QualityResult{Passed: true, Reason: ReasonOK, Issues: []string{}}
}

// NeedsThread reports whether raw content must be published as a thread:
// it carries explicit N/M numbering, contains the configured delimiter,
// or exceeds the single-post length limit.
func (v *Validator) NeedsThread(content string) bool {
	if v.numberingRe.MatchString(content) {
		return true
	}
	if v.delimiter != "" && strings.Contains(content, v.delimiter) {
		return true
	}
	return utf8.RuneCountInString(content) > MaxPostLen
}

// GuardClassification applies the segmentation override before the
// quality gate. Content that must be a thread is re-classified in place,
// overriding the caller's classification; if no pre-split segments were
// supplied the draft is rejected with a GuardError, since posting
// oversized or pre-numbered content as a single unit is never correct.
func (v *Validator) GuardClassification(draft *models.Draft) error {
	if !v.forceSegments {
		return nil
	}
	if !v.NeedsThread(draft.Content) {
		return nil
	}

	if draft.Classification != models.KindThread {
		draft.Classification = models.KindThread
	}
	if len(draft.Segments) < MinSegments {
		return &GuardError{
			Cause: fmt.Sprintf("content requires thread form but draft %s has no pre-split segments", draft.ID),
		}
	}
	return nil
}

// PlanFromDraft builds the post plan for the (possibly re-classified)
// draft. Call after GuardClassification.
func PlanFromDraft(draft *models.Draft) models.PostPlan {
	if draft.Classification == models.KindThread {
		return models.PostPlan{Kind: models.KindThread, Segments: draft.Segments, Goal: draft.Goal}
	}
	return models.PostPlan{Kind: models.KindSingle, Text: draft.Content}
}

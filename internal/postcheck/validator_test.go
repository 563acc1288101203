package postcheck

import (
	"errors"
	"strings"
	"testing"

	"github.com/openpostops/postgate/pkg/models"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(true, "---", `\d+\s*/\s*\d+`)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func singlePlan(text string) models.PostPlan {
	return models.PostPlan{Kind: models.KindSingle, Text: text}
}

func threadPlan(segments ...string) models.PostPlan {
	return models.PostPlan{Kind: models.KindThread, Segments: segments}
}

const goodHook = "Why most meal plans fail in the first two weeks, and what actually works instead:"

func TestCheckSingle_ThreadMarkersRejected(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name string
		text string
	}{
		{"leading numbering", "1/5 Here is the first part of my take on protein."},
		{"thread emoji", "Big news today 🧵 keep scrolling"},
		{"literal word thread", "A thread about fiber and why it matters."},
		{"continuation phrase explore", "Let's explore what the data says about breakfast."},
		{"continuation phrase more below", "Top 3 mistakes. More below."},
		{"continuation phrase see next", "The answer may surprise you, see next."},
		{"part indicator", "Part 1 of my deep dive into sleep and appetite."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.CheckPostQuality(singlePlan(tt.text))
			if res.Passed {
				t.Fatalf("expected failure for %q", tt.text)
			}
			if res.Reason != ReasonSingleThreadMarker {
				t.Errorf("expected reason %s, got %s", ReasonSingleThreadMarker, res.Reason)
			}
			if len(res.Issues) == 0 {
				t.Error("expected at least one issue")
			}
		})
	}
}

func TestCheckSingle_NumberingOnlyAtStart(t *testing.T) {
	v := newTestValidator(t)

	// A ratio mid-sentence is not a leading thread number.
	res := v.CheckPostQuality(singlePlan("Aim for a 1/2 plate of vegetables at dinner."))
	if !res.Passed {
		t.Errorf("mid-sentence ratio should pass the quality gate, got %s %v", res.Reason, res.Issues)
	}
}

func TestCheckSingle_TooLong(t *testing.T) {
	v := newTestValidator(t)

	res := v.CheckPostQuality(singlePlan(strings.Repeat("a", 281)))
	if res.Passed {
		t.Fatal("expected failure for oversized single post")
	}
	if res.Reason != ReasonSingleTooLong {
		t.Errorf("expected reason %s, got %s", ReasonSingleTooLong, res.Reason)
	}
}

func TestCheckSingle_Valid(t *testing.T) {
	v := newTestValidator(t)

	res := v.CheckPostQuality(singlePlan("Protein at breakfast keeps you full for longer. Try eggs or greek yogurt."))
	if !res.Passed {
		t.Fatalf("expected pass, got %s %v", res.Reason, res.Issues)
	}
	if res.Reason != ReasonOK {
		t.Errorf("expected reason OK, got %s", res.Reason)
	}
}

func TestCheckThread_SegmentCount(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name     string
		segments []string
		wantPass bool
	}{
		{"one segment", []string{goodHook}, false},
		{"two segments", []string{goodHook, "Second point."}, true},
		{"six segments", []string{goodHook, "2", "3", "4", "5", "6"}, true},
		{"seven segments", []string{goodHook, "2", "3", "4", "5", "6", "7"}, false},
		{"zero segments", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.CheckPostQuality(threadPlan(tt.segments...))
			if res.Passed != tt.wantPass {
				t.Fatalf("passed=%v, want %v (%s %v)", res.Passed, tt.wantPass, res.Reason, res.Issues)
			}
			if !tt.wantPass && res.Reason != ReasonThreadInvalid {
				t.Errorf("expected reason %s, got %s", ReasonThreadInvalid, res.Reason)
			}
		})
	}
}

func TestCheckThread_OversizedSegment(t *testing.T) {
	v := newTestValidator(t)

	res := v.CheckPostQuality(threadPlan(goodHook, strings.Repeat("b", 281)))
	if res.Passed {
		t.Fatal("expected failure for oversized segment")
	}
	if res.Reason != ReasonThreadInvalid {
		t.Errorf("expected reason %s, got %s", ReasonThreadInvalid, res.Reason)
	}
}

func TestCheckThread_WeakHook(t *testing.T) {
	v := newTestValidator(t)

	res := v.CheckPostQuality(threadPlan("Short hook.", "A much longer second segment with real substance in it."))
	if res.Passed {
		t.Fatal("expected failure for weak hook")
	}
	if res.Reason != ReasonThreadWeakHook {
		t.Errorf("expected reason %s, got %s", ReasonThreadWeakHook, res.Reason)
	}
}

func TestCheckThread_NumberingPermittedInSegments(t *testing.T) {
	v := newTestValidator(t)

	res := v.CheckPostQuality(threadPlan(
		"1/2 "+goodHook,
		"2/2 And here is the conclusion with the practical takeaway.",
	))
	if !res.Passed {
		t.Errorf("numbering inside thread segments is the expected form, got %s %v", res.Reason, res.Issues)
	}
}

func TestGuard_ForcesThreadOnNumbering(t *testing.T) {
	v := newTestValidator(t)

	draft := &models.Draft{
		ID:             "d1",
		Content:        "Check this out 2/4 of my series on hydration.",
		Classification: models.KindSingle,
	}
	err := v.GuardClassification(draft)
	if err == nil {
		t.Fatal("expected GuardError for unsegmented thread-shaped content")
	}
	var guardErr *GuardError
	if !errors.As(err, &guardErr) {
		t.Fatalf("expected *GuardError, got %T", err)
	}
	if !strings.Contains(err.Error(), "THREAD_GUARD") {
		t.Errorf("guard error must carry the THREAD_GUARD marker, got %q", err.Error())
	}
	if draft.Classification != models.KindThread {
		t.Error("draft must be re-classified as thread even when rejected")
	}
}

func TestGuard_ForcesThreadOnDelimiter(t *testing.T) {
	v := newTestValidator(t)

	draft := &models.Draft{
		ID:             "d2",
		Content:        "First part --- second part",
		Classification: models.KindSingle,
		Segments:       []string{goodHook, "Second part with enough substance."},
	}
	if err := v.GuardClassification(draft); err != nil {
		t.Fatalf("pre-segmented draft must pass the guard, got %v", err)
	}
	if draft.Classification != models.KindThread {
		t.Error("expected forced thread classification")
	}
}

func TestGuard_ForcesThreadOnLength(t *testing.T) {
	v := newTestValidator(t)

	draft := &models.Draft{
		ID:             "d3",
		Content:        strings.Repeat("x", 300),
		Classification: models.KindSingle,
	}
	err := v.GuardClassification(draft)
	if err == nil {
		t.Fatal("expected GuardError for oversized unsegmented content")
	}
}

func TestGuard_PassesOrdinarySingle(t *testing.T) {
	v := newTestValidator(t)

	draft := &models.Draft{
		ID:             "d4",
		Content:        "A perfectly ordinary single post about oats.",
		Classification: models.KindSingle,
	}
	if err := v.GuardClassification(draft); err != nil {
		t.Fatalf("unexpected guard error: %v", err)
	}
	if draft.Classification != models.KindSingle {
		t.Error("ordinary single content must keep its classification")
	}
}

func TestGuard_DisabledForce(t *testing.T) {
	v, err := NewValidator(false, "---", `\d+\s*/\s*\d+`)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	draft := &models.Draft{
		ID:             "d5",
		Content:        strings.Repeat("x", 300),
		Classification: models.KindSingle,
	}
	if err := v.GuardClassification(draft); err != nil {
		t.Errorf("disabled guard must not reject, got %v", err)
	}
}

func TestNewValidator_BadPattern(t *testing.T) {
	if _, err := NewValidator(true, "---", `(`); err == nil {
		t.Error("expected error for invalid numbering pattern")
	}
}

func TestPlanFromDraft(t *testing.T) {
	single := &models.Draft{Content: "hello", Classification: models.KindSingle}
	if plan := PlanFromDraft(single); plan.Kind != models.KindSingle || plan.Text != "hello" {
		t.Errorf("unexpected single plan: %+v", plan)
	}

	thread := &models.Draft{
		Classification: models.KindThread,
		Segments:       []string{"a", "b"},
		Goal:           "educate",
	}
	plan := PlanFromDraft(thread)
	if plan.Kind != models.KindThread || len(plan.Segments) != 2 || plan.Goal != "educate" {
		t.Errorf("unexpected thread plan: %+v", plan)
	}
}

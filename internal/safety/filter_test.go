package safety

import (
	"strings"
	"testing"
)

const (
	bogusClaim = "Did you know celery has negative calories? Eat more to lose more!"
	unsourced  = "Drinking green tea burns 500 calories a day."
	sourced    = "According to a 2023 study, drinking green tea can burn 80 calories a day."
	plainText  = "Meal prepping on Sunday makes the whole week easier."
)

func TestOffModePassthrough(t *testing.T) {
	for _, text := range []string{bogusClaim, unsourced, sourced, plainText} {
		res := CheckAndSanitize(text, ModeOff)
		if !res.OK {
			t.Errorf("off mode must pass %q", text)
		}
		if res.Sanitized != text {
			t.Errorf("off mode must not modify text, got %q", res.Sanitized)
		}
		if len(res.Reasons) != 0 {
			t.Errorf("off mode must report no reasons, got %v", res.Reasons)
		}
	}
}

func TestEmptyTextRejectedInEveryMode(t *testing.T) {
	for _, mode := range []Mode{ModeOff, ModeLight, ModeStrict} {
		for _, text := range []string{"", "   ", "\n\t "} {
			res := CheckAndSanitize(text, mode)
			if res.OK {
				t.Errorf("mode %s must reject empty input %q", mode, text)
			}
			if res.Sanitized != "" {
				t.Errorf("mode %s: rejected input must have empty sanitized text", mode)
			}
			if len(res.Reasons) != 1 || res.Reasons[0] != ReasonEmptyText {
				t.Errorf("mode %s: expected %s reason, got %v", mode, ReasonEmptyText, res.Reasons)
			}
		}
	}
}

func TestKnownBogusRejectedInBothModes(t *testing.T) {
	claims := []string{
		bogusClaim,
		"This tea BOOSTS metabolism by 400 percent, trust me.",
		"Negative-calorie foods are the secret nobody tells you.",
		"Eating after 8pm causes weight gain, full stop.",
		"Our detox tea flushes toxins overnight.",
	}

	for _, mode := range []Mode{ModeLight, ModeStrict} {
		for _, claim := range claims {
			res := CheckAndSanitize(claim, mode)
			if res.OK {
				t.Errorf("%s mode must reject bogus claim %q", mode, claim)
				continue
			}
			if res.Sanitized != "" {
				t.Errorf("rejected text must have empty sanitized output, got %q", res.Sanitized)
			}
			if len(res.Reasons) != 1 || res.Reasons[0] != ReasonKnownBogus {
				t.Errorf("expected reason %q, got %v", ReasonKnownBogus, res.Reasons)
			}
		}
	}
}

func TestUnsourcedNumericClaim_LightRejects(t *testing.T) {
	res := CheckAndSanitize(unsourced, ModeLight)
	if res.OK {
		t.Fatal("light mode must reject an unsourced numeric claim")
	}
	if res.Sanitized != "" {
		t.Errorf("expected empty sanitized output, got %q", res.Sanitized)
	}
	if len(res.Reasons) != 1 || res.Reasons[0] != ReasonNumericNoSource {
		t.Errorf("expected reason %q, got %v", ReasonNumericNoSource, res.Reasons)
	}
}

func TestUnsourcedNumericClaim_StrictRewrites(t *testing.T) {
	res := CheckAndSanitize(unsourced, ModeStrict)
	if !res.OK {
		t.Fatal("strict mode must accept a softened rewrite")
	}
	if res.Sanitized == "" || res.Sanitized == unsourced {
		t.Fatalf("expected a rewritten text, got %q", res.Sanitized)
	}
	if strings.Contains(res.Sanitized, "500") {
		t.Errorf("the specific number must be removed, got %q", res.Sanitized)
	}
	if !strings.HasPrefix(res.Sanitized, "Studies suggest") {
		t.Errorf("expected a hedge prefix, got %q", res.Sanitized)
	}
	if !strings.Contains(res.Sanitized, "significant amounts") {
		t.Errorf("expected a qualitative hedge, got %q", res.Sanitized)
	}
	if len(res.Reasons) != 1 || res.Reasons[0] != ReasonNumericSoftened {
		t.Errorf("expected reason %q, got %v", ReasonNumericSoftened, res.Reasons)
	}
}

func TestSourcedNumericClaimPassesUnchanged(t *testing.T) {
	for _, mode := range []Mode{ModeLight, ModeStrict} {
		res := CheckAndSanitize(sourced, mode)
		if !res.OK {
			t.Errorf("%s mode must accept a sourced numeric claim", mode)
			continue
		}
		if res.Sanitized != sourced {
			t.Errorf("%s mode must not modify a sourced claim, got %q", mode, res.Sanitized)
		}
		if len(res.Reasons) != 0 {
			t.Errorf("sourced claim should carry no reasons, got %v", res.Reasons)
		}
	}
}

func TestPlainTextPasses(t *testing.T) {
	for _, mode := range []Mode{ModeLight, ModeStrict} {
		res := CheckAndSanitize(plainText, mode)
		if !res.OK || res.Sanitized != plainText {
			t.Errorf("%s mode must pass plain text unchanged, got %+v", mode, res)
		}
	}
}

func TestSourceMarkers(t *testing.T) {
	variants := []string{
		"Research from Stanford University shows fiber intake cuts snacking by 20%.",
		"A meta-analysis found protein at breakfast reduces cravings by 15 percent.",
		"Per the CDC, most adults should cut sodium by 1000 mg.",
	}
	for _, text := range variants {
		if res := CheckAndSanitize(text, ModeLight); !res.OK {
			t.Errorf("expected sourced claim to pass in light mode: %q (reasons %v)", text, res.Reasons)
		}
	}
}

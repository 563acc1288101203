// Package safety implements the content fact-check filter for generated
// post text. It blocks known-false claims outright and, depending on the
// configured mode, blocks or softens quantitative claims that carry no
// source attribution. The filter is pure and stateless; all patterns are
// compiled once at package init.
package safety

import (
	"regexp"
	"strings"
	"unicode"
)

// Mode selects how aggressively unverifiable claims are handled.
type Mode string

const (
	ModeOff    Mode = "off"    // pass everything through unchanged
	ModeLight  Mode = "light"  // fail closed on unsourced numeric claims
	ModeStrict Mode = "strict" // rewrite unsourced numeric claims into hedges
)

// Reason codes returned in Result.Reasons.
const (
	ReasonKnownBogus      = "known_bogus_pattern"
	ReasonNumericNoSource = "numeric_claim_without_source"
	ReasonNumericSoftened = "numeric_claim_softened"
	ReasonEmptyText       = "empty_text"
)

// Result is the outcome of a safety check. OK=false implies Sanitized is
// empty; OK=true implies Sanitized is non-empty and safe to publish.
type Result struct {
	OK        bool     `json:"ok"`
	Sanitized string   `json:"sanitized"`
	Reasons   []string `json:"reasons"`
}

// bogusPatterns are debunked physiological claims that are never
// publishable regardless of phrasing or attribution.
var bogusPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)celery\s+(has|burns)\s+negative\s+calories`),
	regexp.MustCompile(`(?i)negative[- ]calorie\s+foods?`),
	regexp.MustCompile(`(?i)(boost|speed)s?\s+(up\s+)?(your\s+)?metabolism\s+by\s+\d+`),
	regexp.MustCompile(`(?i)eating\s+after\s+8\s*pm\s+(causes|leads\s+to)\s+weight\s+gain`),
	regexp.MustCompile(`(?i)detox\s+(tea|cleanse)s?\s+(flush|remove)e?s?\s+toxins`),
	regexp.MustCompile(`(?i)you\s+only\s+use\s+10%\s+of\s+your\s+(brain|metabolism)`),
}

// numericClaimRe detects a claim verb followed (within the same clause)
// by a number with a percent sign or measurement unit.
var numericClaimRe = regexp.MustCompile(
	`(?i)\b(burn|boost|increase|reduce|cut|lose|lower|raise|improve|drop|gain)[a-z]*\b[^.!?\n]{0,60}?` +
		`\b\d+(?:\.\d+)?\s*(%|percent|calories|kcal|kg|lbs?|pounds?|grams?|g\b|x\b)`)

// quantityRe matches the bare number-and-unit portion of a claim, which
// strict mode replaces with a qualitative hedge.
var quantityRe = regexp.MustCompile(
	`(?i)(?:by\s+|up\s+to\s+)?\b\d+(?:\.\d+)?\s*(%|percent|calories|kcal|kg|lbs?|pounds?|grams?|g\b|x\b)`)

// sourceRe detects attribution markers that make a numeric claim
// acceptable as stated.
var sourceRe = regexp.MustCompile(
	`(?i)\b(according\s+to|a?\s?stud(y|ies)|research(ers)?|journal|meta-analysis|university|institute|nih|who|cdc|pubmed)\b`)

// CheckAndSanitize analyzes generated text under the given mode.
// Empty or whitespace-only input is rejected in every mode: there is
// nothing publishable, so OK=true can always promise non-empty output.
func CheckAndSanitize(text string, mode Mode) Result {
	if strings.TrimSpace(text) == "" {
		return Result{OK: false, Sanitized: "", Reasons: []string{ReasonEmptyText}}
	}
	if mode == ModeOff {
		return Result{OK: true, Sanitized: text, Reasons: []string{}}
	}

	// First pass, shared by light and strict: known-false claims are
	// rejected outright, never rewritten.
	for _, p := range bogusPatterns {
		if p.MatchString(text) {
			return Result{OK: false, Sanitized: "", Reasons: []string{ReasonKnownBogus}}
		}
	}

	if !numericClaimRe.MatchString(text) {
		return Result{OK: true, Sanitized: text, Reasons: []string{}}
	}
	if sourceRe.MatchString(text) {
		// Sourced numeric claims pass through verbatim in both modes.
		return Result{OK: true, Sanitized: text, Reasons: []string{}}
	}

	if mode == ModeLight {
		return Result{OK: false, Sanitized: "", Reasons: []string{ReasonNumericNoSource}}
	}

	// Strict mode trades exactness for always producing something
	// publishable: the specific quantity becomes a qualitative hedge.
	softened := quantityRe.ReplaceAllString(text, "significant amounts")
	softened = "Studies suggest " + lowerFirst(strings.TrimSpace(softened))
	return Result{OK: true, Sanitized: softened, Reasons: []string{ReasonNumericSoftened}}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

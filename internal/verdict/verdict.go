// Package verdict turns free-form LLM output into a closed three-way
// verdict. Models are instructed to answer with JSON but frequently wrap
// it in prose or markdown fences, so parsing is two-tier: strict JSON
// first, keyword scan as a fallback. Parsing never fails; unusable output
// degrades to inconclusive.
package verdict

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/mpetrov/arbiter/internal/model"
)

// maxFallbackReasoning bounds how much raw text is kept as reasoning when
// the JSON parse fails, so runaway completions don't bloat storage.
const maxFallbackReasoning = 500

// Result is the parsed outcome of one model completion.
type Result struct {
	Verdict   model.Verdict `json:"verdict"`
	Reasoning string        `json:"reasoning"`
}

// Parse extracts a verdict and reasoning from raw model output.
//
// Tier 1: the whole text parses as a JSON object carrying both "verdict"
// and "reasoning": the verdict is normalized and the reasoning kept
// verbatim. Tier 2: case-insensitive substring scan for "pass", then
// "fail" ("pass" deliberately wins when both appear; see Parse tests),
// with the raw text truncated as reasoning. No match means inconclusive.
func Parse(raw string) Result {
	var parsed struct {
		Verdict   string `json:"verdict"`
		Reasoning string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil &&
		parsed.Verdict != "" && parsed.Reasoning != "" {
		return Result{
			Verdict:   model.NormalizeVerdict(parsed.Verdict),
			Reasoning: parsed.Reasoning,
		}
	}

	lower := strings.ToLower(raw)
	v := model.VerdictInconclusive
	if strings.Contains(lower, "pass") {
		v = model.VerdictPass
	} else if strings.Contains(lower, "fail") {
		v = model.VerdictFail
	}

	return Result{Verdict: v, Reasoning: truncate(raw, maxFallbackReasoning)}
}

// truncate cuts s to at most n bytes without splitting a multi-byte rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

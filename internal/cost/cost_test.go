package cost

import (
	"math"
	"testing"
)

// costNear compares estimated costs with a relative tolerance: the
// estimate arithmetic runs stepwise in float64, so exact equality against
// a constant-folded expression can miss by one ULP.
func costNear(got, want float64) bool {
	return math.Abs(got-want) <= 1e-12
}

func TestTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"12345678", 2},
	}
	for _, tt := range tests {
		if got := Tokens(tt.text); got != tt.want {
			t.Errorf("Tokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestEstimateCallKnownModel(t *testing.T) {
	// 4 chars input -> 1 token, 8 chars output -> 2 tokens.
	est := EstimateCall("gpt-4o", "1234", "12345678")
	if est.InputTokens != 1 || est.OutputTokens != 2 {
		t.Fatalf("tokens = (%d, %d), want (1, 2)", est.InputTokens, est.OutputTokens)
	}
	want := 1.0/1e6*2.50 + 2.0/1e6*10.00
	if !costNear(est.CostUSD, want) {
		t.Errorf("cost = %v, want %v", est.CostUSD, want)
	}
}

// Unknown models use the default tier instead of failing: the estimate is
// advisory and must never block an evaluation.
func TestEstimateCallUnknownModel(t *testing.T) {
	est := EstimateCall("unknown-model-x", "1234", "12345678")
	if est.CostUSD <= 0 {
		t.Fatalf("cost = %v, want > 0 for unknown model", est.CostUSD)
	}
	want := 1.0/1e6*defaultPricing.Input + 2.0/1e6*defaultPricing.Output
	if !costNear(est.CostUSD, want) {
		t.Errorf("cost = %v, want default tier %v", est.CostUSD, want)
	}
}

func TestForModel(t *testing.T) {
	if p := ForModel("claude-3-haiku-20240307"); p.Input != 0.25 {
		t.Errorf("claude-3-haiku input price = %v, want 0.25", p.Input)
	}
	if p := ForModel("no-such-model"); p != defaultPricing {
		t.Errorf("unknown model pricing = %v, want default", p)
	}
}

package token

import (
	"strings"
	"testing"
)

func TestEstimateString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"short rounds up to one", "ab", 1},
		{"exact multiple", strings.Repeat("x", 400), 100},
		{"remainder truncated", strings.Repeat("x", 403), 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateString(tt.in); got != tt.want {
				t.Errorf("EstimateString(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestEstimate_Struct(t *testing.T) {
	type state struct {
		Stage   string   `json:"stage"`
		History []string `json:"history"`
	}
	s := state{Stage: "implement", History: []string{"research", "plan"}}

	got := Estimate(s)
	if got <= 0 {
		t.Fatalf("expected positive estimate, got %d", got)
	}
	// Larger input must never estimate smaller.
	s.History = append(s.History, strings.Repeat("x", 1000))
	if bigger := Estimate(s); bigger <= got {
		t.Errorf("expected estimate to grow with input: %d <= %d", bigger, got)
	}
}

func TestEstimate_Nil(t *testing.T) {
	if got := Estimate(nil); got != 0 {
		t.Errorf("Estimate(nil) = %d, want 0", got)
	}
}

func TestEstimate_Unserializable(t *testing.T) {
	if got := Estimate(func() {}); got != 0 {
		t.Errorf("Estimate(func) = %d, want 0", got)
	}
}

// Package pricing tests for cost calculation.
package pricing

import (
	"errors"
	"math"
	"testing"
)

func testTable() Table {
	return NewTable(map[string]Rate{
		"gpt-4o-mini": {
			InputPerMillion:       0.15,
			OutputPerMillion:      0.60,
			CachedInputPerMillion: 0.075,
		},
		"gpt-4o": {
			InputPerMillion:  2.50,
			OutputPerMillion: 10.00,
		},
		"tts-1": {
			InputPerMillion: 15.00,
		},
	})
}

func TestCost_KnownModel(t *testing.T) {
	table := testTable()

	// 1000 prompt at 0.15/1M + 500 completion at 0.60/1M = 0.00045 raw
	got, err := table.Cost("gpt-4o-mini", 1000, 500, 0)
	if err != nil {
		t.Fatalf("Cost failed: %v", err)
	}
	want := roundHalfUp4(1000.0/1_000_000*0.15 + 500.0/1_000_000*0.60)
	if got != want {
		t.Errorf("Cost = %v, want %v", got, want)
	}
	if math.Abs(got-0.00045) > 0.0001 {
		t.Errorf("Cost = %v, expected within a rounding step of 0.00045", got)
	}
}

func TestCost_LargerAmounts(t *testing.T) {
	table := testTable()

	got, err := table.Cost("gpt-4o", 100_000, 50_000, 0)
	if err != nil {
		t.Fatalf("Cost failed: %v", err)
	}
	// 0.1*2.50 + 0.05*10.00 = 0.25 + 0.50 = 0.75
	if got != 0.75 {
		t.Errorf("Cost = %v, want 0.75", got)
	}
}

func TestCost_UnknownModel(t *testing.T) {
	table := testTable()

	_, err := table.Cost("nonexistent-model", 1000, 500, 0)
	if err == nil {
		t.Fatal("expected error for unknown model")
	}

	var unknownErr *UnknownModelError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected UnknownModelError, got %T", err)
	}
	if unknownErr.Model != "nonexistent-model" {
		t.Errorf("Model = %q, want %q", unknownErr.Model, "nonexistent-model")
	}
}

func TestCost_NegativeTokens(t *testing.T) {
	table := testTable()

	if _, err := table.Cost("gpt-4o", -1, 0, 0); err == nil {
		t.Error("expected error for negative prompt tokens")
	}
	if _, err := table.Cost("gpt-4o", 0, -1, 0); err == nil {
		t.Error("expected error for negative completion tokens")
	}
}

func TestCost_CachedTokens(t *testing.T) {
	table := testTable()

	// 1M prompt, 400K cached: 600K at 0.15/1M + 400K at 0.075/1M
	got, err := table.Cost("gpt-4o-mini", 1_000_000, 0, 400_000)
	if err != nil {
		t.Fatalf("Cost failed: %v", err)
	}
	want := roundHalfUp4(0.6*0.15 + 0.4*0.075)
	if got != want {
		t.Errorf("Cost = %v, want %v", got, want)
	}
}

func TestCost_CachedClampedToPrompt(t *testing.T) {
	table := testTable()

	// Cached > prompt is clamped, so the entire prompt bills cached.
	got, err := table.Cost("gpt-4o-mini", 1_000_000, 0, 2_000_000)
	if err != nil {
		t.Fatalf("Cost failed: %v", err)
	}
	if got != 0.075 {
		t.Errorf("Cost = %v, want 0.075", got)
	}
}

func TestCost_Idempotent(t *testing.T) {
	table := testTable()

	first, err := table.Cost("gpt-4o", 12345, 6789, 100)
	if err != nil {
		t.Fatalf("Cost failed: %v", err)
	}
	second, err := table.Cost("gpt-4o", 12345, 6789, 100)
	if err != nil {
		t.Fatalf("Cost failed: %v", err)
	}
	if first != second {
		t.Errorf("identical inputs gave %v then %v", first, second)
	}
}

func TestCost_MonotoneInTokens(t *testing.T) {
	table := testTable()

	prev := 0.0
	for p := int64(0); p <= 1_000_000; p += 100_000 {
		got, err := table.Cost("gpt-4o", p, 0, 0)
		if err != nil {
			t.Fatalf("Cost failed: %v", err)
		}
		if got < prev {
			t.Fatalf("cost decreased: %v tokens -> %v (prev %v)", p, got, prev)
		}
		prev = got
	}

	prev = 0.0
	for c := int64(0); c <= 1_000_000; c += 100_000 {
		got, err := table.Cost("gpt-4o", 0, c, 0)
		if err != nil {
			t.Fatalf("Cost failed: %v", err)
		}
		if got < prev {
			t.Fatalf("cost decreased: %v tokens -> %v (prev %v)", c, got, prev)
		}
		prev = got
	}
}

func TestCost_ZeroTokens(t *testing.T) {
	table := testTable()

	got, err := table.Cost("gpt-4o", 0, 0, 0)
	if err != nil {
		t.Fatalf("Cost failed: %v", err)
	}
	if got != 0 {
		t.Errorf("Cost = %v, want 0", got)
	}
}

func TestRoundHalfUp4(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.00044, 0.0004},
		{0.00046, 0.0005},
		{0.12341, 0.1234},
		{0.12349, 0.1235},
		{2.5, 2.5},
		{0, 0},
	}
	for _, tt := range tests {
		got := roundHalfUp4(tt.in)
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("roundHalfUp4(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCharacterTokens(t *testing.T) {
	tests := []struct {
		chars int64
		want  int64
	}{
		{0, 0},
		{-5, 0},
		{1, 1},
		{4, 1},
		{5, 2},
		{8, 2},
		{100, 25},
		{101, 26},
	}
	for _, tt := range tests {
		if got := CharacterTokens(tt.chars); got != tt.want {
			t.Errorf("CharacterTokens(%d) = %d, want %d", tt.chars, got, tt.want)
		}
	}
}

func TestNewTable_CopiesInput(t *testing.T) {
	rates := map[string]Rate{"m": {InputPerMillion: 1}}
	table := NewTable(rates)

	rates["m"] = Rate{InputPerMillion: 999}
	r, ok := table.Rate("m")
	if !ok {
		t.Fatal("model missing")
	}
	if r.InputPerMillion != 1 {
		t.Errorf("table mutated through input map: %v", r.InputPerMillion)
	}
}

func TestModels_Sorted(t *testing.T) {
	table := testTable()
	models := table.Models()
	if len(models) != 3 {
		t.Fatalf("len = %d, want 3", len(models))
	}
	if models[0] != "gpt-4o" || models[1] != "gpt-4o-mini" || models[2] != "tts-1" {
		t.Errorf("unexpected order: %v", models)
	}
}

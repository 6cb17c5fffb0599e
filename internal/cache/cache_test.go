package cache

import (
	"context"
	"testing"
)

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("what is 2+2")
	b := Fingerprint("what is 2+2")
	if a != b {
		t.Error("same prompt should produce the same fingerprint")
	}
	if a == Fingerprint("what is 2+3") {
		t.Error("different prompts should produce different fingerprints")
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}

func TestEligibility(t *testing.T) {
	tests := []struct {
		name      string
		freshness bool
		vision    int
		output    string
		want      bool
	}{
		{"normal turn", false, 0, "4", true},
		{"freshness required", true, 0, "4", false},
		{"vision targets", false, 2, "4", false},
		{"empty output", false, 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Eligible(tt.freshness, tt.vision, tt.output); got != tt.want {
				t.Errorf("Eligible = %v, want %v", got, tt.want)
			}
		})
	}

	if LookupEligible(true, 0) {
		t.Error("lookup should be bypassed when freshness is required")
	}
	if LookupEligible(false, 1) {
		t.Error("lookup should be bypassed with vision targets")
	}
	if !LookupEligible(false, 0) {
		t.Error("plain prompt should be lookup eligible")
	}
}

func TestExactRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, err := NewExact(8)
	if err != nil {
		t.Fatalf("NewExact: %v", err)
	}

	if _, _, ok := c.Get(ctx, "what is 2+2"); ok {
		t.Fatal("empty cache should miss")
	}
	if err := c.Put(ctx, "what is 2+2", "4", 0.85); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, confidence, ok := c.Get(ctx, "what is 2+2")
	if !ok || got != "4" {
		t.Errorf("Get = %q, %v", got, ok)
	}
	if confidence != 0.85 {
		t.Errorf("confidence = %v, want 0.85", confidence)
	}
	if _, _, ok := c.Get(ctx, "What is 2+2"); ok {
		t.Error("exact cache must not hit on different casing")
	}
}

func TestExactEviction(t *testing.T) {
	ctx := context.Background()
	c, err := NewExact(2)
	if err != nil {
		t.Fatalf("NewExact: %v", err)
	}
	c.Put(ctx, "a", "1", 0.85)
	c.Put(ctx, "b", "2", 0.85)
	c.Put(ctx, "c", "3", 0.85)

	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
	if _, _, ok := c.Get(ctx, "a"); ok {
		t.Error("oldest entry should be evicted")
	}
	if _, _, ok := c.Get(ctx, "c"); !ok {
		t.Error("newest entry should survive")
	}
}

// fakeEmbed maps a few known strings onto fixed vectors so similarity
// is deterministic without a model.
func fakeEmbed(ctx context.Context, text string) ([]float32, error) {
	switch text {
	case "what is 2+2", "whats 2+2":
		return []float32{1, 0, 0}, nil
	case "capital of france":
		return []float32{0, 1, 0}, nil
	default:
		return []float32{0, 0, 1}, nil
	}
}

func TestSemanticHitAndMiss(t *testing.T) {
	ctx := context.Background()
	c, err := NewSemantic(SemanticConfig{SimilarityThreshold: 0.92, Embed: fakeEmbed})
	if err != nil {
		t.Fatalf("NewSemantic: %v", err)
	}

	if _, _, ok := c.Get(ctx, "what is 2+2"); ok {
		t.Fatal("empty cache should miss")
	}
	if err := c.Put(ctx, "what is 2+2", "4", 0.6); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, confidence, ok := c.Get(ctx, "whats 2+2")
	if !ok || got != "4" {
		t.Errorf("near-duplicate should hit: got %q, %v", got, ok)
	}
	if confidence != 0.6 {
		t.Errorf("confidence = %v, want 0.6", confidence)
	}
	if _, _, ok := c.Get(ctx, "capital of france"); ok {
		t.Error("orthogonal prompt should miss")
	}
}

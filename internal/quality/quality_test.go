package quality

import (
	"errors"
	"math"
	"testing"

	"github.com/mohammad-safakhou/artha/internal/producer"
)

var debtSpec = producer.Spec{Name: "debt_management", Tags: []string{"loan", "debt", "emi", "credit", "borrow"}}

func ok(payload any) producer.Output {
	return producer.Output{Name: "p", Payload: payload}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestUnavailableOutputScoresZero(t *testing.T) {
	s := NewScorer(DefaultOptions())
	failed := producer.Output{Name: "p", Err: &producer.Error{Kind: producer.KindTimeout, Err: errors.New("slow")}}
	if v := s.Score(debtSpec, failed, "debt"); v != (Vector{}) {
		t.Fatalf("expected zero vector, got %+v", v)
	}
	if v := s.Score(debtSpec, ok("service unavailable"), "debt"); v != (Vector{}) {
		t.Fatalf("expected zero vector for error text, got %+v", v)
	}
	if got := DegradedReason(ok("service unavailable")); got != "payload reports error/unavailable" {
		t.Fatalf("unexpected degraded reason %q", got)
	}
	if got := DegradedReason(failed); got != "" {
		t.Fatalf("failed outputs carry their own reason, got %q", got)
	}
}

func TestRelevance(t *testing.T) {
	s := NewScorer(DefaultOptions())
	cases := []struct {
		name  string
		spec  producer.Spec
		query string
		want  float64
	}{
		{"no overlap gets floor", debtSpec, "festival plans", 0.2},
		{"one of five keywords", debtSpec, "pay off debt", 0.4},
		{"capped at one", debtSpec, "loan debt emi credit borrow", 1},
		{"always relevant boosted", producer.Spec{Name: "trust_transparency", Tags: []string{"explain"}, AlwaysRelevant: true}, "pay off debt", 0.9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.Relevance(tc.spec, tc.query); !approx(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestConfidenceRules(t *testing.T) {
	cases := []struct {
		name    string
		payload any
		want    float64
	}{
		{"fraction", map[string]any{"confidence": 0.75}, 0.75},
		{"percentage number", map[string]any{"confidence_score": 85.0}, 0.85},
		{"over a hundred capped", map[string]any{"reliability": 250.0}, 1},
		{"percent string", map[string]any{"accuracy": "92%"}, 0.92},
		{"warning", map[string]any{"warning": "not enough data"}, 0.6},
		{"data quality good", map[string]any{"data_quality": "good"}, 0.9},
		{"data quality warning", map[string]any{"data_quality": "warning"}, 0.7},
		{"data quality error", map[string]any{"data_quality": "error"}, 0.3},
		{"default", map[string]any{"total": 3.0}, 0.8},
		{"non object", []any{1.0}, 0.8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := confidence(tc.payload); !approx(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestActionability(t *testing.T) {
	payload := map[string]any{
		"recommendations": []any{"prepay ₹50,000 of the personal loan"},
		"steps":           []any{},
		"horizon":         "6 months",
	}
	// one action key, plus ₹, "rs" (from "personal") and "month"
	if got := actionability(payload); !approx(got, 0.7) {
		t.Fatalf("expected 0.7, got %v", got)
	}
	if got := actionability("text"); got != 0.5 {
		t.Fatalf("expected 0.5 for non-object, got %v", got)
	}
}

func TestSpecificityBoundsRecursion(t *testing.T) {
	var deep any = map[string]any{"n": 1.0}
	for i := 0; i < 50; i++ {
		deep = map[string]any{"nested": deep}
	}
	got := specificity(deep.(map[string]any))
	if got < 0 || got > 1 {
		t.Fatalf("specificity out of range: %v", got)
	}
	flat := map[string]any{"a": 1.0, "b": "x", "c": 2.0, "d": true}
	if got := specificity(flat); !approx(got, 0.5) {
		t.Fatalf("expected 0.5, got %v", got)
	}
}

func TestScoreWithinBoundsAndDeterministic(t *testing.T) {
	s := NewScorer(Options{MinRelevance: 0.5, AlwaysRelevantFloor: 0.9})
	payloads := []any{
		map[string]any{"confidence": -4.0, "recommendations": []any{"a", "b"}, "actions": "x", "steps": "y", "suggestions": "z", "opportunities": "w", "note": "₹ rs % month year days"},
		map[string]any{"confidence": math.Inf(1)},
		[]any{map[string]any{"x": 1.0}},
		"plain text",
		42.0,
		true,
	}
	spec := producer.Spec{Name: "x", Tags: []string{"debt"}, AlwaysRelevant: true}
	for _, p := range payloads {
		v := s.Score(spec, ok(p), "debt debt")
		for _, d := range []float64{v.Availability, v.Relevance, v.Confidence, v.Actionability, v.Specificity} {
			if d < 0 || d > 1 {
				t.Fatalf("dimension out of range for %#v: %+v", p, v)
			}
		}
		if again := s.Score(spec, ok(p), "debt debt"); again != v {
			t.Fatalf("score not deterministic: %+v vs %+v", v, again)
		}
	}
}

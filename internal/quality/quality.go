// Package quality scores producer outputs on five bounded dimensions.
package quality

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/artha/internal/producer"
)

// Vector holds the quality dimensions of one output. Every field is in [0,1].
type Vector struct {
	Availability  float64 `json:"availability"`
	Relevance     float64 `json:"relevance"`
	Confidence    float64 `json:"confidence"`
	Actionability float64 `json:"actionability"`
	Specificity   float64 `json:"specificity"`
}

// Overall is the plain mean of the five dimensions.
func (v Vector) Overall() float64 {
	return (v.Availability + v.Relevance + v.Confidence + v.Actionability + v.Specificity) / 5
}

// Options tunes relevance scoring.
type Options struct {
	// MinRelevance is added to every keyword score.
	MinRelevance float64
	// AlwaysRelevantFloor is the lowest keyword score an always-relevant
	// producer can have before MinRelevance is added.
	AlwaysRelevantFloor float64
}

// DefaultOptions returns the stock relevance tuning.
func DefaultOptions() Options {
	return Options{MinRelevance: 0.2, AlwaysRelevantFloor: 0.7}
}

// Scorer is stateless apart from its options and safe for concurrent use.
type Scorer struct {
	opts Options
}

func NewScorer(opts Options) *Scorer {
	opts.MinRelevance = clamp(opts.MinRelevance)
	opts.AlwaysRelevantFloor = clamp(opts.AlwaysRelevantFloor)
	return &Scorer{opts: opts}
}

const maxDepth = 3

var (
	confidenceKeys = []string{"confidence", "confidence_score", "reliability", "accuracy"}
	actionKeys     = []string{"recommendations", "actions", "steps", "suggestions", "opportunities"}
	quantityHints  = []string{"₹", "rs", "%", "month", "year", "days"}
)

// Score rates one output. Outputs that carry no payload score zero on
// every dimension.
func (s *Scorer) Score(spec producer.Spec, out producer.Output, query string) Vector {
	if !out.OK() || DegradedReason(out) != "" {
		return Vector{}
	}
	return Vector{
		Availability:  1,
		Relevance:     s.Relevance(spec, query),
		Confidence:    confidence(out.Payload),
		Actionability: actionability(out.Payload),
		Specificity:   specificity(out.Payload),
	}
}

// DegradedReason explains why a successful output still scores zero
// availability. It returns "" for outputs that are scored normally.
func DegradedReason(out producer.Output) string {
	if !out.OK() {
		return ""
	}
	if out.Payload == nil {
		return "empty payload"
	}
	if str, ok := out.Payload.(string); ok {
		lower := strings.ToLower(str)
		if strings.Contains(lower, "error") || strings.Contains(lower, "unavailable") {
			return "payload reports error/unavailable"
		}
	}
	return ""
}

// ScoreAll rates every output. Outputs without a matching spec are scored
// with an empty tag set.
func (s *Scorer) ScoreAll(specs map[string]producer.Spec, outputs map[string]producer.Output, query string) map[string]Vector {
	res := make(map[string]Vector, len(outputs))
	for name, out := range outputs {
		spec, ok := specs[name]
		if !ok {
			spec = producer.Spec{Name: name}
		}
		res[name] = s.Score(spec, out, query)
	}
	return res
}

// Relevance is the keyword overlap of query with the producer's tags, lifted
// for always-relevant producers and offset by the minimum relevance.
func (s *Scorer) Relevance(spec producer.Spec, query string) float64 {
	base := producer.KeywordScore(spec.Tags, query)
	if spec.AlwaysRelevant && base < s.opts.AlwaysRelevantFloor {
		base = s.opts.AlwaysRelevantFloor
	}
	return clamp(base + s.opts.MinRelevance)
}

func confidence(payload any) float64 {
	m, ok := payload.(map[string]any)
	if !ok {
		return 0.8
	}
	for _, key := range confidenceKeys {
		v, ok := m[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			if t > 1 {
				return clamp(t / 100)
			}
			return clamp(t)
		case string:
			if !strings.Contains(t, "%") {
				continue
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(t, "%", "")), 64)
			if err != nil {
				continue
			}
			return clamp(f / 100)
		}
	}
	if truthy(m["error"]) || truthy(m["warning"]) {
		return 0.6
	}
	switch m["data_quality"] {
	case "good":
		return 0.9
	case "warning":
		return 0.7
	case "error":
		return 0.3
	}
	return 0.8
}

func actionability(payload any) float64 {
	m, ok := payload.(map[string]any)
	if !ok {
		return 0.5
	}
	actions := 0
	for _, key := range actionKeys {
		if truthy(m[key]) {
			actions++
		}
	}
	b, _ := json.Marshal(m)
	text := strings.ToLower(string(b))
	hints := 0
	for _, h := range quantityHints {
		if strings.Contains(text, h) {
			hints++
		}
	}
	return clamp(float64(actions)*0.4 + float64(hints)*0.1)
}

func specificity(payload any) float64 {
	m, ok := payload.(map[string]any)
	if !ok {
		return 0.5
	}
	var numeric, total int
	countFields(m, 0, &numeric, &total)
	if total == 0 {
		return 0
	}
	return clamp(float64(numeric) / float64(total))
}

func countFields(v any, depth int, numeric, total *int) {
	if depth > maxDepth {
		return
	}
	switch t := v.(type) {
	case map[string]any:
		for _, val := range t {
			*total++
			switch val.(type) {
			case float64:
				*numeric++
			case map[string]any, []any:
				countFields(val, depth+1, numeric, total)
			}
		}
	case []any:
		for _, item := range t {
			switch item.(type) {
			case map[string]any, []any:
				countFields(item, depth+1, numeric, total)
			}
		}
	}
}

// truthy follows JSON intuition: nil, false, 0, "" and empty containers are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

func clamp(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

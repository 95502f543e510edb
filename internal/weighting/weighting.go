// Package weighting turns quality vectors into a normalized weight map.
package weighting

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/artha/internal/quality"
	"github.com/mohammad-safakhou/artha/internal/reasoning"
	"github.com/mohammad-safakhou/artha/internal/telemetry"
)

// Map holds per-producer weights. Weights are non-negative and sum to 1
// across available producers; unavailable producers carry 0.
type Map map[string]float64

// Sum adds every weight.
func (m Map) Sum() float64 {
	var s float64
	for _, w := range m {
		s += w
	}
	return s
}

// Ranked returns names ordered by weight descending, name ascending.
func (m Map) Ranked() []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if m[names[i]] != m[names[j]] {
			return m[names[i]] > m[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

// Method names the path that produced a Map.
type Method string

const (
	MethodReasoner Method = "reasoner"
	MethodFallback Method = "fallback"
	// MethodNone means no producer was available.
	MethodNone Method = "none"
)

// Report records how the weights were obtained.
type Report struct {
	Method Method
	// Err is why the reasoner path was not used, if it was attempted.
	Err error
}

// ParseError is returned when reasoner output holds no usable weights.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("weighting: unusable reasoner output: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Summary is the per-producer context handed to the reasoner.
type Summary struct {
	Overall       float64 `json:"overall_quality"`
	Relevance     float64 `json:"relevance"`
	Confidence    float64 `json:"confidence"`
	Actionability float64 `json:"actionability"`
}

// Summarize reduces a vector to the reasoner's view of it.
func Summarize(v quality.Vector) Summary {
	return Summary{Overall: v.Overall(), Relevance: v.Relevance, Confidence: v.Confidence, Actionability: v.Actionability}
}

// Input is one weighting request.
type Input struct {
	Query   string
	Vectors map[string]quality.Vector
	// Hints multiply raw weights before normalization; absent names use 1.
	Hints map[string]float64
}

// Options configures a Calculator.
type Options struct {
	Reasoner reasoning.Reasoner
	Logger   *log.Logger
	Metrics  *telemetry.Metrics
}

// Calculator asks the reasoner for weights and falls back to a fixed
// formula when that fails.
type Calculator struct {
	reasoner reasoning.Reasoner
	logger   *log.Logger
	metrics  *telemetry.Metrics
}

func NewCalculator(opts Options) *Calculator {
	if opts.Reasoner == nil {
		opts.Reasoner = reasoning.Disabled{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	return &Calculator{reasoner: opts.Reasoner, logger: opts.Logger, metrics: opts.Metrics}
}

// Compute returns the weight map for in. It never fails: reasoner errors
// are recorded in the Report and the fallback formula is used instead.
func (c *Calculator) Compute(ctx context.Context, in Input) (Map, Report) {
	available := availableNames(in.Vectors)
	if len(available) == 0 {
		c.metrics.Weighting(ctx, string(MethodNone))
		return Map{}, Report{Method: MethodNone}
	}

	text, err := c.reasoner.Reason(ctx, Prompt(in.Query, in.Vectors))
	if err == nil {
		var weights Map
		weights, err = Parse(text, in.Vectors, in.Hints)
		if err == nil {
			c.metrics.Weighting(ctx, string(MethodReasoner))
			return weights, Report{Method: MethodReasoner}
		}
	}
	c.logger.Printf("weighting via fallback formula: %v", err)
	c.metrics.Weighting(ctx, string(MethodFallback))
	return Fallback(in.Vectors, in.Hints), Report{Method: MethodFallback, Err: err}
}

// Fallback weights each available producer by
// 0.4*relevance + 0.3*confidence + 0.3*actionability, normalized.
func Fallback(vectors map[string]quality.Vector, hints map[string]float64) Map {
	raw := make(map[string]float64, len(vectors))
	for _, name := range availableNames(vectors) {
		v := vectors[name]
		raw[name] = 0.4*v.Relevance + 0.3*v.Confidence + 0.3*v.Actionability
	}
	return normalize(vectors, raw, hints)
}

// Parse extracts weights from reasoner text. It accepts {"weights": {...}}
// or a flat object of name to number; unknown or unavailable names and
// non-numeric values are ignored.
func Parse(text string, vectors map[string]quality.Vector, hints map[string]float64) (Map, error) {
	block := reasoning.ExtractFirstJSON(text)
	if block == "" {
		return nil, &ParseError{Raw: text, Err: fmt.Errorf("no JSON object found")}
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(block), &doc); err != nil {
		return nil, &ParseError{Raw: text, Err: err}
	}
	if nested, ok := doc["weights"].(map[string]any); ok {
		doc = nested
	}
	raw := make(map[string]float64)
	for _, name := range availableNames(vectors) {
		if w, ok := doc[name].(float64); ok && w > 0 {
			raw[name] = w
		}
	}
	if len(raw) == 0 {
		return nil, &ParseError{Raw: text, Err: fmt.Errorf("no positive weights for available producers")}
	}
	out := normalize(vectors, raw, hints)
	if out.Sum() == 0 {
		return nil, &ParseError{Raw: text, Err: fmt.Errorf("weights sum to zero")}
	}
	return out, nil
}

// Prompt renders the weighting request for the reasoner.
func Prompt(query string, vectors map[string]quality.Vector) string {
	summaries := make(map[string]Summary)
	for _, name := range availableNames(vectors) {
		summaries[name] = Summarize(vectors[name])
	}
	b, _ := json.MarshalIndent(summaries, "", "  ")
	var sb strings.Builder
	sb.WriteString("Assign a weight between 0 and 1 to each financial analysis agent for this query.\n\n")
	fmt.Fprintf(&sb, "Query: %q\n\nAvailable agents and their quality scores:\n%s\n\n", query, b)
	sb.WriteString("Weigh relevance to the query, data quality and likely impact.\n")
	sb.WriteString(`Respond with a JSON object {"weights": {"<agent>": <weight>}, "reasoning": "<one paragraph>"}.`)
	return sb.String()
}

// normalize scales raw weights, multiplied by hints, to sum to 1 over the
// available producers. Hints that would zero out every weight are ignored;
// equal shares are used only when the raw weights themselves sum to zero.
func normalize(vectors map[string]quality.Vector, raw map[string]float64, hints map[string]float64) Map {
	available := availableNames(vectors)
	hinted := make(map[string]float64, len(raw))
	for name, w := range raw {
		if h, ok := hints[name]; ok {
			w *= math.Max(h, 0)
		}
		hinted[name] = w
	}
	weights := hinted
	total := sumOver(available, hinted)
	if total <= 0 {
		weights = raw
		total = sumOver(available, raw)
	}
	out := make(Map, len(vectors))
	for name := range vectors {
		out[name] = 0
	}
	if len(available) == 0 {
		return Map{}
	}
	if total <= 0 {
		share := 1 / float64(len(available))
		for _, name := range available {
			out[name] = share
		}
		return out
	}
	for _, name := range available {
		out[name] = weights[name] / total
	}
	return out
}

func sumOver(names []string, weights map[string]float64) float64 {
	var total float64
	for _, name := range names {
		total += weights[name]
	}
	return total
}

func availableNames(vectors map[string]quality.Vector) []string {
	var names []string
	for name, v := range vectors {
		if v.Availability > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

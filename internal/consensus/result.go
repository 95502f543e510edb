// Package consensus runs the full query pipeline and assembles the
// explainable result.
package consensus

import (
	"math"
	"sort"
	"time"

	"github.com/mohammad-safakhou/artha/internal/conflict"
	"github.com/mohammad-safakhou/artha/internal/producer"
	"github.com/mohammad-safakhou/artha/internal/quality"
	"github.com/mohammad-safakhou/artha/internal/weighting"
)

// PrimaryThreshold is the weight above which a producer is called primary.
const PrimaryThreshold = 0.7

// ProducerWeight is a contributing producer with its influence.
type ProducerWeight struct {
	Name       string  `json:"name"`
	Weight     float64 `json:"weight"`
	Confidence float64 `json:"confidence"`
}

// Exclusion names a producer that did not contribute and why.
type Exclusion struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

const (
	ExclusionNotSelected = "not_selected"
	ExclusionZeroWeight  = "zero_weight"
)

// Result is the outcome of one consensus query.
type Result struct {
	ID                string                     `json:"id"`
	UserID            string                     `json:"user_id"`
	Query             string                     `json:"query"`
	Weights           weighting.Map              `json:"weights"`
	WeightingMethod   weighting.Method           `json:"weighting_method"`
	WeightingError    string                     `json:"weighting_error,omitempty"`
	Quality           map[string]quality.Vector  `json:"quality"`
	Outputs           map[string]producer.Output `json:"outputs"`
	Conflicts         []conflict.Conflict        `json:"conflicts"`
	Resolution        conflict.Resolution        `json:"resolution"`
	ResolutionError   string                     `json:"resolution_error,omitempty"`
	OverallConfidence float64                    `json:"overall_confidence"`
	Participating     []ProducerWeight           `json:"participating"`
	Primary           []string                   `json:"primary"`
	Excluded          []Exclusion                `json:"excluded"`
	DataGaps          []string                   `json:"data_gaps"`
	Registered        int                        `json:"registered"`
	Narrative         string                     `json:"narrative,omitempty"`
	Duration          time.Duration              `json:"duration"`
	Timestamp         time.Time                  `json:"timestamp"`
	Cached            bool                       `json:"cached,omitempty"`
}

// Consulted counts producers that returned a payload.
func (r *Result) Consulted() int {
	n := 0
	for _, o := range r.Outputs {
		if o.OK() {
			n++
		}
	}
	return n
}

// AssembleInput carries every stage output into Assemble.
type AssembleInput struct {
	UserID          string
	Query           string
	Registered      []string
	Outputs         map[string]producer.Output
	Quality         map[string]quality.Vector
	Weights         weighting.Map
	Report          weighting.Report
	Conflicts       []conflict.Conflict
	Resolution      conflict.Resolution
	ResolutionError error
	DataGaps        []string
}

// Assemble merges stage outputs into a Result. It tolerates nil maps and
// missing entries.
func Assemble(in AssembleInput) *Result {
	r := &Result{
		UserID:          in.UserID,
		Query:           in.Query,
		Weights:         in.Weights,
		WeightingMethod: in.Report.Method,
		Quality:         in.Quality,
		Outputs:         in.Outputs,
		Conflicts:       in.Conflicts,
		Resolution:      in.Resolution,
		DataGaps:        append([]string{}, in.DataGaps...),
		Registered:      len(in.Registered),
	}
	if r.Weights == nil {
		r.Weights = weighting.Map{}
	}
	if r.Quality == nil {
		r.Quality = map[string]quality.Vector{}
	}
	if r.Outputs == nil {
		r.Outputs = map[string]producer.Output{}
	}
	if r.Conflicts == nil {
		r.Conflicts = []conflict.Conflict{}
	}
	if in.Report.Err != nil {
		r.WeightingError = in.Report.Err.Error()
	}
	if in.ResolutionError != nil {
		r.ResolutionError = in.ResolutionError.Error()
	}

	var weighted, total float64
	for _, name := range r.Weights.Ranked() {
		w := r.Weights[name]
		if w <= 0 {
			continue
		}
		conf := r.Quality[name].Confidence
		weighted += w * conf
		total += w
		r.Participating = append(r.Participating, ProducerWeight{Name: name, Weight: w, Confidence: conf})
		if w > PrimaryThreshold {
			r.Primary = append(r.Primary, name)
		}
	}
	if total > 0 {
		r.OverallConfidence = math.Round(weighted/total*100) / 100
	}
	if r.Participating == nil {
		r.Participating = []ProducerWeight{}
	}
	if r.Primary == nil {
		r.Primary = []string{}
	}

	r.Excluded = exclusions(in.Registered, r.Outputs, r.Weights)
	return r
}

func exclusions(registered []string, outputs map[string]producer.Output, weights weighting.Map) []Exclusion {
	seen := make(map[string]struct{})
	var out []Exclusion
	add := func(e Exclusion) {
		if _, ok := seen[e.Name]; ok {
			return
		}
		seen[e.Name] = struct{}{}
		out = append(out, e)
	}
	for name, o := range outputs {
		switch {
		case !o.OK():
			add(Exclusion{Name: name, Kind: string(o.Err.Kind), Reason: o.Reason()})
		case weights[name] <= 0:
			reason := "zero weight"
			if why := quality.DegradedReason(o); why != "" {
				reason += ": " + why
			}
			add(Exclusion{Name: name, Kind: ExclusionZeroWeight, Reason: reason})
		default:
			seen[name] = struct{}{}
		}
	}
	for _, name := range registered {
		if _, ok := outputs[name]; !ok {
			add(Exclusion{Name: name, Kind: ExclusionNotSelected, Reason: "not selected for this query"})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if out == nil {
		out = []Exclusion{}
	}
	return out
}

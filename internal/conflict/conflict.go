// Package conflict flags contradictory recommendations between heavily
// weighted producers and asks the reasoner how to reconcile them.
package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/artha/internal/producer"
	"github.com/mohammad-safakhou/artha/internal/reasoning"
	"github.com/mohammad-safakhou/artha/internal/weighting"
)

const (
	TypeOpposing   = "opposing_recommendation"
	SeverityMedium = "medium"

	DefaultThreshold = 0.3
)

// Conflict is one contradiction between two producers. ProducerA sorts
// before ProducerB.
type Conflict struct {
	ProducerA      string  `json:"producer_a"`
	ProducerB      string  `json:"producer_b"`
	Topic          string  `json:"topic"`
	Severity       string  `json:"severity"`
	Type           string  `json:"type"`
	CombinedWeight float64 `json:"combined_weight"`
}

type opposition struct{ a, b string }

var oppositions = []opposition{
	{"buy", "sell"},
	{"increase", "decrease"},
	{"increase", "reduce"},
	{"invest", "divest"},
	{"recommend", "avoid"},
	{"good", "bad"},
	{"high", "low"},
}

// Detector compares payload text of producers weighted above a threshold.
type Detector struct {
	threshold float64
}

// NewDetector uses DefaultThreshold when threshold <= 0.
func NewDetector(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{threshold: threshold}
}

// Detect returns at most one conflict per producer pair among producers
// whose weight is strictly above the threshold. The result does not depend
// on map iteration or dispatch order.
func (d *Detector) Detect(weights weighting.Map, outputs map[string]producer.Output) []Conflict {
	var heavy []string
	for name, w := range weights {
		if w > d.threshold && outputs[name].OK() && outputs[name].Payload != nil {
			heavy = append(heavy, name)
		}
	}
	sort.Strings(heavy)

	texts := make(map[string]string, len(heavy))
	for _, name := range heavy {
		texts[name] = payloadText(outputs[name].Payload)
	}

	var out []Conflict
	for i := 0; i < len(heavy); i++ {
		for j := i + 1; j < len(heavy); j++ {
			a, b := heavy[i], heavy[j]
			topic, ok := opposed(texts[a], texts[b])
			if !ok {
				continue
			}
			out = append(out, Conflict{
				ProducerA:      a,
				ProducerB:      b,
				Topic:          topic,
				Severity:       SeverityMedium,
				Type:           TypeOpposing,
				CombinedWeight: weights[a] + weights[b],
			})
		}
	}
	return out
}

// opposed checks every word pair in both directions.
func opposed(x, y string) (string, bool) {
	for _, o := range oppositions {
		if (strings.Contains(x, o.a) && strings.Contains(y, o.b)) ||
			(strings.Contains(y, o.a) && strings.Contains(x, o.b)) {
			return o.a + " vs " + o.b, true
		}
	}
	return "", false
}

func payloadText(v any) string {
	if s, ok := v.(string); ok {
		return strings.ToLower(s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return strings.ToLower(fmt.Sprint(v))
	}
	return strings.ToLower(string(b))
}

const (
	StrategyProceed    = "proceed_with_consensus"
	StrategyReasoned   = "reasoned_resolution"
	StrategyUnresolved = "unresolved"
)

// Resolution summarizes how conflicts were handled.
type Resolution struct {
	Strategy      string `json:"strategy"`
	ConflictCount int    `json:"conflicts_analyzed"`
	Text          string `json:"resolution,omitempty"`
	Confidence    string `json:"confidence,omitempty"`
}

// ResolutionError means the reasoner could not produce resolution text.
// The conflicts themselves remain valid.
type ResolutionError struct {
	Err error
}

func (e *ResolutionError) Error() string { return fmt.Sprintf("conflict resolution: %v", e.Err) }
func (e *ResolutionError) Unwrap() error { return e.Err }

// Resolver asks the reasoner to reconcile detected conflicts.
type Resolver struct {
	reasoner reasoning.Reasoner
	logger   *log.Logger
}

func NewResolver(r reasoning.Reasoner, logger *log.Logger) *Resolver {
	if r == nil {
		r = reasoning.Disabled{}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Resolver{reasoner: r, logger: logger}
}

// Resolve never drops conflicts; on reasoner failure the Resolution has no
// text and a *ResolutionError is returned alongside it.
func (r *Resolver) Resolve(ctx context.Context, query string, conflicts []Conflict) (Resolution, error) {
	if len(conflicts) == 0 {
		return Resolution{Strategy: StrategyProceed, Text: "No conflicts detected"}, nil
	}
	res := Resolution{ConflictCount: len(conflicts), Confidence: "medium"}
	if len(conflicts) <= 2 {
		res.Confidence = "high"
	}
	text, err := r.reasoner.Reason(ctx, ResolutionPrompt(query, conflicts))
	if err == nil && strings.TrimSpace(text) == "" {
		err = fmt.Errorf("empty resolution text")
	}
	if err != nil {
		r.logger.Printf("conflict resolution unavailable for %d conflicts: %v", len(conflicts), err)
		res.Strategy = StrategyUnresolved
		return res, &ResolutionError{Err: err}
	}
	res.Strategy = StrategyReasoned
	res.Text = strings.TrimSpace(text)
	return res, nil
}

// ResolutionPrompt renders the conflict list for the reasoner.
func ResolutionPrompt(query string, conflicts []Conflict) string {
	b, _ := json.MarshalIndent(conflicts, "", "  ")
	var sb strings.Builder
	fmt.Fprintf(&sb, "Resolve these conflicts between financial agents for the query %q.\n\n", query)
	fmt.Fprintf(&sb, "Detected conflicts:\n%s\n\n", b)
	sb.WriteString("For each conflict give the root cause, which side has stronger evidence, ")
	sb.WriteString("a resolution strategy, and how to explain it to the user. Favour risk management.")
	return sb.String()
}

// Package producer holds the registry of analysis producers and the
// dispatcher that runs them against a snapshot.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/artha/internal/snapshot"
)

// Producer analyses a snapshot for a query. Implementations must treat the
// snapshot as read-only and should honour ctx cancellation.
type Producer interface {
	Analyze(ctx context.Context, snap *snapshot.Snapshot, query string) (any, error)
}

// Func adapts a plain function to Producer.
type Func func(ctx context.Context, snap *snapshot.Snapshot, query string) (any, error)

func (f Func) Analyze(ctx context.Context, snap *snapshot.Snapshot, query string) (any, error) {
	return f(ctx, snap, query)
}

// Spec describes a registered producer.
type Spec struct {
	Name        string
	Description string
	// Tags are the domain keywords matched against queries.
	Tags []string
	// AlwaysActive producers are selected for every query.
	AlwaysActive bool
	// AlwaysRelevant producers get a boosted relevance score.
	AlwaysRelevant bool
	// Timeout overrides the dispatcher default when > 0.
	Timeout time.Duration
}

func (s Spec) clone() Spec {
	s.Tags = append([]string(nil), s.Tags...)
	return s
}

// ErrorKind classifies why a producer did not contribute.
type ErrorKind string

const (
	KindFailed      ErrorKind = "failed"
	KindTimeout     ErrorKind = "timeout"
	KindPanic       ErrorKind = "panic"
	KindUnavailable ErrorKind = "unavailable"
	KindSkipped     ErrorKind = "skipped"
)

// Error is the failure half of an Output.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) MarshalJSON() ([]byte, error) {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		Kind    ErrorKind `json:"kind"`
		Message string    `json:"message"`
	}{e.Kind, msg})
}

// Unavailable lets a producer report that the snapshot lacks what it needs.
func Unavailable(format string, args ...any) *Error {
	return &Error{Kind: KindUnavailable, Message: fmt.Sprintf(format, args...)}
}

// Output is the result of one producer run: either Payload or Err is set,
// never both.
type Output struct {
	Name     string        `json:"name"`
	Payload  any           `json:"payload,omitempty"`
	Err      *Error        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether the producer contributed a payload.
func (o Output) OK() bool { return o.Err == nil }

// Reason describes why the output is missing, or "" when it is present.
func (o Output) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Normalize converts an arbitrary payload into the closed set of JSON
// values: map[string]any, []any, string, float64, bool and nil.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, float64, bool:
		return t, nil
	case json.RawMessage:
		var out any
		if err := json.Unmarshal(t, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("payload not JSON encodable: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// KeywordScore is the share of tags that occur in query, case-insensitive.
func KeywordScore(tags []string, query string) float64 {
	if len(tags) == 0 {
		return 0
	}
	q := strings.ToLower(query)
	matches := 0
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" && strings.Contains(q, tag) {
			matches++
		}
	}
	return float64(matches) / float64(len(tags))
}

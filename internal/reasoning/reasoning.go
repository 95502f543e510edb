// Package reasoning is the seam to the text-generation backend used for
// weighting, conflict resolution and narrative synthesis.
package reasoning

import (
	"context"
	"errors"
)

// Reasoner turns a prompt into free text.
type Reasoner interface {
	Reason(ctx context.Context, prompt string) (string, error)
}

// Func adapts a function to Reasoner.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Reason(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

// ErrDisabled is returned by Disabled.
var ErrDisabled = errors.New("reasoning backend not configured")

// Disabled always fails, which sends every caller down its deterministic path.
type Disabled struct{}

func (Disabled) Reason(context.Context, string) (string, error) { return "", ErrDisabled }

// ExtractFirstJSON returns the first balanced {...} block in s, or "" when
// there is none. Braces inside JSON strings are respected.
func ExtractFirstJSON(s string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, ch := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

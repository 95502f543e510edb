package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// RequiredSources is the fixed set of tools fetched for every snapshot.
var RequiredSources = []string{
	"fetch_net_worth",
	"fetch_credit_report",
	"fetch_epf_details",
	"fetch_mf_transactions",
	"fetch_bank_transactions",
	"fetch_stock_transactions",
}

// SourceResult is the outcome of fetching one source. Err is set when the
// fetch failed, in which case Payload is empty.
type SourceResult struct {
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	FetchedAt time.Time       `json:"fetched_at"`
	Err       string          `json:"error,omitempty"`
}

// OK reports whether the source was fetched successfully.
func (r SourceResult) OK() bool { return r.Err == "" }

// Snapshot is an immutable view of one user's financial data. Accessors hand
// out copies, so producers cannot mutate what other producers read.
type Snapshot struct {
	userID    string
	fetchedAt time.Time
	sources   map[string]SourceResult
}

// New builds a snapshot. A later result for the same name replaces an earlier one.
func New(userID string, fetchedAt time.Time, results []SourceResult) *Snapshot {
	s := &Snapshot{userID: userID, fetchedAt: fetchedAt, sources: make(map[string]SourceResult, len(results))}
	for _, r := range results {
		if r.Err != "" {
			r.Payload = nil
		} else {
			r.Payload = cloneRaw(r.Payload)
		}
		s.sources[r.Name] = r
	}
	return s
}

func (s *Snapshot) UserID() string       { return s.userID }
func (s *Snapshot) FetchedAt() time.Time { return s.fetchedAt }

// Source returns a copy of the named result.
func (s *Snapshot) Source(name string) (SourceResult, bool) {
	if s == nil {
		return SourceResult{}, false
	}
	r, ok := s.sources[name]
	if !ok {
		return SourceResult{}, false
	}
	r.Payload = cloneRaw(r.Payload)
	return r, true
}

// Payload returns the raw payload for a successfully fetched source.
func (s *Snapshot) Payload(name string) (json.RawMessage, bool) {
	r, ok := s.Source(name)
	if !ok || !r.OK() {
		return nil, false
	}
	return r.Payload, true
}

// Decode unmarshals a successfully fetched source into v.
func (s *Snapshot) Decode(name string, v any) error {
	raw, ok := s.Payload(name)
	if !ok {
		return fmt.Errorf("source %s unavailable", name)
	}
	return json.Unmarshal(raw, v)
}

// Names lists every source in the snapshot, sorted.
func (s *Snapshot) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.sources))
	for name := range s.sources {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DataGaps lists sources that failed to fetch, sorted.
func (s *Snapshot) DataGaps() []string {
	if s == nil {
		return nil
	}
	var out []string
	for name, r := range s.sources {
		if !r.OK() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Available counts successfully fetched sources.
func (s *Snapshot) Available() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, r := range s.sources {
		if r.OK() {
			n++
		}
	}
	return n
}

type wireSnapshot struct {
	UserID    string         `json:"user_id"`
	FetchedAt time.Time      `json:"fetched_at"`
	Sources   []SourceResult `json:"sources"`
}

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	w := wireSnapshot{UserID: s.userID, FetchedAt: s.fetchedAt}
	for _, name := range s.Names() {
		w.Sources = append(w.Sources, s.sources[name])
	}
	return json.Marshal(w)
}

func (s *Snapshot) UnmarshalJSON(b []byte) error {
	var w wireSnapshot
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*s = *New(w.UserID, w.FetchedAt, w.Sources)
	return nil
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	out := make(json.RawMessage, len(r))
	copy(out, r)
	return out
}

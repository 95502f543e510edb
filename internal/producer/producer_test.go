package producer_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/artha/internal/producer"
	"github.com/mohammad-safakhou/artha/internal/snapshot"
)

func constant(v any) producer.Func {
	return func(context.Context, *snapshot.Snapshot, string) (any, error) { return v, nil }
}

func emptySnapshot() *snapshot.Snapshot {
	return snapshot.New("u1", time.Now(), nil)
}

func TestRegisterRejectsDuplicatesAndBlankNames(t *testing.T) {
	reg := producer.NewRegistry()
	if err := reg.Register(producer.Spec{Name: "debt_management"}, constant(1.0)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(producer.Spec{Name: "debt_management"}, constant(2.0)); !errors.Is(err, producer.ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if err := reg.Register(producer.Spec{Name: "  "}, constant(1.0)); err == nil {
		t.Fatalf("expected blank name to be rejected")
	}
	if err := reg.Register(producer.Spec{Name: "x"}, nil); err == nil {
		t.Fatalf("expected nil producer to be rejected")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected 1 producer, got %d", reg.Len())
	}
}

func TestKeywordScore(t *testing.T) {
	tags := []string{"loan", "debt", "emi", "credit", "borrow"}
	if got := producer.KeywordScore(tags, "Should I pay off my DEBT or invest?"); got != 0.2 {
		t.Fatalf("expected 0.2, got %v", got)
	}
	if got := producer.KeywordScore(nil, "anything"); got != 0 {
		t.Fatalf("expected 0 for no tags, got %v", got)
	}
}

func TestSelectUsesKeywordsAndAlwaysActive(t *testing.T) {
	reg := producer.NewRegistry()
	_ = reg.Register(producer.Spec{Name: "debt_management", Tags: []string{"loan", "debt"}}, constant(1.0))
	_ = reg.Register(producer.Spec{Name: "cultural_events", Tags: []string{"festival", "wedding"}}, constant(1.0))
	_ = reg.Register(producer.Spec{Name: "data_integration", Tags: []string{"balance"}, AlwaysActive: true}, constant(1.0))

	got := reg.Select("pay off debt?", 0)
	want := []string{"data_integration", "debt_management"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if got := reg.Select("pay off debt?", 0.6); len(got) != 1 || got[0] != "data_integration" {
		t.Fatalf("expected only always-active above floor, got %v", got)
	}
}

func TestNormalizeProducesJSONValues(t *testing.T) {
	type rec struct {
		Amount int      `json:"amount"`
		Tags   []string `json:"tags"`
	}
	v, err := producer.Normalize(rec{Amount: 5, Tags: []string{"a"}})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", v)
	}
	if m["amount"] != float64(5) {
		t.Fatalf("expected float64 amount, got %#v", m["amount"])
	}
	if _, ok := m["tags"].([]any); !ok {
		t.Fatalf("expected []any tags, got %T", m["tags"])
	}
	if _, err := producer.Normalize(make(chan int)); err == nil {
		t.Fatalf("expected error for unencodable payload")
	}
}

func TestDispatchIsolatesFailures(t *testing.T) {
	reg := producer.NewRegistry()
	_ = reg.Register(producer.Spec{Name: "ok"}, constant(map[string]any{"confidence": 0.9}))
	_ = reg.Register(producer.Spec{Name: "fails"}, producer.Func(func(context.Context, *snapshot.Snapshot, string) (any, error) {
		return nil, errors.New("boom")
	}))
	_ = reg.Register(producer.Spec{Name: "panics"}, producer.Func(func(context.Context, *snapshot.Snapshot, string) (any, error) {
		panic("kaboom")
	}))
	_ = reg.Register(producer.Spec{Name: "empty"}, constant(nil))
	_ = reg.Register(producer.Spec{Name: "no_data"}, producer.Func(func(context.Context, *snapshot.Snapshot, string) (any, error) {
		return nil, producer.Unavailable("bank transactions missing")
	}))

	d := producer.NewDispatcher(reg, producer.Options{MaxConcurrency: 2, DefaultTimeout: time.Second})
	out := d.Dispatch(context.Background(), emptySnapshot(), "q", "ok", "fails", "panics", "empty", "no_data", "ghost")

	expect := map[string]producer.ErrorKind{
		"fails":   producer.KindFailed,
		"panics":  producer.KindPanic,
		"empty":   producer.KindUnavailable,
		"no_data": producer.KindUnavailable,
		"ghost":   producer.KindSkipped,
	}
	if len(out) != 6 {
		t.Fatalf("expected 6 outputs, got %d", len(out))
	}
	if !out["ok"].OK() {
		t.Fatalf("expected ok producer to succeed: %v", out["ok"].Err)
	}
	for name, kind := range expect {
		o := out[name]
		if o.OK() || o.Err.Kind != kind {
			t.Fatalf("%s: expected %s, got %+v", name, kind, o.Err)
		}
		if o.Payload != nil {
			t.Fatalf("%s: failed output carries payload", name)
		}
	}
}

func TestDispatchAbandonsStuckProducer(t *testing.T) {
	reg := producer.NewRegistry()
	release := make(chan struct{})
	defer close(release)
	_ = reg.Register(producer.Spec{Name: "market_intelligence", Timeout: 50 * time.Millisecond}, producer.Func(func(context.Context, *snapshot.Snapshot, string) (any, error) {
		<-release // ignores ctx
		return "late", nil
	}))
	_ = reg.Register(producer.Spec{Name: "debt_management"}, constant("fine"))

	d := producer.NewDispatcher(reg, producer.Options{DefaultTimeout: time.Second})
	start := time.Now()
	out := d.Dispatch(context.Background(), emptySnapshot(), "q", "market_intelligence", "debt_management")
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("dispatch blocked on stuck producer for %s", elapsed)
	}
	if o := out["market_intelligence"]; o.OK() || o.Err.Kind != producer.KindTimeout {
		t.Fatalf("expected timeout, got %+v", o)
	}
	if !out["debt_management"].OK() {
		t.Fatalf("expected debt_management to succeed")
	}
}

func TestDispatchQueuedProducersShareDeadline(t *testing.T) {
	reg := producer.NewRegistry()
	release := make(chan struct{})
	defer close(release)
	stuck := producer.Func(func(context.Context, *snapshot.Snapshot, string) (any, error) {
		<-release
		return "late", nil
	})
	names := []string{"a", "b", "c"}
	for _, n := range names {
		_ = reg.Register(producer.Spec{Name: n}, stuck)
	}

	d := producer.NewDispatcher(reg, producer.Options{MaxConcurrency: 1, DefaultTimeout: 100 * time.Millisecond})
	start := time.Now()
	out := d.Dispatch(context.Background(), emptySnapshot(), "q", names...)
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Fatalf("dispatch took %s with a 100ms producer timeout", elapsed)
	}
	for _, n := range names {
		if o := out[n]; o.OK() || o.Err.Kind != producer.KindTimeout {
			t.Fatalf("expected %s to time out, got %+v", n, o)
		}
	}
}

func TestDispatchCancelledQueryMarksUnavailable(t *testing.T) {
	reg := producer.NewRegistry()
	_ = reg.Register(producer.Spec{Name: "slow"}, producer.Func(func(ctx context.Context, _ *snapshot.Snapshot, _ string) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	d := producer.NewDispatcher(reg, producer.Options{DefaultTimeout: 5 * time.Second})
	out := d.Dispatch(ctx, emptySnapshot(), "q", "slow")
	if o := out["slow"]; o.OK() || o.Err.Kind != producer.KindUnavailable {
		t.Fatalf("expected unavailable, got %+v", o)
	}
}

func TestDispatchRespectsConcurrencyLimit(t *testing.T) {
	reg := producer.NewRegistry()
	var running, peak atomic.Int32
	work := producer.Func(func(context.Context, *snapshot.Snapshot, string) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return true, nil
	})
	names := []string{"a", "b", "c", "d", "e", "f"}
	for _, n := range names {
		_ = reg.Register(producer.Spec{Name: n}, work)
	}
	d := producer.NewDispatcher(reg, producer.Options{MaxConcurrency: 2, DefaultTimeout: time.Second})
	out := d.Dispatch(context.Background(), emptySnapshot(), "q", names...)
	if len(out) != len(names) {
		t.Fatalf("expected %d outputs, got %d", len(names), len(out))
	}
	if peak.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent producers, saw %d", peak.Load())
	}
}

func TestDispatchWithoutNamesUsesSelection(t *testing.T) {
	reg := producer.NewRegistry()
	_ = reg.Register(producer.Spec{Name: "anomaly_detection", Tags: []string{"fraud"}}, constant(1.0))
	_ = reg.Register(producer.Spec{Name: "cultural_events", Tags: []string{"wedding"}}, constant(1.0))

	d := producer.NewDispatcher(reg, producer.Options{})
	out := d.Dispatch(context.Background(), emptySnapshot(), "is this fraud?")
	if _, ok := out["anomaly_detection"]; !ok || len(out) != 1 {
		t.Fatalf("expected only anomaly_detection, got %v", out)
	}
}

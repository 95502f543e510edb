package snapshot_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/artha/internal/cache"
	"github.com/mohammad-safakhou/artha/internal/datasource"
	"github.com/mohammad-safakhou/artha/internal/datasource/providertest"
	"github.com/mohammad-safakhou/artha/internal/snapshot"
)

const user = "2222222222"

func setup(t *testing.T, store cache.Store) (*providertest.Provider, *snapshot.Aggregator) {
	t.Helper()
	p := providertest.New().WithDefaultUser(user)
	srv := httptest.NewServer(p.Handler())
	t.Cleanup(srv.Close)
	client := datasource.NewClient(datasource.Options{
		BaseURL:          srv.URL,
		CallTimeout:      2 * time.Second,
		MaxRetries:       1,
		RetryBaseDelay:   time.Millisecond,
		BreakerThreshold: 100,
	})
	agg := snapshot.NewAggregator(client, snapshot.Options{TTL: time.Hour, Cache: store})
	return p, agg
}

func TestSnapshotIdempotentWithinTTL(t *testing.T) {
	p, agg := setup(t, cache.NewMemory())
	ctx := context.Background()

	first, err := agg.GetSnapshot(ctx, user, false)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	calls := p.TotalCalls()
	if calls != len(snapshot.RequiredSources) {
		t.Fatalf("expected %d source calls, got %d", len(snapshot.RequiredSources), calls)
	}

	second, err := agg.GetSnapshot(ctx, user, false)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if p.TotalCalls() != calls || p.Logins() != 1 {
		t.Fatalf("expected zero network calls on hit, calls=%d logins=%d", p.TotalCalls(), p.Logins())
	}
	for _, name := range snapshot.RequiredSources {
		a, _ := first.Payload(name)
		b, _ := second.Payload(name)
		if string(a) != string(b) {
			t.Fatalf("source %s differs between cached reads", name)
		}
	}
}

func TestSnapshotForceRefreshRefetches(t *testing.T) {
	p, agg := setup(t, cache.NewMemory())
	ctx := context.Background()
	if _, err := agg.GetSnapshot(ctx, user, false); err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if _, err := agg.GetSnapshot(ctx, user, true); err != nil {
		t.Fatalf("GetSnapshot force: %v", err)
	}
	if p.Logins() != 2 {
		t.Fatalf("expected re-authentication on force refresh, got %d logins", p.Logins())
	}
}

func TestSnapshotExpiresAfterTTL(t *testing.T) {
	now := time.Now()
	store := cache.NewMemory().WithClock(func() time.Time { return now })
	p, agg := setup(t, store)
	ctx := context.Background()
	if _, err := agg.GetSnapshot(ctx, user, false); err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	now = now.Add(time.Hour + time.Second)
	if _, err := agg.GetSnapshot(ctx, user, false); err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if p.Logins() != 2 {
		t.Fatalf("expected refetch after ttl, got %d logins", p.Logins())
	}
}

func TestSnapshotPartialFailureRecordsGaps(t *testing.T) {
	p, agg := setup(t, cache.NewMemory())
	p.FailTool("fetch_credit_report", http.StatusInternalServerError, -1)
	p.FailTool("fetch_epf_details", http.StatusServiceUnavailable, -1)

	snap, err := agg.GetSnapshot(context.Background(), user, false)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if snap.Available() != 4 {
		t.Fatalf("expected 4 available sources, got %d", snap.Available())
	}
	gaps := snap.DataGaps()
	if len(gaps) != 2 || gaps[0] != "fetch_credit_report" || gaps[1] != "fetch_epf_details" {
		t.Fatalf("unexpected gaps %v", gaps)
	}
	if _, ok := snap.Payload("fetch_credit_report"); ok {
		t.Fatalf("failed source must not expose a payload")
	}
	r, ok := snap.Source("fetch_epf_details")
	if !ok || r.Err == "" {
		t.Fatalf("expected recorded error for failed source")
	}
}

func TestSnapshotAuthFailureIsFatal(t *testing.T) {
	store := cache.NewMemory()
	p, agg := setup(t, store)
	p.RejectLogins(true)

	_, err := agg.GetSnapshot(context.Background(), user, false)
	var ae *datasource.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("auth failure must not populate the cache")
	}
	if p.TotalCalls() != 0 {
		t.Fatalf("no source may be fetched without a session")
	}
}

func TestSnapshotConcurrentRefreshCollapsed(t *testing.T) {
	p, agg := setup(t, cache.NewMemory())
	p.DelayTool("fetch_net_worth", 50*time.Millisecond)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := agg.GetSnapshot(context.Background(), user, false)
			if err != nil {
				errs <- err
				return
			}
			if snap.Available() != len(snapshot.RequiredSources) {
				errs <- errors.New("reader observed a partial snapshot")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent read: %v", err)
	}
	if p.Logins() != 1 {
		t.Fatalf("expected concurrent refreshes to collapse, got %d logins", p.Logins())
	}
}

func TestSnapshotCancelledCallerDoesNotDegradeSharedFetch(t *testing.T) {
	p, agg := setup(t, cache.NewMemory())
	p.DelayTool("fetch_net_worth", 300*time.Millisecond)

	leaderCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	leaderErr := make(chan error, 1)
	go func() {
		_, err := agg.GetSnapshot(leaderCtx, user, false)
		leaderErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	type result struct {
		snap *snapshot.Snapshot
		err  error
	}
	follower := make(chan result, 1)
	go func() {
		snap, err := agg.GetSnapshot(context.Background(), user, false)
		follower <- result{snap, err}
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-leaderErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancelled caller to get context.Canceled, got %v", err)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("cancelled caller kept waiting on the shared fetch")
	}

	res := <-follower
	if res.err != nil {
		t.Fatalf("follower GetSnapshot: %v", res.err)
	}
	if gaps := res.snap.DataGaps(); len(gaps) != 0 {
		t.Fatalf("follower with live context got degraded snapshot, gaps=%v", gaps)
	}
	if p.Logins() != 1 {
		t.Fatalf("expected one shared fetch, got %d logins", p.Logins())
	}

	if _, err := agg.GetSnapshot(context.Background(), user, false); err != nil {
		t.Fatalf("GetSnapshot after shared fetch: %v", err)
	}
	if p.Logins() != 1 {
		t.Fatalf("expected the shared fetch to be cached, got %d logins", p.Logins())
	}
}

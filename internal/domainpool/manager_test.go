package domainpool

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory Store for tests. WithTx serializes via a mutex;
// the data accessors themselves are unlocked and copy records on the way in
// and out, mirroring how rows behave.
type memStore struct {
	mu      sync.Mutex
	cfg     *PoolConfig
	domains map[string]*Domain
}

func newMemStore() *memStore {
	return &memStore{domains: map[string]*Domain{}}
}

func copyDomain(d *Domain) *Domain {
	c := *d
	if d.LastCheckedAt != nil {
		t := *d.LastCheckedAt
		c.LastCheckedAt = &t
	}
	if d.LastFailedAt != nil {
		t := *d.LastFailedAt
		c.LastFailedAt = &t
	}
	return &c
}

func (s *memStore) GetConfig(ctx context.Context) (*PoolConfig, error) {
	if s.cfg == nil {
		return nil, nil
	}
	c := *s.cfg
	return &c, nil
}

func (s *memStore) SaveConfig(ctx context.Context, cfg *PoolConfig) error {
	c := *cfg
	s.cfg = &c
	return nil
}

func (s *memStore) ListDomains(ctx context.Context) ([]*Domain, error) {
	out := make([]*Domain, 0, len(s.domains))
	for _, d := range s.domains {
		out = append(out, copyDomain(d))
	}
	sortByOrder(out)
	return out, nil
}

func (s *memStore) GetDomain(ctx context.Context, id string) (*Domain, error) {
	d, ok := s.domains[id]
	if !ok {
		return nil, nil
	}
	return copyDomain(d), nil
}

func (s *memStore) InsertDomain(ctx context.Context, d *Domain) error {
	s.domains[d.ID] = copyDomain(d)
	return nil
}

func (s *memStore) UpdateDomain(ctx context.Context, d *Domain) error {
	if _, ok := s.domains[d.ID]; !ok {
		return ErrNotFound
	}
	s.domains[d.ID] = copyDomain(d)
	return nil
}

func (s *memStore) DeleteDomain(ctx context.Context, id string) (bool, error) {
	if _, ok := s.domains[id]; !ok {
		return false, nil
	}
	delete(s.domains, id)
	return true, nil
}

func (s *memStore) WithTx(ctx context.Context, fn func(Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s)
}

type fakeCleaner struct {
	removed []string
}

func (f *fakeCleaner) RemoveByDomain(ctx context.Context, domainID string) error {
	f.removed = append(f.removed, domainID)
	return nil
}

func newTestManager(store Store) *Manager {
	m := NewManager(store)
	m.rng = rand.New(rand.NewSource(1))
	return m
}

func seedDomains(t *testing.T, s *memStore, domains ...*Domain) {
	t.Helper()
	now := time.Now()
	for _, d := range domains {
		d.CreatedAt, d.UpdatedAt = now, now
		if err := s.InsertDomain(context.Background(), d); err != nil {
			t.Fatalf("seed domain %s: %v", d.ID, err)
		}
	}
}

func activeConfig() *PoolConfig {
	cfg := defaultPoolConfig(time.Now())
	cfg.RoundRobinCursor = 1
	return cfg
}

func TestAddDomainDefaults(t *testing.T) {
	store := newMemStore()
	m := newTestManager(store)
	ctx := context.Background()

	seedDomains(t, store, dom("x", 5, 1, StatusActive))

	d, err := m.AddDomain(ctx, &AddDomainRequest{Host: "new.example.com", Protocol: ProtocolHTTPS})
	if err != nil {
		t.Fatalf("AddDomain: %v", err)
	}
	if d.Status != StatusTesting {
		t.Errorf("status = %s, want testing", d.Status)
	}
	if d.Weight != 1 {
		t.Errorf("weight = %d, want 1", d.Weight)
	}
	if d.Order != 6 {
		t.Errorf("order = %d, want max+1 = 6", d.Order)
	}
	if d.HealthCheckPath != "/health" {
		t.Errorf("health check path = %s, want /health", d.HealthCheckPath)
	}
	if d.ID == "" {
		t.Error("expected generated id")
	}
}

func TestAddDomainValidation(t *testing.T) {
	m := newTestManager(newMemStore())
	ctx := context.Background()

	if _, err := m.AddDomain(ctx, &AddDomainRequest{Protocol: ProtocolHTTP}); !errors.Is(err, ErrRejected) {
		t.Errorf("missing host: err = %v, want ErrRejected", err)
	}
	if _, err := m.AddDomain(ctx, &AddDomainRequest{Host: "h", Protocol: "ftp"}); !errors.Is(err, ErrRejected) {
		t.Errorf("bad protocol: err = %v, want ErrRejected", err)
	}
	zero := 0
	if _, err := m.AddDomain(ctx, &AddDomainRequest{Host: "h", Protocol: ProtocolHTTPS, Weight: &zero}); !errors.Is(err, ErrRejected) {
		t.Errorf("zero weight: err = %v, want ErrRejected", err)
	}
}

func TestUpdateDomainPartial(t *testing.T) {
	store := newMemStore()
	m := newTestManager(store)
	ctx := context.Background()
	seedDomains(t, store, dom("a", 1, 1, StatusActive))

	w := 9
	got, err := m.UpdateDomain(ctx, "a", &UpdateDomainRequest{Weight: &w})
	if err != nil {
		t.Fatalf("UpdateDomain: %v", err)
	}
	if got.Weight != 9 {
		t.Errorf("weight = %d, want 9", got.Weight)
	}
	if got.Host != "a.example.com" || got.Status != StatusActive {
		t.Errorf("untouched fields changed: %+v", got)
	}

	if _, err := m.UpdateDomain(ctx, "missing", &UpdateDomainRequest{Weight: &w}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	bad := -1
	if _, err := m.UpdateDomain(ctx, "a", &UpdateDomainRequest{Weight: &bad}); !errors.Is(err, ErrRejected) {
		t.Errorf("negative weight: err = %v, want ErrRejected", err)
	}
}

func TestToggleDomainStatus(t *testing.T) {
	store := newMemStore()
	m := newTestManager(store)
	ctx := context.Background()
	seedDomains(t, store,
		dom("a", 1, 1, StatusActive),
		dom("b", 2, 1, StatusBanned),
		dom("c", 3, 1, StatusTesting),
	)

	got, err := m.ToggleDomainStatus(ctx, "a")
	if err != nil {
		t.Fatalf("toggle active: %v", err)
	}
	if got.Status != StatusInactive {
		t.Errorf("status = %s, want inactive", got.Status)
	}
	got, err = m.ToggleDomainStatus(ctx, "a")
	if err != nil {
		t.Fatalf("toggle back: %v", err)
	}
	if got.Status != StatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}

	if _, err := m.ToggleDomainStatus(ctx, "b"); !errors.Is(err, ErrRejected) {
		t.Errorf("toggling banned: err = %v, want ErrRejected", err)
	}
	if _, err := m.ToggleDomainStatus(ctx, "c"); !errors.Is(err, ErrRejected) {
		t.Errorf("toggling testing: err = %v, want ErrRejected", err)
	}
}

func TestDeleteDomainAdjustsCursor(t *testing.T) {
	tests := []struct {
		name       string
		cursor     int
		deleteID   string // a=order1 b=order2 c=order3
		wantCursor int
	}{
		{"deleted order below cursor", 3, "a", 2},
		{"deleted order equals cursor", 2, "b", 2},
		{"deleted order above cursor", 1, "c", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			m := newTestManager(store)
			ctx := context.Background()
			cfg := activeConfig()
			cfg.RoundRobinCursor = tt.cursor
			store.SaveConfig(ctx, cfg)
			seedDomains(t, store,
				dom("a", 1, 1, StatusActive),
				dom("b", 2, 1, StatusActive),
				dom("c", 3, 1, StatusActive),
			)

			if err := m.DeleteDomain(ctx, tt.deleteID); err != nil {
				t.Fatalf("DeleteDomain: %v", err)
			}
			got, _ := store.GetConfig(ctx)
			if got.RoundRobinCursor != tt.wantCursor {
				t.Errorf("cursor = %d, want %d", got.RoundRobinCursor, tt.wantCursor)
			}
			if d, _ := store.GetDomain(ctx, tt.deleteID); d != nil {
				t.Errorf("domain %s still present after delete", tt.deleteID)
			}
		})
	}
}

func TestDeleteDomainCascadesBindings(t *testing.T) {
	store := newMemStore()
	cleaner := &fakeCleaner{}
	m := newTestManager(store).WithBindingCleaner(cleaner)
	ctx := context.Background()
	seedDomains(t, store, dom("a", 1, 1, StatusActive))

	if err := m.DeleteDomain(ctx, "a"); err != nil {
		t.Fatalf("DeleteDomain: %v", err)
	}
	if len(cleaner.removed) != 1 || cleaner.removed[0] != "a" {
		t.Errorf("binding cleanup = %v, want [a]", cleaner.removed)
	}

	if err := m.DeleteDomain(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSelectDomainRoundRobin(t *testing.T) {
	store := newMemStore()
	m := newTestManager(store)
	ctx := context.Background()
	store.SaveConfig(ctx, activeConfig())
	seedDomains(t, store,
		dom("a", 1, 1, StatusActive),
		dom("b", 2, 1, StatusActive),
		dom("c", 3, 1, StatusBanned),
	)

	// banned c is invisible: the rotation is a, b, a, b ...
	wantOrder := []string{"a", "b", "a", "b"}
	for i, want := range wantOrder {
		sel, err := m.SelectDomain(ctx)
		if err != nil {
			t.Fatalf("select %d: %v", i, err)
		}
		if sel.DomainID != want {
			t.Errorf("select %d = %s, want %s", i, sel.DomainID, want)
		}
	}

	cfg, _ := store.GetConfig(ctx)
	if cfg.RoundRobinCursor != 1 {
		t.Errorf("persisted cursor = %d, want 1", cfg.RoundRobinCursor)
	}
	a, _ := store.GetDomain(ctx, "a")
	if a.TotalRequests != 2 {
		t.Errorf("a.TotalRequests = %d, want 2", a.TotalRequests)
	}
}

func TestSelectDomainUnavailable(t *testing.T) {
	ctx := context.Background()

	t.Run("pool disabled", func(t *testing.T) {
		store := newMemStore()
		cfg := activeConfig()
		cfg.IsActive = false
		store.SaveConfig(ctx, cfg)
		seedDomains(t, store, dom("a", 1, 1, StatusActive))
		m := newTestManager(store)
		if _, err := m.SelectDomain(ctx); !errors.Is(err, ErrUnavailable) {
			t.Errorf("err = %v, want ErrUnavailable", err)
		}
	})

	t.Run("no active domains", func(t *testing.T) {
		store := newMemStore()
		store.SaveConfig(ctx, activeConfig())
		seedDomains(t, store, dom("a", 1, 1, StatusBanned), dom("b", 2, 1, StatusTesting))
		m := newTestManager(store)
		if _, err := m.SelectDomain(ctx); !errors.Is(err, ErrUnavailable) {
			t.Errorf("err = %v, want ErrUnavailable", err)
		}
	})

	t.Run("empty pool creates default config", func(t *testing.T) {
		store := newMemStore()
		m := newTestManager(store)
		if _, err := m.SelectDomain(ctx); !errors.Is(err, ErrUnavailable) {
			t.Errorf("err = %v, want ErrUnavailable", err)
		}
		if cfg, _ := store.GetConfig(ctx); cfg == nil {
			t.Error("default config was not persisted")
		}
	})
}

func TestSelectDomainWeighted(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	cfg := activeConfig()
	cfg.Strategy = StrategyWeighted
	store.SaveConfig(ctx, cfg)
	seedDomains(t, store,
		dom("light", 1, 1, StatusActive),
		dom("heavy", 2, 9, StatusActive),
	)
	m := newTestManager(store)

	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		sel, err := m.SelectDomain(ctx)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		counts[sel.DomainID]++
	}
	if counts["heavy"] <= counts["light"] {
		t.Errorf("weighted selection ignored weights: %v", counts)
	}
}

func TestReportRequestFailureBansAtThreshold(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	cfg := activeConfig()
	cfg.MaxFailures = 3
	store.SaveConfig(ctx, cfg)
	seedDomains(t, store, dom("a", 1, 1, StatusActive))
	m := newTestManager(store)

	for i := 0; i < 2; i++ {
		if err := m.ReportRequestFailure(ctx, "a"); err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
	}
	d, _ := store.GetDomain(ctx, "a")
	if d.Status != StatusActive {
		t.Fatalf("banned below threshold: status = %s", d.Status)
	}
	if d.ConsecutiveFailures != 2 || d.TotalFailures != 2 {
		t.Errorf("counters = %d/%d, want 2/2", d.ConsecutiveFailures, d.TotalFailures)
	}

	if err := m.ReportRequestFailure(ctx, "a"); err != nil {
		t.Fatalf("third failure: %v", err)
	}
	d, _ = store.GetDomain(ctx, "a")
	if d.Status != StatusBanned {
		t.Errorf("status = %s, want banned at threshold", d.Status)
	}
	if d.LastFailedAt == nil {
		t.Error("LastFailedAt not set")
	}

	// further failures keep counting but the ban is already in place
	if err := m.ReportRequestFailure(ctx, "a"); err != nil {
		t.Fatalf("failure after ban: %v", err)
	}
	d, _ = store.GetDomain(ctx, "a")
	if d.Status != StatusBanned || d.ConsecutiveFailures != 4 {
		t.Errorf("after-ban state = %s/%d, want banned/4", d.Status, d.ConsecutiveFailures)
	}
}

func TestReportHealthCheckFailureIsNonPunitive(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	store.SaveConfig(ctx, activeConfig())
	seedDomains(t, store, dom("a", 1, 1, StatusActive))
	m := newTestManager(store)

	for i := 0; i < 10; i++ {
		if err := m.ReportHealthCheckFailure(ctx, "a"); err != nil {
			t.Fatalf("probe failure %d: %v", i, err)
		}
	}
	d, _ := store.GetDomain(ctx, "a")
	if d.Status != StatusActive {
		t.Errorf("status = %s, probe failures must not change status", d.Status)
	}
	if d.ConsecutiveFailures != 0 {
		t.Errorf("consecutive failures = %d, probe failures must not count toward bans", d.ConsecutiveFailures)
	}
	if d.TotalFailures != 10 {
		t.Errorf("total failures = %d, want 10", d.TotalFailures)
	}
	if d.LastCheckedAt == nil || d.LastFailedAt == nil {
		t.Error("probe timestamps not recorded")
	}
}

func TestReportSuccessPromotes(t *testing.T) {
	tests := []struct {
		name string
		from Status
		want Status
	}{
		{"banned recovers", StatusBanned, StatusActive},
		{"testing passes probation", StatusTesting, StatusActive},
		{"active stays active", StatusActive, StatusActive},
		{"inactive stays inactive", StatusInactive, StatusInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			ctx := context.Background()
			d := dom("a", 1, 1, tt.from)
			d.ConsecutiveFailures = 5
			seedDomains(t, store, d)
			m := newTestManager(store)

			if err := m.ReportSuccess(ctx, "a"); err != nil {
				t.Fatalf("ReportSuccess: %v", err)
			}
			got, _ := store.GetDomain(ctx, "a")
			if got.Status != tt.want {
				t.Errorf("status = %s, want %s", got.Status, tt.want)
			}
			if got.ConsecutiveFailures != 0 {
				t.Errorf("consecutive failures = %d, want reset to 0", got.ConsecutiveFailures)
			}
		})
	}
}

func TestGetStatistics(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	a := dom("a", 1, 1, StatusActive)
	a.TotalRequests, a.TotalFailures = 90, 10
	b := dom("b", 2, 1, StatusBanned)
	b.TotalRequests, b.TotalFailures = 10, 10
	seedDomains(t, store, a, b, dom("c", 3, 1, StatusTesting))
	m := newTestManager(store)

	stats, err := m.GetStatistics(ctx)
	if err != nil {
		t.Fatalf("GetStatistics: %v", err)
	}
	if stats.TotalDomains != 3 || stats.ActiveDomains != 1 || stats.BannedDomains != 1 || stats.TestingDomains != 1 {
		t.Errorf("counts = %+v", stats)
	}
	if stats.TotalRequests != 100 || stats.TotalFailures != 20 {
		t.Errorf("totals = %d/%d, want 100/20", stats.TotalRequests, stats.TotalFailures)
	}
	if stats.SuccessRate != 0.8 {
		t.Errorf("success rate = %.2f, want 0.80", stats.SuccessRate)
	}
}

func TestGetStatisticsEmptyPool(t *testing.T) {
	m := newTestManager(newMemStore())
	stats, err := m.GetStatistics(context.Background())
	if err != nil {
		t.Fatalf("GetStatistics: %v", err)
	}
	if stats.SuccessRate != 1 {
		t.Errorf("success rate = %.2f, want 1 with zero requests", stats.SuccessRate)
	}
}

func TestPoolConfigLifecycle(t *testing.T) {
	store := newMemStore()
	m := newTestManager(store)
	ctx := context.Background()

	cfg, err := m.GetPoolConfig(ctx)
	if err != nil {
		t.Fatalf("GetPoolConfig: %v", err)
	}
	if cfg.Strategy != StrategyRoundRobin || !cfg.IsActive {
		t.Errorf("unexpected defaults: %+v", cfg)
	}

	strat := StrategyWeighted
	maxF := 5
	got, err := m.UpdatePoolConfig(ctx, &UpdatePoolConfigRequest{Strategy: &strat, MaxFailures: &maxF})
	if err != nil {
		t.Fatalf("UpdatePoolConfig: %v", err)
	}
	if got.Strategy != StrategyWeighted || got.MaxFailures != 5 {
		t.Errorf("update not applied: %+v", got)
	}
	if got.HealthCheckInterval != cfg.HealthCheckInterval {
		t.Errorf("untouched field changed: %d", got.HealthCheckInterval)
	}

	bad := Strategy("fastest")
	if _, err := m.UpdatePoolConfig(ctx, &UpdatePoolConfigRequest{Strategy: &bad}); !errors.Is(err, ErrRejected) {
		t.Errorf("err = %v, want ErrRejected", err)
	}
}

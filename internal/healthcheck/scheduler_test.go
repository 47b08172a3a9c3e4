package healthcheck

import (
	"context"
	"testing"
	"time"

	"github.com/linkos-dev/linkos/internal/domainpool"
)

type fakePool struct {
	cfg     *domainpool.PoolConfig
	domains []*domainpool.Domain

	successes     []string
	probeFailures []string
	reqFailures   []string
}

func (f *fakePool) GetPoolConfig(ctx context.Context) (*domainpool.PoolConfig, error) {
	return f.cfg, nil
}

func (f *fakePool) ListDomains(ctx context.Context) ([]*domainpool.Domain, error) {
	return f.domains, nil
}

func (f *fakePool) ReportSuccess(ctx context.Context, id string) error {
	f.successes = append(f.successes, id)
	return nil
}

func (f *fakePool) ReportHealthCheckFailure(ctx context.Context, id string) error {
	f.probeFailures = append(f.probeFailures, id)
	return nil
}

func (f *fakePool) ReportRequestFailure(ctx context.Context, id string) error {
	f.reqFailures = append(f.reqFailures, id)
	return nil
}

// fakeProber marks the hosts listed in down as unhealthy.
type fakeProber struct {
	down   map[string]bool
	probed []string
}

func (f *fakeProber) Probe(ctx context.Context, d *domainpool.Domain) Result {
	f.probed = append(f.probed, d.ID)
	return Result{
		DomainID:  d.ID,
		Host:      d.Host,
		Healthy:   !f.down[d.ID],
		CheckedAt: time.Now(),
	}
}

func poolDomain(id string, status domainpool.Status) *domainpool.Domain {
	return &domainpool.Domain{ID: id, Host: id + ".example.com",
		Protocol: domainpool.ProtocolHTTPS, Status: status, HealthCheckPath: "/health"}
}

func activeCfg() *domainpool.PoolConfig {
	return &domainpool.PoolConfig{IsActive: true, HealthCheckInterval: 300}
}

func TestRunCycleReportsNonPunitively(t *testing.T) {
	pool := &fakePool{
		cfg: activeCfg(),
		domains: []*domainpool.Domain{
			poolDomain("up", domainpool.StatusActive),
			poolDomain("down", domainpool.StatusActive),
			poolDomain("testing", domainpool.StatusTesting),
			poolDomain("off", domainpool.StatusInactive),
		},
	}
	prober := &fakeProber{down: map[string]bool{"down": true}}
	s := &Scheduler{pool: pool, prober: prober}

	s.runCycle(context.Background())

	// every domain is probed, inactive ones included
	if len(prober.probed) != 4 {
		t.Errorf("probed %d domains, want all 4: %v", len(prober.probed), prober.probed)
	}
	probedOff := false
	for _, id := range prober.probed {
		if id == "off" {
			probedOff = true
		}
	}
	if !probedOff {
		t.Error("inactive domain was not probed")
	}
	if len(pool.successes) != 3 {
		t.Errorf("successes = %v, want [up testing off]", pool.successes)
	}
	if len(pool.probeFailures) != 1 || pool.probeFailures[0] != "down" {
		t.Errorf("probe failures = %v, want [down]", pool.probeFailures)
	}
	if len(pool.reqFailures) != 0 {
		t.Errorf("background cycle used the punitive report: %v", pool.reqFailures)
	}
}

func TestRunCycleSkipsInactivePool(t *testing.T) {
	cfg := activeCfg()
	cfg.IsActive = false
	pool := &fakePool{cfg: cfg, domains: []*domainpool.Domain{poolDomain("a", domainpool.StatusActive)}}
	prober := &fakeProber{}
	s := &Scheduler{pool: pool, prober: prober}

	s.runCycle(context.Background())
	if len(prober.probed) != 0 {
		t.Errorf("disabled pool still probed: %v", prober.probed)
	}
}

func TestManualCheckIsPunitive(t *testing.T) {
	pool := &fakePool{
		cfg: activeCfg(),
		domains: []*domainpool.Domain{
			poolDomain("up", domainpool.StatusActive),
			poolDomain("down", domainpool.StatusActive),
		},
	}
	prober := &fakeProber{down: map[string]bool{"down": true}}
	s := &Scheduler{pool: pool, prober: prober}

	results, err := s.RunManualCheck(context.Background())
	if err != nil {
		t.Fatalf("RunManualCheck: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if len(pool.reqFailures) != 1 || pool.reqFailures[0] != "down" {
		t.Errorf("request failures = %v, want [down]", pool.reqFailures)
	}
	if len(pool.probeFailures) != 0 {
		t.Errorf("manual check used the non-punitive report: %v", pool.probeFailures)
	}
	if len(pool.successes) != 1 || pool.successes[0] != "up" {
		t.Errorf("successes = %v, want [up]", pool.successes)
	}
}

func TestIntervalFallsBackOnBadConfig(t *testing.T) {
	pool := &fakePool{cfg: &domainpool.PoolConfig{IsActive: true, HealthCheckInterval: 0}}
	s := &Scheduler{pool: pool, prober: &fakeProber{}}
	if got := s.interval(context.Background()); got != defaultInterval {
		t.Errorf("interval = %v, want default %v", got, defaultInterval)
	}

	pool.cfg.HealthCheckInterval = 45
	if got := s.interval(context.Background()); got != 45*time.Second {
		t.Errorf("interval = %v, want 45s", got)
	}
}

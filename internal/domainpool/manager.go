package domainpool

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/linkos-dev/linkos/internal/metrics"
)

// BindingCleaner removes the binding records of a deleted domain. Implemented
// by the binding store; kept as a local interface so the pool does not depend
// on the binding package.
type BindingCleaner interface {
	RemoveByDomain(ctx context.Context, domainID string) error
}

// Manager owns the domain registry, the selection engine and the failure
// tracker. All mutations go through Store.WithTx so concurrent callers see
// serialized read-modify-write on each record.
type Manager struct {
	store    Store
	bindings BindingCleaner

	mu  sync.Mutex
	rng *rand.Rand
}

func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithBindingCleaner wires the binding index so domain deletion can cascade.
func (m *Manager) WithBindingCleaner(b BindingCleaner) *Manager {
	m.bindings = b
	return m
}

// GetPoolConfig returns the pool config, creating the default row on first
// access.
func (m *Manager) GetPoolConfig(ctx context.Context) (*PoolConfig, error) {
	var out *PoolConfig
	err := m.store.WithTx(ctx, func(s Store) error {
		cfg, err := s.GetConfig(ctx)
		if err != nil {
			return err
		}
		if cfg == nil {
			cfg = defaultPoolConfig(time.Now())
			if err := s.SaveConfig(ctx, cfg); err != nil {
				return err
			}
		}
		out = cfg
		return nil
	})
	return out, err
}

// UpdatePoolConfig applies a partial config update; nil fields are kept.
func (m *Manager) UpdatePoolConfig(ctx context.Context, req *UpdatePoolConfigRequest) (*PoolConfig, error) {
	if req.Strategy != nil && !req.Strategy.valid() {
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrRejected, *req.Strategy)
	}
	var out *PoolConfig
	err := m.store.WithTx(ctx, func(s Store) error {
		cfg, err := s.GetConfig(ctx)
		if err != nil {
			return err
		}
		if cfg == nil {
			cfg = defaultPoolConfig(time.Now())
		}
		if req.Strategy != nil {
			cfg.Strategy = *req.Strategy
		}
		if req.MaxFailures != nil {
			cfg.MaxFailures = *req.MaxFailures
		}
		if req.HealthCheckInterval != nil {
			cfg.HealthCheckInterval = *req.HealthCheckInterval
		}
		if req.RetryInterval != nil {
			cfg.RetryInterval = *req.RetryInterval
		}
		if req.IsActive != nil {
			cfg.IsActive = *req.IsActive
		}
		cfg.UpdatedAt = time.Now()
		if err := s.SaveConfig(ctx, cfg); err != nil {
			return err
		}
		out = cfg
		return nil
	})
	return out, err
}

// ListDomains returns every domain ordered by (order, id).
func (m *Manager) ListDomains(ctx context.Context) ([]*Domain, error) {
	return m.store.ListDomains(ctx)
}

func (m *Manager) GetDomain(ctx context.Context, id string) (*Domain, error) {
	d, err := m.store.GetDomain(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrNotFound
	}
	return d, nil
}

// AddDomain registers a new domain. It enters in testing status and is
// promoted to active by its first successful health probe.
func (m *Manager) AddDomain(ctx context.Context, req *AddDomainRequest) (*Domain, error) {
	if req.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrRejected)
	}
	if req.Protocol != ProtocolHTTP && req.Protocol != ProtocolHTTPS {
		return nil, fmt.Errorf("%w: protocol must be http or https", ErrRejected)
	}
	if req.Weight != nil && *req.Weight <= 0 {
		return nil, fmt.Errorf("%w: weight must be positive", ErrRejected)
	}

	now := time.Now()
	d := &Domain{
		ID:              uuid.New().String(),
		Host:            req.Host,
		Protocol:        req.Protocol,
		Status:          StatusTesting,
		Weight:          1,
		HealthCheckPath: "/health",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.Weight != nil {
		d.Weight = *req.Weight
	}
	if req.HealthCheckPath != "" {
		d.HealthCheckPath = req.HealthCheckPath
	}

	err := m.store.WithTx(ctx, func(s Store) error {
		if req.Order != nil {
			d.Order = *req.Order
		} else {
			existing, err := s.ListDomains(ctx)
			if err != nil {
				return err
			}
			maxOrder := 0
			for _, e := range existing {
				if e.Order > maxOrder {
					maxOrder = e.Order
				}
			}
			d.Order = maxOrder + 1
		}
		return s.InsertDomain(ctx, d)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("domain_id", d.ID).Str("host", d.Host).Msg("domain added to pool")
	return d, nil
}

// UpdateDomain applies a partial update; nil fields are kept.
func (m *Manager) UpdateDomain(ctx context.Context, id string, req *UpdateDomainRequest) (*Domain, error) {
	if req.Status != nil && !req.Status.valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrRejected, *req.Status)
	}
	if req.Protocol != nil && *req.Protocol != ProtocolHTTP && *req.Protocol != ProtocolHTTPS {
		return nil, fmt.Errorf("%w: protocol must be http or https", ErrRejected)
	}
	if req.Weight != nil && *req.Weight <= 0 {
		return nil, fmt.Errorf("%w: weight must be positive", ErrRejected)
	}

	var out *Domain
	err := m.store.WithTx(ctx, func(s Store) error {
		d, err := s.GetDomain(ctx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return ErrNotFound
		}
		if req.Host != nil {
			d.Host = *req.Host
		}
		if req.Protocol != nil {
			d.Protocol = *req.Protocol
		}
		if req.Status != nil {
			d.Status = *req.Status
		}
		if req.Weight != nil {
			d.Weight = *req.Weight
		}
		if req.Order != nil {
			d.Order = *req.Order
		}
		if req.HealthCheckPath != nil {
			d.HealthCheckPath = *req.HealthCheckPath
		}
		d.UpdatedAt = time.Now()
		if err := s.UpdateDomain(ctx, d); err != nil {
			return err
		}
		out = d
		return nil
	})
	return out, err
}

// DeleteDomain removes a domain and keeps the round-robin cursor consistent:
// when the deleted domain's order is below the cursor every later domain
// shifts down by one position, so the cursor moves down with them.
func (m *Manager) DeleteDomain(ctx context.Context, id string) error {
	err := m.store.WithTx(ctx, func(s Store) error {
		d, err := s.GetDomain(ctx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return ErrNotFound
		}
		cfg, err := s.GetConfig(ctx)
		if err != nil {
			return err
		}
		if cfg != nil && d.Order < cfg.RoundRobinCursor {
			cfg.RoundRobinCursor--
			if cfg.RoundRobinCursor < 0 {
				cfg.RoundRobinCursor = 0
			}
			cfg.UpdatedAt = time.Now()
			if err := s.SaveConfig(ctx, cfg); err != nil {
				return err
			}
		}
		_, err = s.DeleteDomain(ctx, id)
		return err
	})
	if err != nil {
		return err
	}

	if m.bindings != nil {
		if err := m.bindings.RemoveByDomain(ctx, id); err != nil {
			log.Error().Err(err).Str("domain_id", id).Msg("failed to clean up bindings for deleted domain")
		}
	}
	log.Info().Str("domain_id", id).Msg("domain removed from pool")
	return nil
}

// ToggleDomainStatus flips a domain between active and inactive. Banned and
// testing domains are owned by the failure tracker and health monitor and
// cannot be toggled by hand.
func (m *Manager) ToggleDomainStatus(ctx context.Context, id string) (*Domain, error) {
	var out *Domain
	err := m.store.WithTx(ctx, func(s Store) error {
		d, err := s.GetDomain(ctx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return ErrNotFound
		}
		switch d.Status {
		case StatusActive:
			d.Status = StatusInactive
		case StatusInactive:
			d.Status = StatusActive
		default:
			return fmt.Errorf("%w: cannot toggle a %s domain", ErrRejected, d.Status)
		}
		d.UpdatedAt = time.Now()
		if err := s.UpdateDomain(ctx, d); err != nil {
			return err
		}
		out = d
		return nil
	})
	return out, err
}

// SelectDomain picks one domain from the active set using the configured
// strategy, counting the request against the chosen domain. Returns
// ErrUnavailable when the pool is inactive or nothing is selectable.
func (m *Manager) SelectDomain(ctx context.Context) (*Selection, error) {
	var out *Selection
	err := m.store.WithTx(ctx, func(s Store) error {
		cfg, err := s.GetConfig(ctx)
		if err != nil {
			return err
		}
		if cfg == nil {
			cfg = defaultPoolConfig(time.Now())
			if err := s.SaveConfig(ctx, cfg); err != nil {
				return err
			}
		}
		if !cfg.IsActive {
			metrics.ObserveSelection(string(cfg.Strategy), false)
			return fmt.Errorf("%w: pool is disabled", ErrUnavailable)
		}

		all, err := s.ListDomains(ctx)
		if err != nil {
			return err
		}
		active := activeDomains(all)
		if len(active) == 0 {
			metrics.ObserveSelection(string(cfg.Strategy), false)
			return ErrUnavailable
		}

		var chosen *Domain
		switch cfg.Strategy {
		case StrategyRandom:
			chosen = m.pickRandom(active)
		case StrategyWeighted:
			sortByOrder(active)
			chosen = m.pickWeighted(active)
		default: // round-robin
			sortByOrder(active)
			var next int
			chosen, next = pickRoundRobin(active, cfg.RoundRobinCursor)
			cfg.RoundRobinCursor = next
			cfg.UpdatedAt = time.Now()
			if err := s.SaveConfig(ctx, cfg); err != nil {
				return err
			}
		}

		chosen.TotalRequests++
		chosen.UpdatedAt = time.Now()
		if err := s.UpdateDomain(ctx, chosen); err != nil {
			return err
		}
		metrics.ObserveSelection(string(cfg.Strategy), true)
		out = &Selection{DomainID: chosen.ID, Host: chosen.Host, Protocol: chosen.Protocol}
		return nil
	})
	return out, err
}

// rand.Rand is not safe for concurrent use; the picks run under the lock.

func (m *Manager) pickRandom(domains []*Domain) *Domain {
	m.mu.Lock()
	defer m.mu.Unlock()
	return pickRandom(domains, m.rng)
}

func (m *Manager) pickWeighted(domains []*Domain) *Domain {
	m.mu.Lock()
	defer m.mu.Unlock()
	return pickWeighted(domains, m.rng)
}

// ReportRequestFailure records a user-facing delivery failure. Consecutive
// failures at or above the configured threshold ban the domain.
func (m *Manager) ReportRequestFailure(ctx context.Context, id string) error {
	return m.store.WithTx(ctx, func(s Store) error {
		cfg, err := s.GetConfig(ctx)
		if err != nil {
			return err
		}
		maxFailures := 3
		if cfg != nil {
			maxFailures = cfg.MaxFailures
		}
		d, err := s.GetDomain(ctx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return ErrNotFound
		}
		now := time.Now()
		d.ConsecutiveFailures++
		d.TotalFailures++
		d.LastFailedAt = &now
		d.UpdatedAt = now
		if d.ConsecutiveFailures >= maxFailures && d.Status != StatusBanned {
			d.Status = StatusBanned
			metrics.ObserveDomainBan()
			log.Warn().Str("domain_id", d.ID).Str("host", d.Host).
				Int("consecutive_failures", d.ConsecutiveFailures).
				Msg("domain banned after repeated request failures")
		}
		return s.UpdateDomain(ctx, d)
	})
}

// ReportHealthCheckFailure records a failed background probe. It counts
// toward total failures only; probe failures never change status, so a
// domain that is reachable by users but not by the prober keeps serving.
func (m *Manager) ReportHealthCheckFailure(ctx context.Context, id string) error {
	return m.store.WithTx(ctx, func(s Store) error {
		d, err := s.GetDomain(ctx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return ErrNotFound
		}
		now := time.Now()
		d.TotalFailures++
		d.LastCheckedAt = &now
		d.LastFailedAt = &now
		d.UpdatedAt = now
		return s.UpdateDomain(ctx, d)
	})
}

// ReportSuccess records a successful probe or delivery: the consecutive
// failure counter resets, and banned or testing domains are promoted back
// to active.
func (m *Manager) ReportSuccess(ctx context.Context, id string) error {
	return m.store.WithTx(ctx, func(s Store) error {
		d, err := s.GetDomain(ctx, id)
		if err != nil {
			return err
		}
		if d == nil {
			return ErrNotFound
		}
		now := time.Now()
		d.ConsecutiveFailures = 0
		d.LastCheckedAt = &now
		d.UpdatedAt = now
		if d.Status == StatusBanned || d.Status == StatusTesting {
			log.Info().Str("domain_id", d.ID).Str("host", d.Host).
				Str("from", string(d.Status)).Msg("domain promoted to active")
			d.Status = StatusActive
		}
		return s.UpdateDomain(ctx, d)
	})
}

// GetStatistics aggregates pool-wide counters for the dashboard.
func (m *Manager) GetStatistics(ctx context.Context) (*Statistics, error) {
	all, err := m.store.ListDomains(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Statistics{TotalDomains: len(all)}
	for _, d := range all {
		switch d.Status {
		case StatusActive:
			stats.ActiveDomains++
		case StatusBanned:
			stats.BannedDomains++
		case StatusInactive:
			stats.InactiveDomains++
		case StatusTesting:
			stats.TestingDomains++
		}
		stats.TotalRequests += d.TotalRequests
		stats.TotalFailures += d.TotalFailures
	}
	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.TotalRequests-stats.TotalFailures) / float64(stats.TotalRequests)
		if stats.SuccessRate < 0 {
			stats.SuccessRate = 0
		}
	} else {
		stats.SuccessRate = 1
	}
	return stats, nil
}

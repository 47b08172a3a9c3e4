package healthcheck

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/linkos-dev/linkos/internal/domainpool"
	"github.com/linkos-dev/linkos/internal/metrics"
)

// PoolManager is the slice of the pool the monitor needs.
type PoolManager interface {
	GetPoolConfig(ctx context.Context) (*domainpool.PoolConfig, error)
	ListDomains(ctx context.Context) ([]*domainpool.Domain, error)
	ReportSuccess(ctx context.Context, id string) error
	ReportHealthCheckFailure(ctx context.Context, id string) error
	ReportRequestFailure(ctx context.Context, id string) error
}

type prober interface {
	Probe(ctx context.Context, d *domainpool.Domain) Result
}

// Scheduler drives the background health monitor. Probe failures feed the
// non-punitive report so a flaky monitoring path never bans a serving
// domain; only the manual admin check is punitive.
type Scheduler struct {
	pool   PoolManager
	prober prober
}

func NewScheduler(pool PoolManager, p *Prober) *Scheduler {
	return &Scheduler{pool: pool, prober: p}
}

const defaultInterval = 300 * time.Second

// Run blocks until ctx is cancelled. One full cycle runs immediately so a
// fresh deployment gets health state without waiting out the first interval;
// the interval is re-read from the pool config before every sleep, so config
// changes take effect on the next cycle.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info().Msg("health check scheduler started")
	s.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("health check scheduler stopped")
			return
		case <-time.After(s.interval(ctx)):
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) interval(ctx context.Context) time.Duration {
	cfg, err := s.pool.GetPoolConfig(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to read pool config for health check interval")
		return defaultInterval
	}
	if cfg.HealthCheckInterval <= 0 {
		return defaultInterval
	}
	return time.Duration(cfg.HealthCheckInterval) * time.Second
}

func (s *Scheduler) runCycle(ctx context.Context) {
	cfg, err := s.pool.GetPoolConfig(ctx)
	if err != nil {
		log.Error().Err(err).Msg("health check cycle skipped: cannot read pool config")
		return
	}
	if !cfg.IsActive {
		log.Debug().Msg("pool disabled, skipping health check cycle")
		return
	}

	domains, err := s.pool.ListDomains(ctx)
	if err != nil {
		log.Error().Err(err).Msg("health check cycle skipped: cannot list domains")
		return
	}

	// every domain is probed regardless of status, so inactive and testing
	// domains keep fresh health state and can recover
	checked, unhealthy := 0, 0
	for _, d := range domains {
		if ctx.Err() != nil {
			return
		}
		res := s.prober.Probe(ctx, d)
		checked++
		metrics.ObserveHealthCheck(d.Host, res.Healthy)
		if res.Healthy {
			if err := s.pool.ReportSuccess(ctx, d.ID); err != nil {
				log.Error().Err(err).Str("domain_id", d.ID).Msg("failed to record probe success")
			}
			continue
		}
		unhealthy++
		log.Warn().Str("domain_id", d.ID).Str("host", d.Host).
			Int("status_code", res.StatusCode).Str("probe_error", res.Error).
			Msg("health probe failed")
		if err := s.pool.ReportHealthCheckFailure(ctx, d.ID); err != nil {
			log.Error().Err(err).Str("domain_id", d.ID).Msg("failed to record probe failure")
		}
	}
	log.Debug().Int("checked", checked).Int("unhealthy", unhealthy).Msg("health check cycle finished")
}

// RunManualCheck probes every domain right away and returns the per-domain
// report. Unlike the background loop it reports failures punitively, since
// an operator asking "is this pool healthy" wants bad domains banned now.
func (s *Scheduler) RunManualCheck(ctx context.Context) ([]Result, error) {
	domains, err := s.pool.ListDomains(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(domains))
	for _, d := range domains {
		res := s.prober.Probe(ctx, d)
		metrics.ObserveHealthCheck(d.Host, res.Healthy)
		if res.Healthy {
			if err := s.pool.ReportSuccess(ctx, d.ID); err != nil {
				log.Error().Err(err).Str("domain_id", d.ID).Msg("failed to record manual check success")
			}
		} else {
			if err := s.pool.ReportRequestFailure(ctx, d.ID); err != nil {
				log.Error().Err(err).Str("domain_id", d.ID).Msg("failed to record manual check failure")
			}
		}
		results = append(results, res)
	}
	return results, nil
}

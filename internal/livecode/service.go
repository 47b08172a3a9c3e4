package livecode

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/linkos-dev/linkos/internal/analytics"
	"github.com/linkos-dev/linkos/internal/binding"
	"github.com/linkos-dev/linkos/internal/domainpool"
)

// DomainPool is the slice of the pool manager the live-code side needs.
type DomainPool interface {
	GetDomain(ctx context.Context, id string) (*domainpool.Domain, error)
	ListDomains(ctx context.Context) ([]*domainpool.Domain, error)
	SelectDomain(ctx context.Context) (*domainpool.Selection, error)
}

// VisitRecorder feeds the statistics trend. Satisfied by *analytics.Recorder.
type VisitRecorder interface {
	RecordVisit(ctx context.Context, liveCodeID, visitorKey string)
	Trend(ctx context.Context, liveCodeID string, days int) ([]analytics.TrendPoint, error)
}

// Service owns live codes: their sub-code rotation, their landing-domain
// configuration, and the per-visit domain selection with failover to the
// global pool.
type Service struct {
	store       Store
	pool        DomainPool
	bindings    binding.Store
	visits      VisitRecorder
	adminDomain string
	confirmCode string

	mu  sync.Mutex
	rng *rand.Rand
}

func NewService(store Store, pool DomainPool, bindings binding.Store, adminDomain, confirmCode string) *Service {
	return &Service{
		store:       store,
		pool:        pool,
		bindings:    bindings,
		adminDomain: adminDomain,
		confirmCode: confirmCode,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithVisitRecorder wires the analytics backend; without it, trends are empty.
func (s *Service) WithVisitRecorder(v VisitRecorder) *Service {
	s.visits = v
	return s
}

func (s *Service) randIntn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// Create registers a live code. The main URL is stable and points at the
// admin domain: the landing domain rotates per visit, but printed material
// carries this one link forever.
func (s *Service) Create(ctx context.Context, req *CreateLiveCodeRequest) (*LiveCode, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrRejected)
	}
	if len(req.SubCodes) == 0 {
		return nil, fmt.Errorf("%w: at least one sub code is required", ErrRejected)
	}
	switch req.DistributionMode {
	case ModeThreshold, ModeRandom, ModeFixed:
	default:
		return nil, fmt.Errorf("%w: unknown distribution mode %q", ErrRejected, req.DistributionMode)
	}

	now := time.Now()
	id := uuid.New().String()
	lc := &LiveCode{
		ID:               id,
		Name:             req.Name,
		Status:           StatusRunning,
		DistributionMode: req.DistributionMode,
		MainURL:          fmt.Sprintf("https://%s/api/link?id=%s", s.adminDomain, id),
		H5Title:          req.H5Title,
		H5Description:    req.H5Description,
		SubCodes:         make([]SubCode, 0, len(req.SubCodes)),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, sub := range req.SubCodes {
		status := sub.Status
		if status == "" {
			status = SubCodeEnabled
		}
		lc.SubCodes = append(lc.SubCodes, SubCode{
			ID:        uuid.New().String(),
			QRURL:     sub.QRURL,
			Threshold: sub.Threshold,
			Weight:    sub.Weight,
			Status:    status,
		})
	}

	if err := s.store.Insert(ctx, lc); err != nil {
		return nil, err
	}
	log.Info().Str("live_code_id", lc.ID).Str("name", lc.Name).Msg("live code created")
	return lc, nil
}

func (s *Service) List(ctx context.Context) ([]*LiveCode, error) {
	return s.store.List(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*LiveCode, error) {
	lc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if lc == nil {
		return nil, ErrNotFound
	}
	return lc, nil
}

// Update applies a partial edit. Replacing the sub-code list resets each
// sub-code's view counter, so a fresh rotation starts from zero.
func (s *Service) Update(ctx context.Context, id string, req *UpdateLiveCodeRequest) (*LiveCode, error) {
	if req.Status != nil && *req.Status != StatusRunning && *req.Status != StatusPaused {
		return nil, fmt.Errorf("%w: unknown status %q", ErrRejected, *req.Status)
	}

	var out *LiveCode
	renamed := false
	err := s.store.WithTx(ctx, func(st Store) error {
		lc, err := st.Get(ctx, id)
		if err != nil {
			return err
		}
		if lc == nil {
			return ErrNotFound
		}
		if req.Name != nil && *req.Name != lc.Name {
			lc.Name = *req.Name
			renamed = true
		}
		if req.DistributionMode != nil {
			lc.DistributionMode = *req.DistributionMode
		}
		if req.Status != nil {
			lc.Status = *req.Status
		}
		if req.H5Title != nil {
			lc.H5Title = *req.H5Title
		}
		if req.H5Description != nil {
			lc.H5Description = *req.H5Description
		}
		if req.SubCodes != nil {
			subs := make([]SubCode, 0, len(req.SubCodes))
			for _, sub := range req.SubCodes {
				sub.CurrentPV = 0
				if sub.ID == "" {
					sub.ID = uuid.New().String()
				}
				if sub.Status == "" {
					sub.Status = SubCodeEnabled
				}
				subs = append(subs, sub)
			}
			lc.SubCodes = subs
		}
		lc.UpdatedAt = time.Now()
		if err := st.Update(ctx, lc); err != nil {
			return err
		}
		out = lc
		return nil
	})
	if err != nil {
		return nil, err
	}

	if renamed {
		if err := s.bindings.UpdateLiveCodeName(ctx, id, out.Name); err != nil {
			log.Error().Err(err).Str("live_code_id", id).Msg("failed to propagate live code rename to bindings")
		}
	}
	return out, nil
}

// Delete removes a live code and its binding records.
func (s *Service) Delete(ctx context.Context, id string) error {
	existed, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !existed {
		return ErrNotFound
	}
	if err := s.bindings.RemoveByLiveCode(ctx, id); err != nil {
		log.Error().Err(err).Str("live_code_id", id).Msg("failed to clean up bindings for deleted live code")
	}
	log.Info().Str("live_code_id", id).Msg("live code deleted")
	return nil
}

// H5Content resolves the sub-code a visitor should see and counts the view.
// visitorKey (usually the client IP) feeds the unique-visitor sketch.
func (s *Service) H5Content(ctx context.Context, id, visitorKey string) (*H5Content, error) {
	var content *H5Content
	err := s.store.WithTx(ctx, func(st Store) error {
		lc, err := st.Get(ctx, id)
		if err != nil {
			return err
		}
		if lc == nil || lc.Status != StatusRunning {
			return ErrNotFound
		}
		idx, err := selectSubCode(lc, s.randIntn)
		if err != nil {
			return err
		}
		lc.TotalPV++
		lc.SubCodes[idx].CurrentPV++
		lc.UpdatedAt = time.Now()
		if err := st.Update(ctx, lc); err != nil {
			return err
		}

		title := lc.H5Title
		if title == "" {
			title = lc.Name
		}
		content = &H5Content{
			LiveCodeID:  id,
			Title:       title,
			QRCodeURL:   lc.SubCodes[idx].QRURL,
			Description: lc.H5Description,
			Status:      "active",
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.visits != nil {
		s.visits.RecordVisit(ctx, id, visitorKey)
	}
	return content, nil
}

// selectSubCode picks a sub-code index by the live code's distribution mode.
// Disabled sub-codes never show, and a live code with nothing enabled is
// rejected; when every enabled one is over its threshold the first enabled
// one keeps serving.
func selectSubCode(lc *LiveCode, randIntn func(int) int) (int, error) {
	if len(lc.SubCodes) == 0 {
		return 0, fmt.Errorf("%w: live code has no sub codes", ErrRejected)
	}
	enabled := make([]int, 0, len(lc.SubCodes))
	for i, sub := range lc.SubCodes {
		if sub.Status == SubCodeEnabled {
			enabled = append(enabled, i)
		}
	}
	if len(enabled) == 0 {
		return 0, fmt.Errorf("%w: live code has no enabled sub codes", ErrRejected)
	}

	switch lc.DistributionMode {
	case ModeRandom:
		return enabled[randIntn(len(enabled))], nil
	case ModeFixed:
		return enabled[0], nil
	default: // threshold
		for _, i := range enabled {
			sub := lc.SubCodes[i]
			if sub.Threshold <= 0 || sub.CurrentPV < int64(sub.Threshold) {
				return i, nil
			}
		}
		return enabled[0], nil
	}
}

func defaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		Mode:     BindCustomDomains,
		Strategy: domainpool.StrategyRoundRobin,
		Fallback: FallbackConfig{
			DomainIDs:     []string{},
			Priority:      []int{},
			SelectionMode: FallbackSequential,
			Stats:         FallbackStats{DomainStats: map[string]*DomainRedirectStats{}},
		},
	}
}

// normalizeDomainConfig backfills the config of live codes created before
// it existed, or with older shapes of the fallback block.
func normalizeDomainConfig(lc *LiveCode) *DomainConfig {
	if lc.DomainConfig == nil {
		lc.DomainConfig = defaultDomainConfig()
	}
	cfg := lc.DomainConfig
	fb := &cfg.Fallback
	if fb.SelectionMode == "" {
		fb.SelectionMode = FallbackSequential
	}
	if fb.DomainIDs == nil {
		fb.DomainIDs = []string{}
	}
	if fb.Priority == nil {
		fb.Priority = []int{}
	}
	if fb.Stats.DomainStats == nil {
		fb.Stats.DomainStats = map[string]*DomainRedirectStats{}
	}
	if cfg.Strategy == "" {
		cfg.Strategy = domainpool.StrategyRoundRobin
	}
	return cfg
}

// GetDomainConfig returns the live code's domain configuration with defaults
// backfilled.
func (s *Service) GetDomainConfig(ctx context.Context, id string) (*DomainConfig, error) {
	lc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return normalizeDomainConfig(lc), nil
}

// UpdateFallbackConfig replaces the fallback domain list and rotation mode.
// Every referenced domain must exist in the pool; the binding index is
// reconciled to the new list.
func (s *Service) UpdateFallbackConfig(ctx context.Context, id string, req *UpdateFallbackRequest) (*DomainConfig, error) {
	if req.SelectionMode != nil {
		switch *req.SelectionMode {
		case FallbackSequential, FallbackRandom, FallbackRoundRobin:
		default:
			return nil, fmt.Errorf("%w: unknown selection mode %q", ErrRejected, *req.SelectionMode)
		}
	}
	if req.DomainIDs != nil {
		seen := map[string]bool{}
		for _, did := range req.DomainIDs {
			if seen[did] {
				return nil, fmt.Errorf("%w: duplicate domain %s in fallback list", ErrRejected, did)
			}
			seen[did] = true
		}
		if len(req.Priority) > 0 && len(req.Priority) != len(req.DomainIDs) {
			return nil, fmt.Errorf("%w: priority list does not match domain list", ErrRejected)
		}
	}

	// resolve hosts up front; this also validates the ids
	hosts := map[string]string{}
	for _, did := range req.DomainIDs {
		d, err := s.pool.GetDomain(ctx, did)
		if errors.Is(err, domainpool.ErrNotFound) {
			return nil, fmt.Errorf("%w: fallback domain %s not in pool", ErrRejected, did)
		}
		if err != nil {
			return nil, err
		}
		hosts[did] = d.Host
	}

	var out *DomainConfig
	var oldIDs []string
	err := s.store.WithTx(ctx, func(st Store) error {
		lc, err := st.Get(ctx, id)
		if err != nil {
			return err
		}
		if lc == nil {
			return ErrNotFound
		}
		cfg := normalizeDomainConfig(lc)
		fb := &cfg.Fallback
		oldIDs = fb.DomainIDs
		if req.DomainIDs != nil {
			fb.DomainIDs = req.DomainIDs
			fb.Priority = req.Priority
			if fb.Priority == nil {
				fb.Priority = []int{}
			}
			fb.Cursor = 0
		}
		if req.SelectionMode != nil {
			fb.SelectionMode = *req.SelectionMode
		}
		if req.FailoverEnabled != nil {
			fb.FailoverEnabled = *req.FailoverEnabled
		}
		now := time.Now()
		fb.UpdatedAt = now
		lc.UpdatedAt = now
		if err := st.Update(ctx, lc); err != nil {
			return err
		}
		out = cfg
		return nil
	})
	if err != nil {
		return nil, err
	}

	if req.DomainIDs != nil {
		s.reconcileFallbackBindings(ctx, id, out, oldIDs, hosts)
	}
	return out, nil
}

func (s *Service) reconcileFallbackBindings(ctx context.Context, id string, cfg *DomainConfig, oldIDs []string, hosts map[string]string) {
	lc, err := s.store.Get(ctx, id)
	if err != nil || lc == nil {
		return
	}
	for _, did := range oldIDs {
		if err := s.bindings.Remove(ctx, did, id, binding.RoleFallback); err != nil {
			log.Error().Err(err).Str("domain_id", did).Str("live_code_id", id).Msg("failed to remove stale fallback binding")
		}
	}
	for i, did := range cfg.Fallback.DomainIDs {
		rec := &binding.Record{
			DomainID:     did,
			Host:         hosts[did],
			LiveCodeID:   id,
			LiveCodeName: lc.Name,
			Role:         binding.RoleFallback,
			BoundAt:      time.Now(),
		}
		if i < len(cfg.Fallback.Priority) {
			p := cfg.Fallback.Priority[i]
			rec.Priority = &p
		}
		if err := s.bindings.Record(ctx, rec); err != nil {
			log.Error().Err(err).Str("domain_id", did).Str("live_code_id", id).Msg("failed to record fallback binding")
		}
	}
}

// BindPrimary locks a pool domain as the live code's permanent entry domain.
// The operation needs explicit confirmation and only takes active domains;
// once locked it cannot be rebound.
func (s *Service) BindPrimary(ctx context.Context, id string, req *BindPrimaryRequest) (*DomainConfig, error) {
	if !req.Confirmed {
		return nil, fmt.Errorf("%w: binding a primary domain must be confirmed", ErrRejected)
	}
	d, err := s.pool.GetDomain(ctx, req.DomainID)
	if err != nil {
		return nil, err
	}
	if d.Status != domainpool.StatusActive {
		return nil, fmt.Errorf("%w: only active domains can be bound as primary", ErrRejected)
	}

	var out *DomainConfig
	err = s.store.WithTx(ctx, func(st Store) error {
		lc, err := st.Get(ctx, id)
		if err != nil {
			return err
		}
		if lc == nil {
			return ErrNotFound
		}
		cfg := normalizeDomainConfig(lc)
		if cfg.PrimaryDomain != nil && cfg.PrimaryDomain.Locked {
			return fmt.Errorf("%w: primary domain is locked", ErrRejected)
		}
		cfg.PrimaryDomain = &PrimaryDomain{
			DomainID:  d.ID,
			Host:      d.Host,
			Protocol:  d.Protocol,
			LockedAt:  time.Now(),
			Locked:    true,
			CanUnbind: false,
		}
		lc.UpdatedAt = time.Now()
		if err := st.Update(ctx, lc); err != nil {
			return err
		}
		out = cfg
		return nil
	})
	if err != nil {
		return nil, err
	}

	lc, _ := s.store.Get(ctx, id)
	name := ""
	if lc != nil {
		name = lc.Name
	}
	rec := &binding.Record{
		DomainID:     d.ID,
		Host:         d.Host,
		LiveCodeID:   id,
		LiveCodeName: name,
		Role:         binding.RolePrimary,
		BoundAt:      time.Now(),
	}
	if err := s.bindings.Record(ctx, rec); err != nil {
		log.Error().Err(err).Str("domain_id", d.ID).Str("live_code_id", id).Msg("failed to record primary binding")
	}
	log.Info().Str("live_code_id", id).Str("host", d.Host).Msg("primary domain bound and locked")
	return out, nil
}

// UnbindPrimary force-releases a locked primary domain. It requires the
// operator confirmation code; this is an admin escape hatch, not a UI flow.
func (s *Service) UnbindPrimary(ctx context.Context, id string, req *UnbindPrimaryRequest) (*DomainConfig, error) {
	if !req.ForceUnbind {
		return nil, fmt.Errorf("%w: force unbind flag is required", ErrRejected)
	}
	if req.ConfirmationCode != s.confirmCode {
		return nil, fmt.Errorf("%w: wrong confirmation code", ErrRejected)
	}

	var out *DomainConfig
	var domainID string
	err := s.store.WithTx(ctx, func(st Store) error {
		lc, err := st.Get(ctx, id)
		if err != nil {
			return err
		}
		if lc == nil {
			return ErrNotFound
		}
		cfg := normalizeDomainConfig(lc)
		if cfg.PrimaryDomain == nil {
			return fmt.Errorf("%w: no primary domain bound", ErrRejected)
		}
		domainID = cfg.PrimaryDomain.DomainID
		cfg.PrimaryDomain = nil
		lc.UpdatedAt = time.Now()
		if err := st.Update(ctx, lc); err != nil {
			return err
		}
		out = cfg
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.bindings.Remove(ctx, domainID, id, binding.RolePrimary); err != nil {
		log.Error().Err(err).Str("domain_id", domainID).Str("live_code_id", id).Msg("failed to remove primary binding")
	}
	log.Warn().Str("live_code_id", id).Str("domain_id", domainID).Msg("primary domain force-unbound")
	return out, nil
}

// SelectForRedirect resolves the landing domain for one visit: the live
// code's own fallback list first, then the global pool. The primary domain
// is never a landing target, so the role is always "fallback".
func (s *Service) SelectForRedirect(ctx context.Context, id string) (*RedirectTarget, error) {
	var target *RedirectTarget
	err := s.store.WithTx(ctx, func(st Store) error {
		lc, err := st.Get(ctx, id)
		if err != nil {
			return err
		}
		if lc == nil || lc.Status != StatusRunning {
			return ErrNotFound
		}
		cfg := normalizeDomainConfig(lc)
		fb := &cfg.Fallback
		if len(fb.DomainIDs) == 0 {
			return nil
		}

		all, err := s.pool.ListDomains(ctx)
		if err != nil {
			return err
		}
		byID := map[string]*domainpool.Domain{}
		for _, d := range all {
			if d.Status == domainpool.StatusActive {
				byID[d.ID] = d
			}
		}
		subset := make([]*domainpool.Domain, 0, len(fb.DomainIDs))
		for _, did := range fb.DomainIDs {
			if d, ok := byID[did]; ok {
				subset = append(subset, d)
			}
		}
		if len(subset) == 0 {
			return nil
		}
		// rotate in pool order, like the global selection does
		sort.Slice(subset, func(i, j int) bool {
			if subset[i].Order != subset[j].Order {
				return subset[i].Order < subset[j].Order
			}
			return subset[i].ID < subset[j].ID
		})

		var idx int
		switch fb.SelectionMode {
		case FallbackRandom:
			idx = s.randIntn(len(subset))
		case FallbackRoundRobin:
			idx = fb.Cursor % len(subset)
			fb.Cursor = (idx + 1) % len(subset)
		default: // sequential: always the first live domain in pool order
			idx = 0
		}
		chosen := subset[idx]

		now := time.Now()
		fb.Stats.TotalRedirects++
		fb.Stats.LastRedirectAt = &now
		ds := fb.Stats.DomainStats[chosen.ID]
		if ds == nil {
			ds = &DomainRedirectStats{}
			fb.Stats.DomainStats[chosen.ID] = ds
		}
		ds.RedirectCount++
		ds.LastRedirectAt = &now
		fb.UpdatedAt = now
		lc.UpdatedAt = now
		if err := st.Update(ctx, lc); err != nil {
			return err
		}

		target = &RedirectTarget{
			DomainID: chosen.ID,
			Host:     chosen.Host,
			Protocol: chosen.Protocol,
			Role:     "fallback",
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if target != nil {
		return target, nil
	}

	// no usable fallback domain: fail over to the global pool
	sel, err := s.pool.SelectDomain(ctx)
	if err != nil {
		return nil, err
	}
	return &RedirectTarget{
		DomainID: sel.DomainID,
		Host:     sel.Host,
		Protocol: sel.Protocol,
		Role:     "fallback",
	}, nil
}

// ResetFallbackStats zeroes the redirect counters and the rotation cursor.
func (s *Service) ResetFallbackStats(ctx context.Context, id string) (*DomainConfig, error) {
	var out *DomainConfig
	err := s.store.WithTx(ctx, func(st Store) error {
		lc, err := st.Get(ctx, id)
		if err != nil {
			return err
		}
		if lc == nil {
			return ErrNotFound
		}
		cfg := normalizeDomainConfig(lc)
		cfg.Fallback.Stats = FallbackStats{DomainStats: map[string]*DomainRedirectStats{}}
		cfg.Fallback.Cursor = 0
		now := time.Now()
		cfg.Fallback.UpdatedAt = now
		lc.UpdatedAt = now
		if err := st.Update(ctx, lc); err != nil {
			return err
		}
		out = cfg
		return nil
	})
	return out, err
}

// PromotionCode is the shareable main link plus a QR image URL for it.
type PromotionCode struct {
	ShortURL string `json:"shortUrl"`
	QRCode   string `json:"qrCode"`
}

func (s *Service) GetPromotionCode(ctx context.Context, id string) (*PromotionCode, error) {
	lc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &PromotionCode{
		ShortURL: lc.MainURL,
		QRCode:   "https://api.qrserver.com/v1/create-qr-code/?size=200x200&data=" + url.QueryEscape(lc.MainURL),
	}, nil
}

// Statistics is the per-live-code traffic summary.
type Statistics struct {
	LiveCodeID string `json:"liveCodeId"`
	DateRange  struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"dateRange"`
	Metrics struct {
		TotalPV        int64   `json:"totalPV"`
		TotalUV        int64   `json:"totalUV"`
		ConversionRate float64 `json:"conversionRate"`
	} `json:"metrics"`
	Trends []analytics.TrendPoint `json:"trends"`
}

// GetStatistics combines the persisted totals with the day-by-day trend from
// the analytics backend.
func (s *Service) GetStatistics(ctx context.Context, id string, days int) (*Statistics, error) {
	lc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if days <= 0 {
		days = 7
	}

	stats := &Statistics{LiveCodeID: id}
	stats.Metrics.TotalPV = lc.TotalPV

	trend, err := s.trend(ctx, id, days)
	if err != nil {
		log.Warn().Err(err).Str("live_code_id", id).Msg("failed to read visit trend")
		trend = []analytics.TrendPoint{}
	}
	stats.Trends = trend
	for _, p := range trend {
		stats.Metrics.TotalUV += p.UV
	}
	if stats.Metrics.TotalPV > 0 {
		stats.Metrics.ConversionRate = float64(stats.Metrics.TotalUV) / float64(stats.Metrics.TotalPV) * 100
	}
	if len(trend) > 0 {
		stats.DateRange.Start = trend[0].Date
		stats.DateRange.End = trend[len(trend)-1].Date
	}
	return stats, nil
}

func (s *Service) trend(ctx context.Context, id string, days int) ([]analytics.TrendPoint, error) {
	if s.visits == nil {
		return []analytics.TrendPoint{}, nil
	}
	return s.visits.Trend(ctx, id, days)
}

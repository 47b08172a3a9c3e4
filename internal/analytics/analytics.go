// Package analytics keeps per-day visit counters for live codes in Redis:
// a plain counter for page views and a HyperLogLog for unique visitors.
// Counters expire after the retention window; losing them only degrades the
// statistics endpoint, never serving.
package analytics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const retention = 90 * 24 * time.Hour

// TrendPoint is one day of traffic for one live code.
type TrendPoint struct {
	Date string `json:"date"` // YYYY-MM-DD
	PV   int64  `json:"pv"`
	UV   int64  `json:"uv"`
}

// Recorder is nil-safe: a nil recorder (no Redis configured) drops visits
// and returns empty trends.
type Recorder struct {
	rdb *redis.Client
}

func NewRecorder(rdb *redis.Client) *Recorder {
	return &Recorder{rdb: rdb}
}

func pvKey(liveCodeID, day string) string {
	return fmt.Sprintf("linkos:pv:%s:%s", liveCodeID, day)
}

func uvKey(liveCodeID, day string) string {
	return fmt.Sprintf("linkos:uv:%s:%s", liveCodeID, day)
}

// RecordVisit counts one page view and folds the visitor key (client IP or
// equivalent) into the day's unique-visitor sketch. Failures are logged and
// swallowed; analytics never block a redirect.
func (r *Recorder) RecordVisit(ctx context.Context, liveCodeID, visitorKey string) {
	if r == nil || r.rdb == nil {
		return
	}
	day := time.Now().Format("2006-01-02")
	pipe := r.rdb.Pipeline()
	pk, uk := pvKey(liveCodeID, day), uvKey(liveCodeID, day)
	pipe.Incr(ctx, pk)
	pipe.Expire(ctx, pk, retention)
	if visitorKey != "" {
		pipe.PFAdd(ctx, uk, visitorKey)
		pipe.Expire(ctx, uk, retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("live_code_id", liveCodeID).Msg("failed to record visit analytics")
	}
}

// Trend returns the last `days` days of PV/UV, oldest first. Days with no
// traffic come back as zeros.
func (r *Recorder) Trend(ctx context.Context, liveCodeID string, days int) ([]TrendPoint, error) {
	if days <= 0 {
		days = 7
	}
	out := make([]TrendPoint, 0, days)
	now := time.Now()
	for i := days - 1; i >= 0; i-- {
		day := now.AddDate(0, 0, -i).Format("2006-01-02")
		out = append(out, TrendPoint{Date: day})
	}
	if r == nil || r.rdb == nil {
		return out, nil
	}

	pipe := r.rdb.Pipeline()
	pvCmds := make([]*redis.StringCmd, len(out))
	uvCmds := make([]*redis.IntCmd, len(out))
	for i, p := range out {
		pvCmds[i] = pipe.Get(ctx, pvKey(liveCodeID, p.Date))
		uvCmds[i] = pipe.PFCount(ctx, uvKey(liveCodeID, p.Date))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read visit trend for %s: %w", liveCodeID, err)
	}
	for i := range out {
		if v, err := pvCmds[i].Result(); err == nil {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				out[i].PV = n
			}
		}
		if n, err := uvCmds[i].Result(); err == nil {
			out[i].UV = n
		}
	}
	return out, nil
}

package domainpool

import "time"

type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// Status is the lifecycle state of a pool domain.
//
// testing: newly added, must pass one health probe before serving traffic.
// active: eligible for selection.
// inactive: manually disabled by an operator.
// banned: automatically demoted after repeated request-path failures.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusTesting  Status = "testing"
	StatusBanned   Status = "banned"
)

type Strategy string

const (
	StrategyRoundRobin Strategy = "round-robin"
	StrategyRandom     Strategy = "random"
	StrategyWeighted   Strategy = "weighted"
)

// Domain is one candidate hostname in the pool.
type Domain struct {
	ID                  string     `json:"id"`
	Host                string     `json:"host"`
	Protocol            Protocol   `json:"protocol"`
	Status              Status     `json:"status"`
	Weight              int        `json:"weight"`
	Order               int        `json:"order"`
	HealthCheckPath     string     `json:"healthCheckPath"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	TotalRequests       int64      `json:"totalRequests"`
	TotalFailures       int64      `json:"totalFailures"`
	LastCheckedAt       *time.Time `json:"lastCheckedAt,omitempty"`
	LastFailedAt        *time.Time `json:"lastFailedAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// URL returns the base URL of the domain, e.g. "https://mtw1.example.com".
func (d *Domain) URL() string {
	return string(d.Protocol) + "://" + d.Host
}

// PoolConfig is the singleton pool configuration record.
type PoolConfig struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Strategy            Strategy  `json:"strategy"`
	MaxFailures         int       `json:"maxFailures"`
	HealthCheckInterval int       `json:"healthCheckInterval"` // seconds
	RetryInterval       int       `json:"retryInterval"`       // seconds
	// RoundRobinCursor holds the `order` value of the next domain to serve,
	// not an index into the domain list.
	RoundRobinCursor int       `json:"roundRobinCursor"`
	IsActive         bool      `json:"isActive"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

const poolConfigID = "pool-main"

func defaultPoolConfig(now time.Time) *PoolConfig {
	return &PoolConfig{
		ID:                  poolConfigID,
		Name:                "main",
		Strategy:            StrategyRoundRobin,
		MaxFailures:         3,
		HealthCheckInterval: 300,
		RetryInterval:       60,
		RoundRobinCursor:    0,
		IsActive:            true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// Selection is the outcome of picking a domain from the pool.
type Selection struct {
	DomainID string   `json:"domainId"`
	Host     string   `json:"host"`
	Protocol Protocol `json:"protocol"`
}

// Statistics summarizes the pool for the admin dashboard.
type Statistics struct {
	TotalDomains    int     `json:"totalDomains"`
	ActiveDomains   int     `json:"activeDomains"`
	BannedDomains   int     `json:"bannedDomains"`
	InactiveDomains int     `json:"inactiveDomains"`
	TestingDomains  int     `json:"testingDomains"`
	TotalRequests   int64   `json:"totalRequests"`
	TotalFailures   int64   `json:"totalFailures"`
	SuccessRate     float64 `json:"successRate"`
}

// AddDomainRequest carries the fields accepted when registering a domain.
type AddDomainRequest struct {
	Host            string   `json:"host" binding:"required"`
	Protocol        Protocol `json:"protocol" binding:"required"`
	Weight          *int     `json:"weight"`
	Order           *int     `json:"order"`
	HealthCheckPath string   `json:"healthCheckPath"`
}

// UpdateDomainRequest carries a partial domain update; nil fields are kept.
type UpdateDomainRequest struct {
	Host            *string   `json:"host"`
	Protocol        *Protocol `json:"protocol"`
	Status          *Status   `json:"status"`
	Weight          *int      `json:"weight"`
	Order           *int      `json:"order"`
	HealthCheckPath *string   `json:"healthCheckPath"`
}

// UpdatePoolConfigRequest carries a partial pool-config update.
type UpdatePoolConfigRequest struct {
	Strategy            *Strategy `json:"strategy"`
	MaxFailures         *int      `json:"maxFailures"`
	HealthCheckInterval *int      `json:"healthCheckInterval"`
	RetryInterval       *int      `json:"retryInterval"`
	IsActive            *bool     `json:"isActive"`
}

func (s Status) valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusTesting, StatusBanned:
		return true
	}
	return false
}

func (s Strategy) valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyRandom, StrategyWeighted:
		return true
	}
	return false
}

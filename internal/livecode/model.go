package livecode

import (
	"time"

	"github.com/linkos-dev/linkos/internal/domainpool"
)

type LiveStatus string

const (
	StatusRunning LiveStatus = "running"
	StatusPaused  LiveStatus = "paused"
)

// DistributionMode decides which sub-code a visitor sees.
type DistributionMode string

const (
	ModeThreshold DistributionMode = "THRESHOLD" // rotate when a sub-code fills up
	ModeRandom    DistributionMode = "RANDOM"
	ModeFixed     DistributionMode = "FIXED"
)

type SubCodeStatus string

const (
	SubCodeEnabled  SubCodeStatus = "enabled"
	SubCodeDisabled SubCodeStatus = "disabled"
)

// SubCode is one QR image behind a live code.
type SubCode struct {
	ID        string        `json:"id"`
	QRURL     string        `json:"qrUrl"`
	Threshold int           `json:"threshold"`
	CurrentPV int64         `json:"currentPv"`
	Weight    int           `json:"weight"`
	Status    SubCodeStatus `json:"status"`
}

type BindingMode string

const (
	BindGlobalPool    BindingMode = "GLOBAL_POOL"
	BindCustomDomains BindingMode = "CUSTOM_DOMAINS"
	BindHybrid        BindingMode = "HYBRID"
)

// FallbackMode is the landing-page rotation strategy over a live code's own
// fallback domains.
type FallbackMode string

const (
	FallbackSequential FallbackMode = "sequential"
	FallbackRandom     FallbackMode = "random"
	FallbackRoundRobin FallbackMode = "round-robin"
)

// PrimaryDomain is the stable entry domain of a live code. Binding locks it;
// only a force-unbind with the operator confirmation code releases it. It is
// printed on physical material, so it is never used as a landing target.
type PrimaryDomain struct {
	DomainID  string              `json:"domainId"`
	Host      string              `json:"host"`
	Protocol  domainpool.Protocol `json:"protocol"`
	LockedAt  time.Time           `json:"lockedAt"`
	Locked    bool                `json:"locked"`
	CanUnbind bool                `json:"canUnbind"`
}

// DomainRedirectStats counts redirects served through one fallback domain.
type DomainRedirectStats struct {
	RedirectCount  int64      `json:"redirectCount"`
	LastRedirectAt *time.Time `json:"lastRedirectAt,omitempty"`
}

type FallbackStats struct {
	TotalRedirects int64                           `json:"totalRedirects"`
	LastRedirectAt *time.Time                      `json:"lastRedirectAt,omitempty"`
	DomainStats    map[string]*DomainRedirectStats `json:"domainStats"`
}

// FallbackConfig is the live code's own landing-domain list, tried before
// the global pool.
type FallbackConfig struct {
	DomainIDs       []string      `json:"domainIds"`
	Priority        []int         `json:"priority"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	FailoverEnabled bool          `json:"failoverEnabled"`
	SelectionMode   FallbackMode  `json:"selectionMode"`
	// Cursor indexes into DomainIDs for the round-robin mode.
	Cursor int           `json:"currentIndex"`
	Stats  FallbackStats `json:"stats"`
}

type DomainConfig struct {
	Mode          BindingMode         `json:"mode"`
	PrimaryDomain *PrimaryDomain      `json:"primaryDomain,omitempty"`
	Fallback      FallbackConfig      `json:"fallbackDomains"`
	Strategy      domainpool.Strategy `json:"strategy"`
}

// LiveCode is one scannable code whose content and landing domains rotate.
type LiveCode struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Status           LiveStatus       `json:"status"`
	DistributionMode DistributionMode `json:"distributionMode"`
	TotalPV          int64            `json:"totalPv"`
	SubCodes         []SubCode        `json:"subCodes"`
	MainURL          string           `json:"mainUrl"`
	H5Title          string           `json:"h5Title,omitempty"`
	H5Description    string           `json:"h5Description,omitempty"`
	DomainConfig     *DomainConfig    `json:"domainConfig,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

type CreateSubCode struct {
	QRURL     string        `json:"qrUrl" binding:"required"`
	Threshold int           `json:"threshold"`
	Weight    int           `json:"weight"`
	Status    SubCodeStatus `json:"status"`
}

type CreateLiveCodeRequest struct {
	Name             string           `json:"name" binding:"required"`
	DistributionMode DistributionMode `json:"distributionMode" binding:"required"`
	SubCodes         []CreateSubCode  `json:"subCodes" binding:"required"`
	H5Title          string           `json:"h5Title"`
	H5Description    string           `json:"h5Description"`
}

type UpdateLiveCodeRequest struct {
	Name             *string           `json:"name"`
	DistributionMode *DistributionMode `json:"distributionMode"`
	SubCodes         []SubCode         `json:"subCodes"`
	Status           *LiveStatus       `json:"status"`
	H5Title          *string           `json:"h5Title"`
	H5Description    *string           `json:"h5Description"`
}

// UpdateFallbackRequest replaces a live code's fallback domain list and
// rotation mode.
type UpdateFallbackRequest struct {
	DomainIDs       []string      `json:"domainIds"`
	Priority        []int         `json:"priority"`
	SelectionMode   *FallbackMode `json:"selectionMode"`
	FailoverEnabled *bool         `json:"failoverEnabled"`
}

type BindPrimaryRequest struct {
	DomainID  string `json:"domainId" binding:"required"`
	Confirmed bool   `json:"confirmed"`
}

type UnbindPrimaryRequest struct {
	ForceUnbind      bool   `json:"forceUnbind"`
	ConfirmationCode string `json:"confirmationCode"`
}

// H5Content is the visitor-facing display payload.
type H5Content struct {
	LiveCodeID  string `json:"liveCodeId"`
	Title       string `json:"title"`
	QRCodeURL   string `json:"qrCodeUrl"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// RedirectTarget is a resolved landing domain for one visit.
type RedirectTarget struct {
	DomainID string              `json:"domainId"`
	Host     string              `json:"host"`
	Protocol domainpool.Protocol `json:"protocol"`
	Role     string              `json:"role"`
}

func (t *RedirectTarget) LandingURL(liveCodeID string) string {
	return string(t.Protocol) + "://" + t.Host + "/h5/landing?id=" + liveCodeID
}

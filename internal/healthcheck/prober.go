package healthcheck

import (
	"context"
	"net/http"
	"time"

	"github.com/linkos-dev/linkos/internal/domainpool"
)

const probeTimeout = 10 * time.Second

// Result is the outcome of one probe against one domain.
type Result struct {
	DomainID     string        `json:"domainId"`
	Host         string        `json:"host"`
	Healthy      bool          `json:"healthy"`
	StatusCode   int           `json:"statusCode,omitempty"`
	ResponseTime time.Duration `json:"responseTimeMs"`
	Error        string        `json:"error,omitempty"`
	CheckedAt    time.Time     `json:"checkedAt"`
}

// Prober issues HTTP GET probes against a domain's health check path.
type Prober struct {
	client *http.Client
}

func NewProber() *Prober {
	return &Prober{
		client: &http.Client{
			Timeout: probeTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Probe fetches {protocol}://{host}{healthCheckPath}. Any 2xx or 3xx counts
// as healthy; redirects are not followed since landing hosts commonly answer
// the bare path with one.
func (p *Prober) Probe(ctx context.Context, d *domainpool.Domain) Result {
	res := Result{DomainID: d.ID, Host: d.Host, CheckedAt: time.Now()}

	url := d.URL() + d.HealthCheckPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	res.ResponseTime = time.Since(start)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.Healthy = resp.StatusCode >= 200 && resp.StatusCode < 400
	return res
}

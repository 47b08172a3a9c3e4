package healthcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/linkos-dev/linkos/internal/domainpool"
)

func testDomain(t *testing.T, srvURL, path string) *domainpool.Domain {
	t.Helper()
	host := strings.TrimPrefix(srvURL, "http://")
	return &domainpool.Domain{
		ID:              "d1",
		Host:            host,
		Protocol:        domainpool.ProtocolHTTP,
		HealthCheckPath: path,
	}
}

func TestProbeHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res := NewProber().Probe(context.Background(), testDomain(t, srv.URL, "/health"))
	if !res.Healthy {
		t.Errorf("healthy = false, want true (status %d, err %q)", res.StatusCode, res.Error)
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", res.StatusCode)
	}
	if res.DomainID != "d1" {
		t.Errorf("domain id = %s", res.DomainID)
	}
}

func TestProbeRedirectCountsAsHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	res := NewProber().Probe(context.Background(), testDomain(t, srv.URL, "/health"))
	if !res.Healthy || res.StatusCode != http.StatusFound {
		t.Errorf("redirect probe: healthy=%v status=%d, want healthy 302", res.Healthy, res.StatusCode)
	}
}

func TestProbeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := NewProber().Probe(context.Background(), testDomain(t, srv.URL, "/health"))
	if res.Healthy {
		t.Error("healthy = true for a 500 response")
	}
}

func TestProbeUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	res := NewProber().Probe(context.Background(), testDomain(t, srv.URL, "/health"))
	if res.Healthy {
		t.Error("healthy = true for an unreachable host")
	}
	if res.Error == "" {
		t.Error("expected a transport error message")
	}
}

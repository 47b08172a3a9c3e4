package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	selectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkos_domain_selections_total",
		Help: "Domain pool selections by strategy and outcome.",
	}, []string{"strategy", "outcome"})

	redirectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkos_redirects_total",
		Help: "Redirect requests by outcome (ok, error_page).",
	}, []string{"outcome"})

	healthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkos_health_checks_total",
		Help: "Health probes by host and result.",
	}, []string{"host", "result"})

	domainBansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkos_domain_bans_total",
		Help: "Domains banned after repeated request failures.",
	})
)

func ObserveSelection(strategy string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "unavailable"
	}
	selectionsTotal.WithLabelValues(strategy, outcome).Inc()
}

func ObserveRedirect(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error_page"
	}
	redirectsTotal.WithLabelValues(outcome).Inc()
}

func ObserveHealthCheck(host string, healthy bool) {
	result := "healthy"
	if !healthy {
		result = "unhealthy"
	}
	healthChecksTotal.WithLabelValues(host, result).Inc()
}

func ObserveDomainBan() {
	domainBansTotal.Inc()
}

// Handler serves the default registry for the /metrics route.
func Handler() http.Handler {
	return promhttp.Handler()
}

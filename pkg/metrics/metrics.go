// Package metrics exposes Prometheus collectors for the LCP client
// facade: license-open outcomes, CRL fetch/cache behavior, rights
// consumption, decrypted byte counts and acquisition durations.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LicenseOpensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lcp_license_opens_total",
			Help: "Total number of open_license calls by result status",
		},
		[]string{"result"},
	)

	CRLFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lcp_crl_fetches_total",
			Help: "Total number of CRL fetches by issuer and result",
		},
		[]string{"issuer", "result"},
	)

	CRLCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lcp_crl_cache_hits_total",
			Help: "Total number of CRL lookups served from cache without a fetch",
		},
	)

	CRLCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lcp_crl_cache_misses_total",
			Help: "Total number of CRL lookups that required a fetch",
		},
	)

	RightsConsumeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lcp_rights_consume_total",
			Help: "Total number of rights consume calls by right name and result",
		},
		[]string{"right", "result"},
	)

	DecryptBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lcp_decrypt_bytes_total",
			Help: "Total number of plaintext bytes delivered by decryption streams",
		},
	)

	AcquisitionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lcp_acquisition_duration_seconds",
			Help:    "Time taken to complete a publication acquisition",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		LicenseOpensTotal,
		CRLFetchesTotal,
		CRLCacheHitsTotal,
		CRLCacheMissesTotal,
		RightsConsumeTotal,
		DecryptBytesTotal,
		AcquisitionDuration,
	)
}

// Handler returns the HTTP handler serving the default registry in the
// Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

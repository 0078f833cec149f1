package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ValidationsTotal counts /check outcomes by reason code
	ValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keygate_validations_total",
		Help: "Total number of key validations by reason",
	}, []string{"reason"})

	// KeysIssuedTotal counts minted keys by source
	KeysIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keygate_keys_issued_total",
		Help: "Total number of keys issued by source",
	}, []string{"source"})

	// TokenRedemptionsTotal counts funnel token redemptions by result
	TokenRedemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keygate_token_redemptions_total",
		Help: "Total number of external token redemptions by result",
	}, []string{"result"})

	// RateLimitedTotal counts rejected requests per route
	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keygate_rate_limited_total",
		Help: "Total number of requests rejected by the rate limiter",
	}, []string{"route"})

	// KeysSweptTotal counts keys removed by the expiry sweep
	KeysSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keygate_keys_swept_total",
		Help: "Total number of expired keys removed by the sweeper",
	})

	// NotificationsTotal counts creation notifications by result
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keygate_notifications_total",
		Help: "Total number of key creation notifications by result",
	}, []string{"result"})

	// ScriptServesTotal counts hosted script downloads by route and result
	ScriptServesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keygate_script_serves_total",
		Help: "Total number of hosted script requests by route and result",
	}, []string{"route", "result"})

	// HTTPRequestDuration tracks request latency
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "keygate_http_request_duration_seconds",
		Help:    "Histogram of HTTP request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

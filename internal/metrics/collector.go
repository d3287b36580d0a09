package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	// Verification
	checksTotal         *prometheus.CounterVec
	transitionsTotal    *prometheus.CounterVec
	dnsLookupDuration   *prometheus.HistogramVec
	providerPollLatency *prometheus.HistogramVec
	queueDepth          prometheus.Gauge
	pendingDomains      prometheus.Gauge

	// Resolver API
	resolvesTotal *prometheus.CounterVec

	// Edge
	edgeCacheTotal      *prometheus.CounterVec
	edgeDecisionsTotal  *prometheus.CounterVec
	edgeResolverLatency *prometheus.HistogramVec
}

// NewCollector registers all series on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)

	return &Collector{
		checksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "custom_domain_verification_checks_total",
				Help: "Verification checks performed, by axis and outcome",
			},
			[]string{"axis", "outcome"},
		),

		transitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "custom_domain_state_transitions_total",
				Help: "Verification status transitions, by axis and target status",
			},
			[]string{"axis", "to"},
		),

		dnsLookupDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "custom_domain_dns_lookup_duration_seconds",
				Help:    "Duration of TXT challenge lookups in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"result"},
		),

		providerPollLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "custom_domain_provider_poll_duration_seconds",
				Help:    "Duration of edge provider status polls in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"result"},
		),

		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "custom_domain_verification_queue_depth",
			Help: "Verification jobs waiting in the job queue or for a worker",
		}),

		pendingDomains: f.NewGauge(prometheus.GaugeOpts{
			Name: "custom_domain_pending_domains",
			Help: "Domains with at least one pending verification axis at the last scheduling pass",
		}),

		resolvesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "custom_domain_resolves_total",
				Help: "Resolver lookups, by result",
			},
			[]string{"result"},
		),

		edgeCacheTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "custom_domain_edge_cache_total",
				Help: "Edge routing cache lookups, by result",
			},
			[]string{"result"},
		),

		edgeDecisionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "custom_domain_edge_decisions_total",
				Help: "Edge routing decisions, by outcome",
			},
			[]string{"outcome"},
		),

		edgeResolverLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "custom_domain_edge_resolver_duration_seconds",
				Help:    "Duration of edge calls to the resolver endpoint in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2},
			},
			[]string{"result"},
		),
	}
}

func (c *Collector) RecordCheck(axis, outcome string) {
	c.checksTotal.WithLabelValues(axis, outcome).Inc()
}

func (c *Collector) RecordTransition(axis, to string) {
	c.transitionsTotal.WithLabelValues(axis, to).Inc()
}

func (c *Collector) ObserveDNSLookup(d time.Duration, err error) {
	c.dnsLookupDuration.WithLabelValues(result(err)).Observe(d.Seconds())
}

func (c *Collector) ObserveProviderPoll(d time.Duration, err error) {
	c.providerPollLatency.WithLabelValues(result(err)).Observe(d.Seconds())
}

func (c *Collector) SetQueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}

func (c *Collector) SetPendingDomains(n int) {
	c.pendingDomains.Set(float64(n))
}

func (c *Collector) RecordResolve(found bool) {
	if found {
		c.resolvesTotal.WithLabelValues("found").Inc()
		return
	}
	c.resolvesTotal.WithLabelValues("not_found").Inc()
}

func (c *Collector) RecordEdgeCache(hit bool) {
	if hit {
		c.edgeCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	c.edgeCacheTotal.WithLabelValues("miss").Inc()
}

func (c *Collector) RecordEdgeDecision(outcome string) {
	c.edgeDecisionsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveEdgeResolver(d time.Duration, err error) {
	c.edgeResolverLatency.WithLabelValues(result(err)).Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Package edge is the HTTP server that custom hostnames point at. Every
// request is answered with a 301 to the target application or a 404.
package edge

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/custom-domains/internal/api/middleware"
	"github.com/leozw/custom-domains/internal/cache"
	"github.com/leozw/custom-domains/internal/config"
	"github.com/leozw/custom-domains/internal/core"
	"github.com/leozw/custom-domains/internal/metrics"
)

const shortURLPrefix = "/u/"

const (
	OutcomeShortURL   = "redirect_short_url"
	OutcomeRoot       = "redirect_root"
	OutcomeNotFound   = "not_found"
	OutcomeFailClosed = "fail_closed"
)

type Resolver interface {
	Resolve(ctx context.Context, hostname string) (core.Resolution, error)
}

type Router struct {
	resolver Resolver
	cache    *cache.TTL[string, core.Resolution]
	target   string
	timeout  time.Duration
	metrics  *metrics.Collector
	logger   *zap.Logger
}

func NewRouter(cfg config.EdgeConfig, resolver Resolver, m *metrics.Collector, logger *zap.Logger, opts ...cache.Option) *Router {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	timeout := cfg.ResolverTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Router{
		resolver: resolver,
		cache:    cache.NewTTL[string, core.Resolution](ttl, cfg.CacheSize, opts...),
		target:   cfg.TargetDomain,
		timeout:  timeout,
		metrics:  m,
		logger:   logger,
	}
}

// Engine intercepts every method and path.
func (r *Router) Engine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.Logger(r.logger))
	engine.NoRoute(r.Handle)
	engine.NoMethod(r.Handle)
	return engine
}

func (r *Router) Handle(c *gin.Context) {
	hostname := requestHostname(c.Request)
	res, ok := r.lookup(c.Request.Context(), hostname)
	if !ok {
		r.notFound(c, hostname, OutcomeFailClosed)
		return
	}
	if !res.IsValid {
		r.notFound(c, hostname, OutcomeNotFound)
		return
	}

	path := c.Request.URL.Path
	if strings.HasPrefix(path, shortURLPrefix) {
		location := "https://" + r.target + c.Request.URL.EscapedPath()
		if c.Request.URL.RawQuery != "" {
			location += "?" + c.Request.URL.RawQuery
		}
		r.metrics.RecordEdgeDecision(OutcomeShortURL)
		c.Redirect(http.StatusMovedPermanently, location)
		return
	}

	r.metrics.RecordEdgeDecision(OutcomeRoot)
	c.Redirect(http.StatusMovedPermanently, "https://"+r.target)
}

// lookup returns false when the resolver could not be reached. Only
// answers from the resolver are cached, failures are retried on the next
// request.
func (r *Router) lookup(ctx context.Context, hostname string) (core.Resolution, bool) {
	if res, ok := r.cache.Get(hostname); ok {
		r.metrics.RecordEdgeCache(true)
		return res, true
	}
	r.metrics.RecordEdgeCache(false)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	res, err := r.resolver.Resolve(ctx, hostname)
	r.metrics.ObserveEdgeResolver(time.Since(start), err)
	if err != nil {
		r.logger.Warn("Resolver unavailable, failing closed",
			zap.String("domain", hostname),
			zap.Error(err),
		)
		return core.Resolution{}, false
	}

	r.cache.Set(hostname, res)
	return res, true
}

func (r *Router) notFound(c *gin.Context, hostname, outcome string) {
	r.metrics.RecordEdgeDecision(outcome)
	c.JSON(http.StatusNotFound, gin.H{
		"error":   "Domain not configured",
		"domain":  hostname,
		"message": "This domain is not configured or not yet active.",
	})
}

func requestHostname(req *http.Request) string {
	host := req.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(strings.ToLower(host), ".")
}

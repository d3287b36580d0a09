// Package resolver answers whether a hostname may receive traffic. It only
// reads domain records.
package resolver

import (
	"context"

	"go.uber.org/zap"

	"github.com/leozw/custom-domains/internal/apperr"
	"github.com/leozw/custom-domains/internal/core"
	"github.com/leozw/custom-domains/internal/metrics"
)

type DomainFinder interface {
	FindDomainByName(ctx context.Context, domain string) (*core.CustomDomain, error)
}

type Cache interface {
	Get(ctx context.Context, domain string) (core.Resolution, bool, error)
	Set(ctx context.Context, res core.Resolution) error
}

type Service struct {
	repo    DomainFinder
	cache   Cache
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewService creates the resolver. cache may be nil.
func NewService(repo DomainFinder, cache Cache, m *metrics.Collector, logger *zap.Logger) *Service {
	return &Service{repo: repo, cache: cache, metrics: m, logger: logger}
}

// Resolve returns the routing answer for hostname. found is false when no
// record exists; the answer then reports not_found and is not valid. The
// returned error is only set when the store could not be read.
func (s *Service) Resolve(ctx context.Context, hostname string) (core.Resolution, bool, error) {
	host, err := core.NormalizeHostname(hostname)
	if err != nil {
		s.metrics.RecordResolve(false)
		return notFound(hostname), false, nil
	}

	if s.cache != nil {
		res, ok, err := s.cache.Get(ctx, host)
		if err != nil {
			s.logger.Warn("Resolve cache read failed", zap.String("domain", host), zap.Error(err))
		} else if ok {
			found := res.SSLStatus != core.ResolutionNotFound
			s.metrics.RecordResolve(found)
			return res, found, nil
		}
	}

	var res core.Resolution
	found := true
	d, err := s.repo.FindDomainByName(ctx, host)
	switch {
	case apperr.Is(err, apperr.KindNotFound):
		res, found = notFound(host), false
	case err != nil:
		s.logger.Error("Failed to resolve domain", zap.String("domain", host), zap.Error(err))
		return core.Resolution{}, false, err
	default:
		res = core.ResolutionFor(d)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, res); err != nil {
			s.logger.Warn("Resolve cache write failed", zap.String("domain", host), zap.Error(err))
		}
	}

	s.metrics.RecordResolve(found)
	return res, found, nil
}

func notFound(domain string) core.Resolution {
	return core.Resolution{Domain: domain, IsValid: false, SSLStatus: core.ResolutionNotFound}
}

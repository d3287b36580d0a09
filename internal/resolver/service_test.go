package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leozw/custom-domains/internal/apperr"
	"github.com/leozw/custom-domains/internal/core"
	"github.com/leozw/custom-domains/internal/metrics"
)

type mapFinder struct {
	domains map[string]*core.CustomDomain
	err     error
	calls   int
}

func (f *mapFinder) FindDomainByName(_ context.Context, name string) (*core.CustomDomain, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	d, ok := f.domains[name]
	if !ok {
		return nil, apperr.NotFound("find domain by name", "domain not found")
	}
	return d, nil
}

type mapCache struct {
	entries map[string]core.Resolution
}

func (c *mapCache) Get(_ context.Context, domain string) (core.Resolution, bool, error) {
	r, ok := c.entries[domain]
	return r, ok, nil
}

func (c *mapCache) Set(_ context.Context, r core.Resolution) error {
	c.entries[r.Domain] = r
	return nil
}

func newService(f *mapFinder, c Cache) *Service {
	return NewService(f, c, metrics.NewCollector(prometheus.NewRegistry()), zap.NewNop())
}

func domain(name string, enabled bool, own core.OwnershipStatus, ssl core.SSLStatus) *core.CustomDomain {
	return &core.CustomDomain{Domain: name, IsEnabled: enabled, OwnershipStatus: own, SSLStatus: ssl}
}

func TestResolve(t *testing.T) {
	f := &mapFinder{domains: map[string]*core.CustomDomain{
		"links.example.com":   domain("links.example.com", true, core.OwnershipVerified, core.SSLActive),
		"off.example.com":     domain("off.example.com", false, core.OwnershipVerified, core.SSLActive),
		"issuing.example.com": domain("issuing.example.com", true, core.OwnershipVerified, core.SSLPending),
		"unowned.example.com": domain("unowned.example.com", true, core.OwnershipPending, core.SSLActive),
	}}
	s := newService(f, nil)

	cases := []struct {
		host  string
		found bool
		want  core.Resolution
	}{
		{"links.example.com", true, core.Resolution{Domain: "links.example.com", IsValid: true, SSLStatus: "active"}},
		{"LINKS.example.com.", true, core.Resolution{Domain: "links.example.com", IsValid: true, SSLStatus: "active"}},
		{"off.example.com", true, core.Resolution{Domain: "off.example.com", IsValid: false, SSLStatus: "active"}},
		{"issuing.example.com", true, core.Resolution{Domain: "issuing.example.com", IsValid: false, SSLStatus: "pending"}},
		{"unowned.example.com", true, core.Resolution{Domain: "unowned.example.com", IsValid: false, SSLStatus: "active"}},
		{"unregistered.example.com", false, core.Resolution{Domain: "unregistered.example.com", IsValid: false, SSLStatus: "not_found"}},
	}
	for _, tc := range cases {
		t.Run(tc.host, func(t *testing.T) {
			got, found, err := s.Resolve(context.Background(), tc.host)
			require.NoError(t, err)
			assert.Equal(t, tc.found, found)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveStoreErrorIsReturned(t *testing.T) {
	s := newService(&mapFinder{err: errors.New("connection refused")}, nil)

	_, _, err := s.Resolve(context.Background(), "links.example.com")
	assert.Error(t, err)
}

func TestResolveInvalidHostnameIsNotFound(t *testing.T) {
	f := &mapFinder{}
	s := newService(f, nil)

	got, found, err := s.Resolve(context.Background(), "   ")
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, got.IsValid)
	assert.Equal(t, 0, f.calls)
}

func TestResolveUsesCache(t *testing.T) {
	f := &mapFinder{domains: map[string]*core.CustomDomain{
		"links.example.com": domain("links.example.com", true, core.OwnershipVerified, core.SSLActive),
	}}
	c := &mapCache{entries: map[string]core.Resolution{}}
	s := newService(f, c)

	for i := 0; i < 3; i++ {
		got, found, err := s.Resolve(context.Background(), "links.example.com")
		require.NoError(t, err)
		assert.True(t, found)
		assert.True(t, got.IsValid)
	}
	assert.Equal(t, 1, f.calls)

	_, found, err := s.Resolve(context.Background(), "nope.example.com")
	require.NoError(t, err)
	assert.False(t, found)
	_, found, _ = s.Resolve(context.Background(), "nope.example.com")
	assert.False(t, found, "cached negative answers stay not found")
	assert.Equal(t, 2, f.calls)
}

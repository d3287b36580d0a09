// Package provider talks to the edge provider that terminates TLS for
// customer hostnames.
package provider

import (
	"context"
	"strings"

	"github.com/leozw/custom-domains/internal/core"
)

// HostnameProvider registers customer hostnames with the edge and reports
// certificate progress for them.
type HostnameProvider interface {
	Register(ctx context.Context, hostname string) (*Registration, error)
	// Status returns a KindPermanent error when the hostname can never
	// become active, e.g. it was removed at the provider.
	Status(ctx context.Context, id string) (*HostnameStatus, error)
	// Refresh asks the provider to restart validation for id and returns
	// the challenges now in effect.
	Refresh(ctx context.Context, id string) (*Registration, error)
	Deregister(ctx context.Context, id string) error
}

type Registration struct {
	ID        string
	Ownership core.Challenge
	SSL       core.Challenge
}

type HostnameStatus struct {
	SSL core.SSLStatus
	// Permanent is set when the provider will never complete the
	// certificate without re-registration.
	Permanent bool
	Reason    string
	// SSLChallenge is filled once the provider has issued it.
	SSLChallenge core.Challenge
}

// MapSSLStatus folds the provider's certificate states onto the three
// states tracked per domain.
func MapSSLStatus(status string) core.SSLStatus {
	s := strings.ToLower(strings.TrimSpace(status))
	switch {
	case s == "active":
		return core.SSLActive
	case strings.HasSuffix(s, "_timed_out"),
		s == "expired",
		s == "deleted",
		s == "inactive",
		s == "deactivating",
		s == "pending_deletion":
		return core.SSLFailed
	default:
		return core.SSLPending
	}
}

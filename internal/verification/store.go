// Package verification drives custom domains through ownership and SSL
// verification and owns their registration lifecycle.
package verification

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/leozw/custom-domains/internal/core"
	"github.com/leozw/custom-domains/internal/queue"
)

// Store is the persistence the verifier and registrar need. It is
// implemented by postgres.DB.
type Store interface {
	CreateDomain(ctx context.Context, d *core.CustomDomain) error
	FindDomainByID(ctx context.Context, id uuid.UUID) (*core.CustomDomain, error)
	FindDomainByName(ctx context.Context, domain string) (*core.CustomDomain, error)
	ListDomainsByOwner(ctx context.Context, owner string, page, limit int) ([]*core.CustomDomain, int, error)
	UpdateVerificationState(ctx context.Context, id uuid.UUID, patch core.VerificationPatch) (*core.CustomDomain, error)
	// MarkChecked records that a verification pass ran at the given time
	// without touching verification state.
	MarkChecked(ctx context.Context, id uuid.UUID, at time.Time) error
	ResetVerification(ctx context.Context, id uuid.UUID, rr core.Reregistration) (*core.CustomDomain, error)
	SetDomainEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*core.CustomDomain, error)
	SetDefaultDomain(ctx context.Context, owner string, id uuid.UUID) (*core.CustomDomain, error)
	DeleteDomain(ctx context.Context, id uuid.UUID) error
}

// TXTVerifier checks that a challenge is published in DNS.
type TXTVerifier interface {
	Verify(ctx context.Context, ch core.Challenge) (bool, error)
}

// Invalidator drops cached resolver answers for a hostname.
type Invalidator interface {
	Invalidate(ctx context.Context, domain string) error
}

// JobQueue receives out-of-schedule verification requests.
type JobQueue interface {
	Push(ctx context.Context, job *queue.VerificationJob) error
}

package verification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/custom-domains/internal/apperr"
	"github.com/leozw/custom-domains/internal/core"
	"github.com/leozw/custom-domains/internal/provider"
	"github.com/leozw/custom-domains/internal/queue"
)

const ownershipChallengePrefix = "_cf-custom-hostname."

// OwnershipChallenge creates a fresh ownership challenge for hostname.
func OwnershipChallenge(hostname string) core.Challenge {
	return core.Challenge{
		Name:  ownershipChallengePrefix + hostname,
		Value: uuid.NewString(),
	}
}

// Registrar manages the lifecycle of customer domains. Every operation is
// scoped to the owner; records of other owners are reported as not found.
type Registrar struct {
	store    Store
	provider provider.HostnameProvider
	queue    JobQueue
	cache    Invalidator
	brand    string
	now      func() time.Time
	logger   *zap.Logger
}

type RegistrarOption func(*Registrar)

func WithQueue(q JobQueue) RegistrarOption {
	return func(r *Registrar) { r.queue = q }
}

func WithResolveCache(c Invalidator) RegistrarOption {
	return func(r *Registrar) { r.cache = c }
}

func WithRegistrarClock(now func() time.Time) RegistrarOption {
	return func(r *Registrar) { r.now = now }
}

func NewRegistrar(store Store, p provider.HostnameProvider, brand string, logger *zap.Logger, opts ...RegistrarOption) *Registrar {
	r := &Registrar{
		store:    store,
		provider: p,
		brand:    brand,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registrar) Register(ctx context.Context, owner, hostname string) (*core.CustomDomain, error) {
	const op = "register domain"

	host, err := core.ValidateCustomHostname(hostname, r.brand)
	if err != nil {
		return nil, err
	}

	if _, err := r.store.FindDomainByName(ctx, host); err == nil {
		return nil, apperr.Conflict(op, "domain is already registered")
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}

	_, total, err := r.store.ListDomainsByOwner(ctx, owner, 1, 1)
	if err != nil {
		return nil, err
	}

	reg, err := r.provider.Register(ctx, host)
	if err != nil {
		r.logger.Error("Failed to register hostname with provider", zap.String("domain", host), zap.Error(err))
		return nil, err
	}

	ownership := reg.Ownership
	if ownership.Name == "" || ownership.Value == "" {
		ownership = OwnershipChallenge(host)
	}

	now := r.now().UTC()
	d := &core.CustomDomain{
		ID:                          uuid.New(),
		Domain:                      host,
		CreatedBy:                   owner,
		IsDefault:                   total == 0,
		IsEnabled:                   true,
		OwnershipStatus:             core.OwnershipPending,
		OwnershipValidationTxtName:  ownership.Name,
		OwnershipValidationTxtValue: ownership.Value,
		SSLStatus:                   core.SSLPending,
		SSLValidationTxtName:        reg.SSL.Name,
		SSLValidationTxtValue:       reg.SSL.Value,
		CloudflareHostnameID:        reg.ID,
		ValidationErrors:            []string{},
		VerificationStartedAt:       now,
		CreatedAt:                   now,
		UpdatedAt:                   now,
	}

	if err := r.store.CreateDomain(ctx, d); err != nil {
		if derr := r.provider.Deregister(ctx, reg.ID); derr != nil {
			r.logger.Error("Failed to roll back provider registration",
				zap.String("domain", host),
				zap.String("hostname_id", reg.ID),
				zap.Error(derr),
			)
		}
		return nil, err
	}

	r.logger.Info("Custom domain registered",
		zap.String("domain_id", d.ID.String()),
		zap.String("domain", d.Domain),
		zap.String("owner", owner),
	)
	r.invalidate(ctx, d.Domain)
	return d, nil
}

func (r *Registrar) Get(ctx context.Context, id uuid.UUID, owner string) (*core.CustomDomain, error) {
	d, err := r.store.FindDomainByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.CreatedBy != owner {
		return nil, apperr.NotFound("get domain", "domain not found")
	}
	return d, nil
}

func (r *Registrar) List(ctx context.Context, owner string, page, limit int) ([]*core.CustomDomain, int, error) {
	return r.store.ListDomainsByOwner(ctx, owner, page, limit)
}

// Reregister restarts verification for the failed axes with fresh
// challenges. Axes that already succeeded are left alone.
func (r *Registrar) Reregister(ctx context.Context, id uuid.UUID, owner string) (*core.CustomDomain, error) {
	const op = "reregister domain"

	d, err := r.Get(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	if !d.HasFailedAxis() {
		return nil, apperr.Conflict(op, "only domains with a failed verification can be re-registered")
	}

	reg, err := r.provider.Refresh(ctx, d.CloudflareHostnameID)
	if err != nil {
		return nil, err
	}

	rr := core.Reregistration{
		ResetOwnership: d.OwnershipStatus == core.OwnershipFailed,
		ResetSSL:       d.SSLStatus == core.SSLFailed,
	}
	if rr.ResetOwnership {
		rr.Ownership = reg.Ownership
		if rr.Ownership.Name == "" || rr.Ownership.Value == "" || rr.Ownership.Value == d.OwnershipValidationTxtValue {
			rr.Ownership = OwnershipChallenge(d.Domain)
		}
	}
	if rr.ResetSSL {
		rr.SSL = reg.SSL
	}

	updated, err := r.store.ResetVerification(ctx, d.ID, rr)
	if err != nil {
		return nil, err
	}

	r.logger.Info("Custom domain re-registered",
		zap.String("domain_id", d.ID.String()),
		zap.String("domain", d.Domain),
		zap.Bool("reset_ownership", rr.ResetOwnership),
		zap.Bool("reset_ssl", rr.ResetSSL),
	)
	r.invalidate(ctx, d.Domain)

	if r.queue != nil {
		if err := r.queue.Push(ctx, queue.NewVerificationJob(d.ID, "reregister")); err != nil {
			r.logger.Warn("Failed to enqueue verification", zap.String("domain_id", d.ID.String()), zap.Error(err))
		}
	}
	return updated, nil
}

func (r *Registrar) SetEnabled(ctx context.Context, id uuid.UUID, owner string, enabled bool) (*core.CustomDomain, error) {
	d, err := r.Get(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	updated, err := r.store.SetDomainEnabled(ctx, d.ID, enabled)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, d.Domain)
	return updated, nil
}

func (r *Registrar) SetDefault(ctx context.Context, id uuid.UUID, owner string) (*core.CustomDomain, error) {
	d, err := r.Get(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	return r.store.SetDefaultDomain(ctx, owner, d.ID)
}

// Delete removes the hostname from the edge provider, then the record.
// A domain that is still routable must be disabled first.
func (r *Registrar) Delete(ctx context.Context, id uuid.UUID, owner string) error {
	const op = "delete domain"

	d, err := r.Get(ctx, id, owner)
	if err != nil {
		return err
	}
	if d.IsValidForUse() {
		return apperr.Conflict(op, "disable the domain before deleting it")
	}

	if err := r.provider.Deregister(ctx, d.CloudflareHostnameID); err != nil {
		r.logger.Error("Failed to deregister hostname",
			zap.String("domain_id", d.ID.String()),
			zap.String("hostname_id", d.CloudflareHostnameID),
			zap.Error(err),
		)
		return err
	}

	if err := r.store.DeleteDomain(ctx, d.ID); err != nil {
		return err
	}

	r.logger.Info("Custom domain deleted", zap.String("domain_id", d.ID.String()), zap.String("domain", d.Domain))
	r.invalidate(ctx, d.Domain)
	return nil
}

// RequestCheck queues an immediate verification pass.
func (r *Registrar) RequestCheck(ctx context.Context, id uuid.UUID, owner string) (*queue.VerificationJob, error) {
	const op = "request verification"

	d, err := r.Get(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	if d.Settled() {
		return nil, apperr.Conflict(op, "verification has already completed")
	}
	if r.queue == nil {
		return nil, apperr.Transient(op, errors.New("verification queue is not configured"))
	}

	job := queue.NewVerificationJob(d.ID, "manual")
	if err := r.queue.Push(ctx, job); err != nil {
		return nil, apperr.Transient(op, err)
	}
	return job, nil
}

func (r *Registrar) invalidate(ctx context.Context, domain string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx, domain); err != nil {
		r.logger.Warn("Failed to invalidate resolve cache", zap.String("domain", domain), zap.Error(err))
	}
}

package verification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/custom-domains/internal/apperr"
	"github.com/leozw/custom-domains/internal/core"
	"github.com/leozw/custom-domains/internal/metrics"
	"github.com/leozw/custom-domains/internal/provider"
)

type Budget struct {
	MaxAttempts int
	Window      time.Duration
	// Interval is the scheduled check interval. Checks run sooner than
	// that after the last counted one are not charged to MaxAttempts.
	Interval time.Duration
}

// errRestarted reports that verification was restarted while a pass was
// running, so the pass result no longer applies.
var errRestarted = errors.New("verification restarted")

func (b Budget) exhausted(attempt int, elapsed time.Duration) (bool, string) {
	if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
		return true, fmt.Sprintf("not verified after %d attempts", attempt)
	}
	if b.Window > 0 && elapsed >= b.Window {
		return true, fmt.Sprintf("not verified within %s", b.Window)
	}
	return false, ""
}

// Verifier runs one verification pass per call. Only pending axes move,
// and each axis is persisted on its own.
type Verifier struct {
	store    Store
	txt      TXTVerifier
	provider provider.HostnameProvider
	cache    Invalidator
	metrics  *metrics.Collector
	attempts *Attempts
	budget   Budget
	now      func() time.Time
	logger   *zap.Logger

	inflight sync.Map
}

type VerifierOption func(*Verifier)

func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// WithInvalidator drops cached resolver answers whenever a status changes.
func WithInvalidator(c Invalidator) VerifierOption {
	return func(v *Verifier) { v.cache = c }
}

func NewVerifier(store Store, txt TXTVerifier, p provider.HostnameProvider, m *metrics.Collector, budget Budget, logger *zap.Logger, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		store:    store,
		txt:      txt,
		provider: p,
		metrics:  m,
		// Scheduled passes land anywhere within a tick, so spacing
		// tolerates a fifth of the interval.
		attempts: NewAttempts(budget.Interval - budget.Interval/5),
		budget:   budget,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Verifier) Attempts() *Attempts {
	return v.attempts
}

// Check advances the pending axes of the domain and returns the record as
// persisted. The record is reloaded first so a queued job never acts on a
// stale copy. An axis is only written on a definitive outcome; failed DNS
// lookups and provider calls are retried on a later pass. If verification
// is restarted meanwhile, the pass is discarded and the record is returned
// as loaded. The returned error only reports load and persistence failures.
func (v *Verifier) Check(ctx context.Context, id uuid.UUID) (*core.CustomDomain, error) {
	if _, busy := v.inflight.LoadOrStore(id, struct{}{}); busy {
		v.logger.Debug("Verification already running", zap.String("domain_id", id.String()))
		return nil, nil
	}
	defer v.inflight.Delete(id)

	cur, err := v.store.FindDomainByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Settled() {
		return cur, nil
	}

	var errs []error

	if cur.OwnershipStatus == core.OwnershipPending {
		updated, err := v.persist(ctx, cur, core.AxisOwnership, v.checkOwnership(ctx, cur))
		switch {
		case errors.Is(err, errRestarted):
			return cur, nil
		case err != nil:
			errs = append(errs, err)
		default:
			cur = updated
		}
	}

	if cur.SSLStatus == core.SSLPending {
		updated, err := v.persist(ctx, cur, core.AxisSSL, v.checkSSL(ctx, cur))
		switch {
		case errors.Is(err, errRestarted):
			return cur, nil
		case err != nil:
			errs = append(errs, err)
		default:
			cur = updated
		}
	}

	if err := v.store.MarkChecked(ctx, id, v.now()); err != nil {
		v.logger.Warn("Failed to record verification pass", zap.String("domain_id", id.String()), zap.Error(err))
	}

	return cur, errors.Join(errs...)
}

func (v *Verifier) elapsed(d *core.CustomDomain) time.Duration {
	start := d.VerificationStartedAt
	if start.IsZero() {
		start = d.CreatedAt
	}
	return v.now().Sub(start)
}

func (v *Verifier) checkOwnership(ctx context.Context, d *core.CustomDomain) core.VerificationPatch {
	attempt := v.attempts.Next(d.ID, core.AxisOwnership, d.VerificationStartedAt, v.now())
	logger := v.logger.With(
		zap.String("domain_id", d.ID.String()),
		zap.String("domain", d.Domain),
		zap.String("axis", string(core.AxisOwnership)),
		zap.Int("attempt", attempt),
	)

	ch := core.Challenge{Name: d.OwnershipValidationTxtName, Value: d.OwnershipValidationTxtValue}
	start := time.Now()
	ok, err := v.txt.Verify(ctx, ch)
	v.metrics.ObserveDNSLookup(time.Since(start), err)

	if err == nil && ok {
		v.metrics.RecordCheck(string(core.AxisOwnership), string(core.OwnershipVerified))
		return ownershipPatch(core.OwnershipVerified, core.ReplaceAxisErrors(d.ValidationErrors, core.AxisOwnership))
	}

	reason := fmt.Sprintf("TXT record %s with the expected value was not found", ch.Name)
	if err != nil {
		logger.Warn("Ownership lookup failed", zap.Error(err))
		reason = "DNS lookup failed: " + apperr.Message(err)
	}

	if done, why := v.budget.exhausted(attempt, v.elapsed(d)); done {
		v.metrics.RecordCheck(string(core.AxisOwnership), string(core.OwnershipFailed))
		return ownershipPatch(core.OwnershipFailed, core.ReplaceAxisErrors(d.ValidationErrors, core.AxisOwnership, reason, why))
	}

	outcome := "pending"
	if err != nil {
		outcome = "error"
	}
	v.metrics.RecordCheck(string(core.AxisOwnership), outcome)
	logger.Debug("Ownership not verified yet", zap.String("reason", reason))
	return core.VerificationPatch{}
}

func (v *Verifier) checkSSL(ctx context.Context, d *core.CustomDomain) core.VerificationPatch {
	if d.CloudflareHostnameID == "" {
		v.metrics.RecordCheck(string(core.AxisSSL), string(core.SSLFailed))
		return sslPatch(core.SSLFailed, core.ReplaceAxisErrors(d.ValidationErrors, core.AxisSSL, "hostname is not registered with the edge provider"))
	}

	attempt := v.attempts.Next(d.ID, core.AxisSSL, d.VerificationStartedAt, v.now())
	logger := v.logger.With(
		zap.String("domain_id", d.ID.String()),
		zap.String("domain", d.Domain),
		zap.String("axis", string(core.AxisSSL)),
		zap.Int("attempt", attempt),
	)

	start := time.Now()
	st, err := v.provider.Status(ctx, d.CloudflareHostnameID)
	v.metrics.ObserveProviderPoll(time.Since(start), err)

	var patch core.VerificationPatch
	switch {
	case apperr.Is(err, apperr.KindPermanent):
		v.metrics.RecordCheck(string(core.AxisSSL), string(core.SSLFailed))
		patch = sslPatch(core.SSLFailed, core.ReplaceAxisErrors(d.ValidationErrors, core.AxisSSL, apperr.Message(err)))
	case err != nil:
		logger.Warn("Provider status poll failed", zap.Error(err))
	case st.SSL == core.SSLActive:
		v.metrics.RecordCheck(string(core.AxisSSL), string(core.SSLActive))
		patch = sslPatch(core.SSLActive, core.ReplaceAxisErrors(d.ValidationErrors, core.AxisSSL))
	case st.SSL == core.SSLFailed || st.Permanent:
		v.metrics.RecordCheck(string(core.AxisSSL), string(core.SSLFailed))
		reason := st.Reason
		if reason == "" {
			reason = "certificate issuance failed at the edge provider"
		}
		patch = sslPatch(core.SSLFailed, core.ReplaceAxisErrors(d.ValidationErrors, core.AxisSSL, reason))
	}

	// The provider issues the SSL challenge some time after registration.
	// Once stored it is kept until re-registration.
	if err == nil && st.SSLChallenge.Name != "" && d.SSLValidationTxtName == "" {
		patch.SSLValidationTxtName = &st.SSLChallenge.Name
		patch.SSLValidationTxtValue = &st.SSLChallenge.Value
	}

	if patch.SSLStatus != nil {
		return patch
	}

	if done, why := v.budget.exhausted(attempt, v.elapsed(d)); done {
		v.metrics.RecordCheck(string(core.AxisSSL), string(core.SSLFailed))
		failed := core.SSLFailed
		patch.SSLStatus = &failed
		reasons := []string{"certificate " + why}
		if err != nil {
			reasons = append([]string{"edge provider status unavailable: " + apperr.Message(err)}, reasons...)
		}
		patch.ValidationErrors = core.ReplaceAxisErrors(d.ValidationErrors, core.AxisSSL, reasons...)
		patch.SetValidationErrors = true
		return patch
	}

	if err != nil {
		v.metrics.RecordCheck(string(core.AxisSSL), "error")
	} else {
		v.metrics.RecordCheck(string(core.AxisSSL), "pending")
	}
	return patch
}

func (v *Verifier) persist(ctx context.Context, d *core.CustomDomain, axis core.Axis, patch core.VerificationPatch) (*core.CustomDomain, error) {
	if patch.Empty() {
		return d, nil
	}
	patch.WindowStart = d.VerificationStartedAt

	updated, err := v.store.UpdateVerificationState(ctx, d.ID, patch)
	if apperr.Is(err, apperr.KindConflict) {
		v.logger.Info("Verification restarted during check, discarding result",
			zap.String("domain_id", d.ID.String()),
			zap.String("axis", string(axis)),
		)
		return nil, errRestarted
	}
	if err != nil {
		v.logger.Error("Failed to persist verification state",
			zap.String("domain_id", d.ID.String()),
			zap.String("axis", string(axis)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("persist %s state for %s: %w", axis, d.Domain, err)
	}

	from, to := axisStatus(d, axis), axisStatus(updated, axis)
	if from == to {
		return updated, nil
	}

	v.attempts.Forget(d.ID, axis)
	v.metrics.RecordTransition(string(axis), to)
	v.logger.Info("Domain verification state changed",
		zap.String("domain_id", d.ID.String()),
		zap.String("domain", d.Domain),
		zap.String("axis", string(axis)),
		zap.String("from", from),
		zap.String("to", to),
		zap.Bool("valid_for_use", updated.IsValidForUse()),
	)

	if v.cache != nil {
		if err := v.cache.Invalidate(ctx, d.Domain); err != nil {
			v.logger.Warn("Failed to invalidate resolve cache", zap.String("domain", d.Domain), zap.Error(err))
		}
	}
	return updated, nil
}

func axisStatus(d *core.CustomDomain, axis core.Axis) string {
	if axis == core.AxisOwnership {
		return string(d.OwnershipStatus)
	}
	return string(d.SSLStatus)
}

func ownershipPatch(status core.OwnershipStatus, errs []string) core.VerificationPatch {
	return core.VerificationPatch{
		OwnershipStatus:     &status,
		ValidationErrors:    errs,
		SetValidationErrors: true,
	}
}

func sslPatch(status core.SSLStatus, errs []string) core.VerificationPatch {
	return core.VerificationPatch{
		SSLStatus:           &status,
		ValidationErrors:    errs,
		SetValidationErrors: true,
	}
}

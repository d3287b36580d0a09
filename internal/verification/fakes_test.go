package verification

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leozw/custom-domains/internal/apperr"
	"github.com/leozw/custom-domains/internal/core"
	"github.com/leozw/custom-domains/internal/provider"
	"github.com/leozw/custom-domains/internal/queue"
)

// memStore mirrors the postgres store, including the pending-only guard
// on status columns and the verification window check.
type memStore struct {
	mu        sync.Mutex
	domains   map[uuid.UUID]*core.CustomDomain
	checked   map[uuid.UUID]time.Time
	updates   int
	createErr error
}

func newMemStore(ds ...*core.CustomDomain) *memStore {
	s := &memStore{
		domains: make(map[uuid.UUID]*core.CustomDomain),
		checked: make(map[uuid.UUID]time.Time),
	}
	for _, d := range ds {
		s.domains[d.ID] = clone(d)
	}
	return s
}

func clone(d *core.CustomDomain) *core.CustomDomain {
	c := *d
	c.ValidationErrors = append([]string{}, d.ValidationErrors...)
	return &c
}

func (s *memStore) get(id uuid.UUID) *core.CustomDomain {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.domains[id])
}

func (s *memStore) CreateDomain(_ context.Context, d *core.CustomDomain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	for _, existing := range s.domains {
		if existing.Domain == d.Domain {
			return apperr.Conflict("create domain", "domain is already registered")
		}
	}
	s.domains[d.ID] = clone(d)
	return nil
}

func (s *memStore) FindDomainByID(_ context.Context, id uuid.UUID) (*core.CustomDomain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.domains[id]
	if !ok {
		return nil, apperr.NotFound("find domain by id", "domain not found")
	}
	return clone(d), nil
}

func (s *memStore) FindDomainByName(_ context.Context, name string) (*core.CustomDomain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.domains {
		if d.Domain == name {
			return clone(d), nil
		}
	}
	return nil, apperr.NotFound("find domain by name", "domain not found")
}

func (s *memStore) ListDomainsByOwner(_ context.Context, owner string, page, limit int) ([]*core.CustomDomain, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.CustomDomain
	for _, d := range s.domains {
		if d.CreatedBy == owner {
			out = append(out, clone(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return out[start:end], total, nil
}

func (s *memStore) UpdateVerificationState(_ context.Context, id uuid.UUID, p core.VerificationPatch) (*core.CustomDomain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.domains[id]
	switch {
	case !p.WindowStart.IsZero() && (!ok || !d.VerificationStartedAt.Equal(p.WindowStart)):
		return nil, apperr.Conflict("update verification state", "verification was restarted")
	case !ok:
		return nil, apperr.NotFound("update verification state", "domain not found")
	}
	movable := p.OwnershipStatus == nil && p.SSLStatus == nil
	if p.OwnershipStatus != nil {
		if d.OwnershipStatus == core.OwnershipPending {
			movable = true
		} else {
			p.OwnershipStatus = nil
		}
	}
	if p.SSLStatus != nil {
		if d.SSLStatus == core.SSLPending {
			movable = true
		} else {
			p.SSLStatus = nil
		}
	}
	if !movable {
		p.SetValidationErrors = false
	}
	p.Apply(d)
	s.updates++
	return clone(d), nil
}

func (s *memStore) MarkChecked(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checked[id] = at
	return nil
}

func (s *memStore) lastChecked(id uuid.UUID) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checked[id]
}

func (s *memStore) ResetVerification(_ context.Context, id uuid.UUID, rr core.Reregistration) (*core.CustomDomain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.domains[id]
	if !ok {
		return nil, apperr.NotFound("reset verification", "domain not found")
	}
	if rr.ResetOwnership {
		d.OwnershipStatus = core.OwnershipPending
		d.OwnershipValidationTxtName = rr.Ownership.Name
		d.OwnershipValidationTxtValue = rr.Ownership.Value
	}
	if rr.ResetSSL {
		d.SSLStatus = core.SSLPending
		d.SSLValidationTxtName = rr.SSL.Name
		d.SSLValidationTxtValue = rr.SSL.Value
	}
	d.ValidationErrors = []string{}
	d.VerificationStartedAt = time.Now().UTC()
	delete(s.checked, id)
	return clone(d), nil
}

func (s *memStore) SetDomainEnabled(_ context.Context, id uuid.UUID, enabled bool) (*core.CustomDomain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.domains[id]
	if !ok {
		return nil, apperr.NotFound("set domain enabled", "domain not found")
	}
	d.IsEnabled = enabled
	return clone(d), nil
}

func (s *memStore) SetDefaultDomain(_ context.Context, owner string, id uuid.UUID) (*core.CustomDomain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.domains {
		if d.CreatedBy == owner {
			d.IsDefault = d.ID == id
		}
	}
	return clone(s.domains[id]), nil
}

func (s *memStore) DeleteDomain(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.domains[id]; !ok {
		return apperr.NotFound("delete domain", "domain not found")
	}
	delete(s.domains, id)
	return nil
}

// scriptedTXT returns results in order and repeats the last one.
// onVerify, if set, runs before each lookup returns.
type scriptedTXT struct {
	mu       sync.Mutex
	results  []txtResult
	calls    int
	onVerify func()
}

type txtResult struct {
	ok  bool
	err error
}

func (t *scriptedTXT) Verify(_ context.Context, _ core.Challenge) (bool, error) {
	t.mu.Lock()
	i := t.calls
	if i >= len(t.results) {
		i = len(t.results) - 1
	}
	t.calls++
	hook := t.onVerify
	t.mu.Unlock()

	if hook != nil {
		hook()
	}
	return t.results[i].ok, t.results[i].err
}

type fakeProvider struct {
	mu           sync.Mutex
	registration provider.Registration
	status       provider.HostnameStatus
	statusErr    error
	registerErr  error
	refresh      provider.Registration
	deregistered []string
	deregErr     error
	statusCalls  int
}

func (p *fakeProvider) Register(_ context.Context, _ string) (*provider.Registration, error) {
	if p.registerErr != nil {
		return nil, p.registerErr
	}
	r := p.registration
	return &r, nil
}

func (p *fakeProvider) Status(_ context.Context, _ string) (*provider.HostnameStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusCalls++
	if p.statusErr != nil {
		return nil, p.statusErr
	}
	st := p.status
	return &st, nil
}

func (p *fakeProvider) Refresh(_ context.Context, _ string) (*provider.Registration, error) {
	r := p.refresh
	return &r, nil
}

func (p *fakeProvider) Deregister(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deregErr != nil {
		return p.deregErr
	}
	p.deregistered = append(p.deregistered, id)
	return nil
}

type recordingInvalidator struct {
	mu      sync.Mutex
	domains []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, domain string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.domains = append(r.domains, domain)
	return nil
}

type recordingQueue struct {
	jobs []*queue.VerificationJob
	err  error
}

func (q *recordingQueue) Push(_ context.Context, job *queue.VerificationJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

var errBoom = errors.New("boom")

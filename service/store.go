package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upshift01/upshift-sub003/model"
)

// Store is the entity store for contracts, milestones and payment sessions.
// It is the only shared mutable resource in the engine: all writes go through
// the two state machines and the reconciliation service.
//
// Update calls carry the version the caller read; a write against a stale
// version fails with model.ErrConflict and the caller must re-fetch and
// retry. This linearizes transitions on the same entity without any global
// lock.
type Store interface {
	CreateContract(ctx context.Context, c *model.Contract, milestones []*model.Milestone) error
	GetContract(ctx context.Context, id string) (*model.Contract, error)
	ListContractsByParty(ctx context.Context, userID string) ([]*model.Contract, error)
	UpdateContract(ctx context.Context, c *model.Contract) error

	GetMilestone(ctx context.Context, id string) (*model.Milestone, error)
	ListMilestones(ctx context.Context, contractID string) ([]*model.Milestone, error)
	UpdateMilestone(ctx context.Context, m *model.Milestone) error

	CreateSession(ctx context.Context, s *model.PaymentSession) error
	GetSession(ctx context.Context, sessionID string) (*model.PaymentSession, error)
	// FindOpenSession returns the pending session for the target, or nil.
	// milestoneID is empty for a contract-level payment.
	FindOpenSession(ctx context.Context, contractID, milestoneID string) (*model.PaymentSession, error)
	UpdateSession(ctx context.Context, s *model.PaymentSession) error
	// ListPendingSessions returns pending sessions created before the cutoff,
	// for the background reconciliation sweep.
	ListPendingSessions(ctx context.Context, createdBefore time.Time) ([]*model.PaymentSession, error)

	// CommitPayment atomically marks the session paid, credits the parent
	// contract's total_paid and, for a milestone session, advances the
	// milestone to paid. Committing an already-paid session returns the
	// existing result without re-crediting.
	CommitPayment(ctx context.Context, sessionID string) (*model.PaymentSession, error)
}

// MemoryStore is an in-memory Store used when no database is configured and
// by the engine tests. A single RWMutex makes multi-entity commits atomic.
type MemoryStore struct {
	mu         sync.RWMutex
	contracts  map[string]*model.Contract
	milestones map[string]*model.Milestone
	sessions   map[string]*model.PaymentSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contracts:  make(map[string]*model.Contract),
		milestones: make(map[string]*model.Milestone),
		sessions:   make(map[string]*model.PaymentSession),
	}
}

func cloneContract(c *model.Contract) *model.Contract {
	cp := *c
	return &cp
}

func cloneMilestone(m *model.Milestone) *model.Milestone {
	cp := *m
	return &cp
}

func cloneSession(s *model.PaymentSession) *model.PaymentSession {
	cp := *s
	return &cp
}

func (s *MemoryStore) CreateContract(ctx context.Context, c *model.Contract, milestones []*model.Milestone) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.contracts[c.ID]; exists {
		return fmt.Errorf("%w: contract %s already exists", model.ErrConflict, c.ID)
	}

	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.contracts[c.ID] = cloneContract(c)

	for _, m := range milestones {
		m.CreatedAt = now
		m.UpdatedAt = now
		s.milestones[m.ID] = cloneMilestone(m)
	}
	return nil
}

func (s *MemoryStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contracts[id]
	if !ok {
		return nil, fmt.Errorf("%w: contract %s", model.ErrNotFound, id)
	}
	return cloneContract(c), nil
}

func (s *MemoryStore) ListContractsByParty(ctx context.Context, userID string) ([]*model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.Contract
	for _, c := range s.contracts {
		if c.EmployerID == userID || c.ContractorID == userID {
			result = append(result, cloneContract(c))
		}
	}
	return result, nil
}

func (s *MemoryStore) UpdateContract(ctx context.Context, c *model.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateContractLocked(c)
}

// updateContractLocked applies the version check and bumps the version.
// Must be called with the write lock held.
func (s *MemoryStore) updateContractLocked(c *model.Contract) error {
	cur, ok := s.contracts[c.ID]
	if !ok {
		return fmt.Errorf("%w: contract %s", model.ErrNotFound, c.ID)
	}
	if cur.Version != c.Version {
		return fmt.Errorf("%w: contract %s version %d, stored %d", model.ErrConflict, c.ID, c.Version, cur.Version)
	}
	c.Version++
	c.UpdatedAt = time.Now()
	s.contracts[c.ID] = cloneContract(c)
	return nil
}

func (s *MemoryStore) GetMilestone(ctx context.Context, id string) (*model.Milestone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.milestones[id]
	if !ok {
		return nil, fmt.Errorf("%w: milestone %s", model.ErrNotFound, id)
	}
	return cloneMilestone(m), nil
}

func (s *MemoryStore) ListMilestones(ctx context.Context, contractID string) ([]*model.Milestone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.Milestone
	for _, m := range s.milestones {
		if m.ContractID == contractID {
			result = append(result, cloneMilestone(m))
		}
	}
	return result, nil
}

func (s *MemoryStore) UpdateMilestone(ctx context.Context, m *model.Milestone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateMilestoneLocked(m)
}

func (s *MemoryStore) updateMilestoneLocked(m *model.Milestone) error {
	cur, ok := s.milestones[m.ID]
	if !ok {
		return fmt.Errorf("%w: milestone %s", model.ErrNotFound, m.ID)
	}
	if cur.Version != m.Version {
		return fmt.Errorf("%w: milestone %s version %d, stored %d", model.ErrConflict, m.ID, m.Version, cur.Version)
	}
	m.Version++
	m.UpdatedAt = time.Now()
	s.milestones[m.ID] = cloneMilestone(m)
	return nil
}

func (s *MemoryStore) CreateSession(ctx context.Context, sess *model.PaymentSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.SessionID]; exists {
		return fmt.Errorf("%w: session %s already exists", model.ErrConflict, sess.SessionID)
	}
	now := time.Now()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	s.sessions[sess.SessionID] = cloneSession(sess)
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, sessionID string) (*model.PaymentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: payment session %s", model.ErrNotFound, sessionID)
	}
	return cloneSession(sess), nil
}

func (s *MemoryStore) FindOpenSession(ctx context.Context, contractID, milestoneID string) (*model.PaymentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sess := range s.sessions {
		if sess.ContractID == contractID && sess.MilestoneID == milestoneID && sess.Open() {
			return cloneSession(sess), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) UpdateSession(ctx context.Context, sess *model.PaymentSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.SessionID]; !ok {
		return fmt.Errorf("%w: payment session %s", model.ErrNotFound, sess.SessionID)
	}
	sess.UpdatedAt = time.Now()
	s.sessions[sess.SessionID] = cloneSession(sess)
	return nil
}

func (s *MemoryStore) ListPendingSessions(ctx context.Context, createdBefore time.Time) ([]*model.PaymentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.PaymentSession
	for _, sess := range s.sessions {
		if sess.Open() && sess.CreatedAt.Before(createdBefore) {
			result = append(result, cloneSession(sess))
		}
	}
	return result, nil
}

func (s *MemoryStore) CommitPayment(ctx context.Context, sessionID string) (*model.PaymentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: payment session %s", model.ErrNotFound, sessionID)
	}

	// Idempotence: a session credits its target exactly once.
	if sess.Status == model.SessionPaid {
		return cloneSession(sess), nil
	}

	contract, ok := s.contracts[sess.ContractID]
	if !ok {
		return nil, fmt.Errorf("%w: contract %s", model.ErrNotFound, sess.ContractID)
	}
	if contract.Status != model.ContractActive {
		return nil, fmt.Errorf("%w: cannot credit a payment while the contract is %q", model.ErrInvalidTransition, contract.Status)
	}
	if contract.TotalPaid+sess.Amount > contract.PaymentAmount {
		return nil, fmt.Errorf("%w: crediting %d would exceed payment_amount %d (total_paid %d)",
			model.ErrValidation, sess.Amount, contract.PaymentAmount, contract.TotalPaid)
	}

	var milestone *model.Milestone
	if sess.MilestoneID != "" {
		milestone, ok = s.milestones[sess.MilestoneID]
		if !ok {
			return nil, fmt.Errorf("%w: milestone %s", model.ErrNotFound, sess.MilestoneID)
		}
		if milestone.Status == model.MilestonePaid {
			return nil, fmt.Errorf("%w: milestone %s is already paid by another session", model.ErrConflict, milestone.ID)
		}
	}

	now := time.Now()
	contract.TotalPaid += sess.Amount
	contract.Version++
	contract.UpdatedAt = now

	if milestone != nil {
		milestone.Status = model.MilestonePaid
		milestone.PaidAt = &now
		milestone.Version++
		milestone.UpdatedAt = now
	}

	sess.Status = model.SessionPaid
	sess.UpdatedAt = now
	return cloneSession(sess), nil
}

package recovery

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory request store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*Request
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*Request),
	}
}

func (s *MemoryStore) Create(_ context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests[req.ID] = copyRequest(req)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return copyRequest(req), nil
}

func (s *MemoryStore) Update(_ context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[req.ID]; !ok {
		return ErrRequestNotFound
	}
	s.requests[req.ID] = copyRequest(req)
	return nil
}

func (s *MemoryStore) AddApproval(_ context.Context, approval *Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[approval.RequestID]
	if !ok {
		return ErrRequestNotFound
	}
	if req.HasApproval(approval.GuardianIdentity) {
		return ErrDuplicateApproval
	}
	cp := *approval
	req.Approvals = append(req.Approvals, &cp)
	return nil
}

func (s *MemoryStore) ActiveByWallet(_ context.Context, walletIdentity string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, req := range s.requests {
		if strings.EqualFold(req.WalletIdentity, walletIdentity) && req.Active() {
			return copyRequest(req), nil
		}
	}
	return nil, ErrRequestNotFound
}

func (s *MemoryStore) ListByWallet(_ context.Context, walletIdentity string, limit int) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Request
	for _, req := range s.requests {
		if strings.EqualFold(req.WalletIdentity, walletIdentity) {
			out = append(out, copyRequest(req))
		}
	}
	sortNewestFirst(out)
	return clip(out, limit), nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Request, 0, len(s.requests))
	for _, req := range s.requests {
		out = append(out, copyRequest(req))
	}
	sortNewestFirst(out)
	return clip(out, limit), nil
}

func (s *MemoryStore) ListPendingExpired(_ context.Context, before time.Time, limit int) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Request
	for _, req := range s.requests {
		if req.Status == StatusPending && req.ExecutesAt.Before(before) {
			out = append(out, copyRequest(req))
		}
	}
	sortNewestFirst(out)
	return clip(out, limit), nil
}

func sortNewestFirst(reqs []*Request) {
	sort.SliceStable(reqs, func(i, j int) bool {
		if !reqs[i].InitiatedAt.Equal(reqs[j].InitiatedAt) {
			return reqs[i].InitiatedAt.After(reqs[j].InitiatedAt)
		}
		return reqs[i].ID < reqs[j].ID
	})
}

func clip(reqs []*Request, limit int) []*Request {
	if limit > 0 && len(reqs) > limit {
		return reqs[:limit]
	}
	return reqs
}

func copyRequest(req *Request) *Request {
	cp := *req
	if req.CancelledAt != nil {
		t := *req.CancelledAt
		cp.CancelledAt = &t
	}
	if req.CompletedAt != nil {
		t := *req.CompletedAt
		cp.CompletedAt = &t
	}
	cp.FraudIndicators = append([]string(nil), req.FraudIndicators...)
	cp.Approvals = make([]*Approval, len(req.Approvals))
	for i, a := range req.Approvals {
		ac := *a
		cp.Approvals[i] = &ac
	}
	return &cp
}

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/seclens/seclens/internal/domain/workflow"
)

// WorkflowStore implements workflow.Store with in-memory maps.
// The mutex is the single-process compare-and-swap: ApplyTransition checks
// status and version and mutates under one critical section, so exactly
// one of two concurrent reviewers can win.
type WorkflowStore struct {
	requests map[string]*workflow.ExceptionRequest
	grants   map[string]*workflow.ExceptionGrant // requestID -> grant
	mu       sync.Mutex
}

// NewWorkflowStore creates a new in-memory workflow store.
func NewWorkflowStore() *WorkflowStore {
	return &WorkflowStore{
		requests: make(map[string]*workflow.ExceptionRequest),
		grants:   make(map[string]*workflow.ExceptionGrant),
	}
}

// Insert stores a new request, and its grant for auto-approved requests.
// Enforces one PENDING-or-APPROVED request per (vulnerability, requester).
func (s *WorkflowStore) Insert(ctx context.Context, req *workflow.ExceptionRequest, grant *workflow.ExceptionGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.requests {
		if existing.VulnerabilityID == req.VulnerabilityID &&
			existing.RequesterID == req.RequesterID &&
			(existing.Status == workflow.StatusPending || existing.Status == workflow.StatusApproved) {
			return workflow.ErrDuplicateActive
		}
	}

	s.requests[req.ID] = copyRequest(req)
	if grant != nil {
		g := *grant
		s.grants[req.ID] = &g
	}
	return nil
}

// Get retrieves a request by ID.
func (s *WorkflowStore) Get(ctx context.Context, id string) (*workflow.ExceptionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, workflow.ErrRequestNotFound
	}
	return copyRequest(req), nil
}

// ApplyTransition commits the transition iff the request is still PENDING
// at the expected version. Returns false on a lost race.
func (s *WorkflowStore) ApplyTransition(ctx context.Context, id string, expectedVersion int64, tr workflow.Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return false, workflow.ErrRequestNotFound
	}
	if req.Status != workflow.StatusPending || req.Version != expectedVersion {
		return false, nil
	}

	req.Status = tr.ToStatus
	req.ReviewedBy = tr.ReviewedBy
	req.ReviewComment = tr.ReviewComment
	reviewedAt := tr.ReviewedAt
	req.ReviewedAt = &reviewedAt
	req.Version++
	req.UpdatedAt = time.Now().UTC()

	if tr.Grant != nil {
		g := *tr.Grant
		s.grants[id] = &g
	}
	return true, nil
}

// ExpirePending marks EXPIRED every PENDING request past its expiration.
func (s *WorkflowStore) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired int64
	for _, req := range s.requests {
		if req.Status == workflow.StatusPending && req.ExpiresAt.Before(now) {
			req.Status = workflow.StatusExpired
			req.Version++
			req.UpdatedAt = now
			expired++
		}
	}
	return expired, nil
}

// List returns requests matching the filter, newest first.
func (s *WorkflowStore) List(ctx context.Context, filter workflow.ListFilter) ([]*workflow.ExceptionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*workflow.ExceptionRequest
	for _, req := range s.requests {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.RequesterID != "" && req.RequesterID != filter.RequesterID {
			continue
		}
		if filter.VulnerabilityID != "" && req.VulnerabilityID != filter.VulnerabilityID {
			continue
		}
		result = append(result, copyRequest(req))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// GetGrantByRequest retrieves the grant created for an approved request.
func (s *WorkflowStore) GetGrantByRequest(ctx context.Context, requestID string) (*workflow.ExceptionGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.grants[requestID]
	if !ok {
		return nil, workflow.ErrGrantNotFound
	}
	g := *grant
	return &g, nil
}

// GrantCount returns the number of grants stored.
// Useful for testing the approve-exactly-once property.
func (s *WorkflowStore) GrantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.grants)
}

// copyRequest creates a deep copy of a request.
func copyRequest(req *workflow.ExceptionRequest) *workflow.ExceptionRequest {
	reqCopy := *req
	if req.ReviewedAt != nil {
		t := *req.ReviewedAt
		reqCopy.ReviewedAt = &t
	}
	return &reqCopy
}

// Compile-time interface verification.
var _ workflow.Store = (*WorkflowStore)(nil)

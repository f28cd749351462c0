package policy

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/laundrydesk/abac-pdp/pkg/types"
)

// MemoryStore implements Store with an atomically swapped snapshot.
// Writers are serialized; readers never lock.
type MemoryStore struct {
	current   atomic.Pointer[Snapshot]
	mu        sync.Mutex
	validator *Validator
	history   *History

	subMu       sync.RWMutex
	subscribers []func(ChangeEvent)
}

// NewMemoryStore creates an empty store. validator may be nil to accept
// policies unchecked; history may be nil to keep no version history.
func NewMemoryStore(validator *Validator, history *History) *MemoryStore {
	return &MemoryStore{
		validator: validator,
		history:   history,
	}
}

// Snapshot returns the current snapshot, nil before the first load
func (s *MemoryStore) Snapshot() *Snapshot {
	return s.current.Load()
}

// Version returns the current snapshot version
func (s *MemoryStore) Version() int64 {
	if snap := s.current.Load(); snap != nil {
		return snap.Version()
	}
	return 0
}

// Get retrieves a copy of a policy by id
func (s *MemoryStore) Get(id string) (*types.Policy, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, ErrPolicyNotFound(id)
	}
	p, ok := snap.Get(id)
	if !ok {
		return nil, ErrPolicyNotFound(id)
	}
	return p, nil
}

// List returns copies of all policies in evaluation order
func (s *MemoryStore) List() []*types.Policy {
	snap := s.current.Load()
	if snap == nil {
		return []*types.Policy{}
	}
	return snap.Policies()
}

// History returns the version history, nil when disabled
func (s *MemoryStore) History() *History {
	return s.history
}

// Subscribe registers fn to be called after every published change
func (s *MemoryStore) Subscribe(fn func(ChangeEvent)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Put adds or replaces a single policy
func (s *MemoryStore) Put(policy *types.Policy, comment string) (*Snapshot, error) {
	if err := s.validate(policy); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var policies []*types.Policy
	if snap := s.current.Load(); snap != nil {
		for _, p := range snap.policies {
			if p.ID != policy.ID {
				policies = append(policies, p)
			}
		}
	}
	policies = append(policies, policy)

	return s.publishLocked(policies, comment, EventPut, []string{policy.ID})
}

// Delete removes a policy by id
func (s *MemoryStore) Delete(id string, comment string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.current.Load()
	if snap == nil {
		return nil, ErrPolicyNotFound(id)
	}
	if _, ok := snap.byID[id]; !ok {
		return nil, ErrPolicyNotFound(id)
	}

	policies := make([]*types.Policy, 0, len(snap.policies)-1)
	for _, p := range snap.policies {
		if p.ID != id {
			policies = append(policies, p)
		}
	}

	return s.publishLocked(policies, comment, EventDeleted, []string{id})
}

// Replace swaps the whole policy set. All policies are validated before
// anything is published.
func (s *MemoryStore) Replace(policies []*types.Policy, comment string) (*Snapshot, error) {
	ids := make([]string, 0, len(policies))
	for _, p := range policies {
		if err := s.validate(p); err != nil {
			return nil, err
		}
		ids = append(ids, p.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.publishLocked(policies, comment, EventReplaced, ids)
}

// Rollback republishes the policy set of a historical version as a new
// version. Version 0 selects the snapshot before the latest one.
func (s *MemoryStore) Rollback(version int64) (*Snapshot, error) {
	if s.history == nil {
		return nil, ErrVersionNotFound(version)
	}
	var (
		old *Snapshot
		err error
	)
	if version == 0 {
		old, err = s.history.Previous()
	} else {
		old, err = s.history.Get(version)
	}
	if err != nil {
		return nil, err
	}
	version = old.Version()

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, old.Len())
	for _, p := range old.policies {
		ids = append(ids, p.ID)
	}
	return s.publishLocked(old.policies, fmt.Sprintf("rollback to version %d", version), EventRolledBack, ids)
}

func (s *MemoryStore) validate(policy *types.Policy) error {
	if policy == nil {
		return fmt.Errorf("policy cannot be nil")
	}
	if s.validator == nil {
		return nil
	}
	return s.validator.ValidatePolicy(policy)
}

// publishLocked builds and publishes the next snapshot. An unchanged policy
// set keeps the current snapshot. Callers hold s.mu.
func (s *MemoryStore) publishLocked(policies []*types.Policy, comment string, eventType EventType, ids []string) (*Snapshot, error) {
	current := s.current.Load()
	next := int64(1)
	if current != nil {
		next = current.Version() + 1
	}

	snap, err := NewSnapshot(next, policies, comment)
	if err != nil {
		return nil, err
	}
	if current != nil && current.Checksum() == snap.Checksum() {
		return current, nil
	}

	s.current.Store(snap)
	if s.history != nil {
		s.history.Record(snap)
	}

	s.subMu.RLock()
	subscribers := append(([]func(ChangeEvent))(nil), s.subscribers...)
	s.subMu.RUnlock()
	for _, fn := range subscribers {
		fn(ChangeEvent{Type: eventType, Snapshot: snap, PolicyIDs: ids})
	}

	return snap, nil
}

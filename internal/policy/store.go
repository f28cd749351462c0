// Package policy provides versioned policy storage, loading and hot-reload
package policy

import (
	"github.com/laundrydesk/abac-pdp/pkg/types"
)

// Store defines the policy storage interface. Every mutation publishes a
// complete new Snapshot; readers never observe a partial update.
type Store interface {
	// Snapshot returns the current policy set, or nil before the first load
	Snapshot() *Snapshot

	// Version returns the current snapshot version (0 before the first load)
	Version() int64

	// Get retrieves a copy of a policy by id
	Get(id string) (*types.Policy, error)

	// List returns copies of all policies in evaluation order
	List() []*types.Policy

	// Put adds or replaces a single policy
	Put(policy *types.Policy, comment string) (*Snapshot, error)

	// Delete removes a policy by id
	Delete(id string, comment string) (*Snapshot, error)

	// Replace swaps the whole policy set
	Replace(policies []*types.Policy, comment string) (*Snapshot, error)
}

// EventType represents the kind of change that produced a snapshot
type EventType int

const (
	EventReplaced EventType = iota
	EventPut
	EventDeleted
	EventRolledBack
)

func (t EventType) String() string {
	switch t {
	case EventReplaced:
		return "replaced"
	case EventPut:
		return "put"
	case EventDeleted:
		return "deleted"
	case EventRolledBack:
		return "rolled_back"
	}
	return "unknown"
}

// ChangeEvent is delivered to subscribers after a new snapshot is published
type ChangeEvent struct {
	Type      EventType
	Snapshot  *Snapshot
	PolicyIDs []string // ids touched by the change
}

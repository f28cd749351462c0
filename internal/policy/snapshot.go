package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/laundrydesk/abac-pdp/pkg/types"
)

// Snapshot is an immutable, versioned policy set. Evaluations hold one
// snapshot for their whole duration; updates publish a new one.
type Snapshot struct {
	version   int64
	checksum  string
	createdAt time.Time
	comment   string
	policies  []*types.Policy // evaluation order
	byID      map[string]*types.Policy
}

// NewSnapshot copies policies into a new snapshot sorted by evaluation order
func NewSnapshot(version int64, policies []*types.Policy, comment string) (*Snapshot, error) {
	s := &Snapshot{
		version:   version,
		createdAt: time.Now(),
		comment:   comment,
		policies:  make([]*types.Policy, 0, len(policies)),
		byID:      make(map[string]*types.Policy, len(policies)),
	}

	for _, p := range policies {
		if p == nil {
			continue
		}
		if _, dup := s.byID[p.ID]; dup {
			return nil, ErrDuplicatePolicy(p.ID)
		}
		c := p.Clone()
		s.policies = append(s.policies, c)
		s.byID[c.ID] = c
	}

	sort.SliceStable(s.policies, func(i, j int) bool {
		return s.policies[i].Less(s.policies[j])
	})

	checksum, err := checksumPolicies(s.policies)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate checksum: %w", err)
	}
	s.checksum = checksum

	return s, nil
}

// checksumPolicies hashes the JSON encoding of policies in evaluation order
func checksumPolicies(policies []*types.Policy) (string, error) {
	data, err := json.Marshal(policies)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Version returns the snapshot version
func (s *Snapshot) Version() int64 { return s.version }

// Checksum returns the sha256 of the policy set
func (s *Snapshot) Checksum() string { return s.checksum }

// CreatedAt returns when the snapshot was built
func (s *Snapshot) CreatedAt() time.Time { return s.createdAt }

// Comment describes the change that produced the snapshot
func (s *Snapshot) Comment() string { return s.comment }

// Len returns the number of policies, disabled ones included
func (s *Snapshot) Len() int { return len(s.policies) }

// Policies returns copies of all policies in evaluation order
func (s *Snapshot) Policies() []*types.Policy {
	out := make([]*types.Policy, len(s.policies))
	for i, p := range s.policies {
		out[i] = p.Clone()
	}
	return out
}

// Get returns a copy of the policy with the given id
func (s *Snapshot) Get(id string) (*types.Policy, bool) {
	p, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Applicable returns the enabled policies whose target selects c, in
// evaluation order. The returned policies are shared and must not be
// modified.
func (s *Snapshot) Applicable(c *types.AttributeContext) []*types.Policy {
	var out []*types.Policy
	for _, p := range s.policies {
		if p.Disabled || !p.Target.Applies(c) {
			continue
		}
		out = append(out, p)
	}
	return out
}

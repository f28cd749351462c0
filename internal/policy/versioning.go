package policy

import (
	"sync"
	"time"
)

// VersionInfo summarizes one historical snapshot
type VersionInfo struct {
	Version     int64     `json:"version"`
	Checksum    string    `json:"checksum"`
	CreatedAt   time.Time `json:"createdAt"`
	Comment     string    `json:"comment,omitempty"`
	PolicyCount int       `json:"policyCount"`
}

// History retains the most recent snapshots for listing and rollback
type History struct {
	mu          sync.RWMutex
	snapshots   []*Snapshot
	maxVersions int
}

// NewHistory creates a history keeping at most maxVersions snapshots
func NewHistory(maxVersions int) *History {
	if maxVersions <= 0 {
		maxVersions = 10
	}
	return &History{
		snapshots:   make([]*Snapshot, 0, maxVersions),
		maxVersions: maxVersions,
	}
}

// Record appends a snapshot, evicting the oldest past the limit
func (h *History) Record(s *Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.snapshots); n > 0 && h.snapshots[n-1].Checksum() == s.Checksum() {
		return
	}

	h.snapshots = append(h.snapshots, s)
	if len(h.snapshots) > h.maxVersions {
		h.snapshots = h.snapshots[len(h.snapshots)-h.maxVersions:]
	}
}

// Get retrieves a snapshot by version
func (h *History) Get(version int64) (*Snapshot, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.snapshots {
		if s.Version() == version {
			return s, nil
		}
	}
	return nil, ErrVersionNotFound(version)
}

// Previous returns the snapshot recorded before the latest one
func (h *History) Previous() (*Snapshot, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.snapshots) < 2 {
		return nil, ErrVersionNotFound(0)
	}
	return h.snapshots[len(h.snapshots)-2], nil
}

// List returns version summaries, newest first
func (h *History) List() []VersionInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]VersionInfo, 0, len(h.snapshots))
	for i := len(h.snapshots) - 1; i >= 0; i-- {
		s := h.snapshots[i]
		out = append(out, VersionInfo{
			Version:     s.Version(),
			Checksum:    s.Checksum(),
			CreatedAt:   s.CreatedAt(),
			Comment:     s.Comment(),
			PolicyCount: s.Len(),
		})
	}
	return out
}

// Len returns the number of retained snapshots
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.snapshots)
}

package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// HashChain links events so that tampering with any record breaks every
// later hash. Hash = SHA256(encoded event with hash cleared and prev_hash set).
type HashChain struct {
	mu       sync.Mutex
	lastHash string
}

// NewHashChain creates a chain starting at genesis
func NewHashChain() *HashChain {
	return &HashChain{}
}

// InitializeWithHash resumes a chain from a persisted hash
func (hc *HashChain) InitializeWithHash(hash string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.lastHash = hash
}

// Link sets PrevHash and Hash on the event and advances the chain
func (hc *HashChain) Link(event Event) error {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	h := event.Meta()
	h.PrevHash = hc.lastHash
	hash, err := computeHash(event)
	if err != nil {
		return err
	}
	h.Hash = hash
	hc.lastHash = hash
	return nil
}

// LastHash returns the hash of the most recently linked event
func (hc *HashChain) LastHash() string {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.lastHash
}

func computeHash(event Event) (string, error) {
	h := event.Meta()
	saved := h.Hash
	h.Hash = ""
	data, err := Encode(event)
	h.Hash = saved
	if err != nil {
		return "", fmt.Errorf("failed to encode event for hashing: %w", err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChain checks every hash and every prev_hash link, starting from
// the given genesis hash ("" for a fresh chain)
func VerifyChain(genesis string, events []Event) error {
	prev := genesis
	for i, event := range events {
		h := event.Meta()
		if h.PrevHash != prev {
			return fmt.Errorf("event %d has broken chain: expected prev_hash %q, got %q", i, prev, h.PrevHash)
		}

		hash, err := computeHash(event)
		if err != nil {
			return fmt.Errorf("failed to verify event %d: %w", i, err)
		}
		if hash != h.Hash {
			return fmt.Errorf("event %d has invalid hash", i)
		}
		prev = h.Hash
	}
	return nil
}

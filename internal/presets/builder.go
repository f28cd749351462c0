package presets

import (
	"sync"

	"github.com/laundrydesk/abac-pdp/pkg/types"
)

// Builder holds the context being edited in the tester. It never validates:
// incomplete contexts are left for the evaluator to reject.
type Builder struct {
	mu      sync.Mutex
	current types.AttributeContext
}

// NewBuilder starts from the baseline context
func NewBuilder() *Builder {
	return &Builder{current: baseline()}
}

// Current returns a copy of the context being edited
func (b *Builder) Current() types.AttributeContext {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current.Clone()
}

// LoadPreset replaces the whole context with the named scenario
func (b *Builder) LoadPreset(name string) (Preset, error) {
	p, err := LoadPreset(name)
	if err != nil {
		return Preset{}, err
	}
	b.mu.Lock()
	b.current = p.Context.Clone()
	b.mu.Unlock()
	return p, nil
}

// Load replaces the context with a copy of c
func (b *Builder) Load(c types.AttributeContext) {
	b.mu.Lock()
	b.current = c.Clone()
	b.mu.Unlock()
}

// Reset replaces the context with the baseline
func (b *Builder) Reset() types.AttributeContext {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = baseline()
	return b.current.Clone()
}

// Set edits one attribute; a nil value clears an optional attribute
func (b *Builder) Set(path string, value interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current.Set(path, value)
}

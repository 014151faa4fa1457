package spout

import "sync"

// SidelineID names a sideline request; it keys the filter step that request
// installed on a Filter Chain.
type SidelineID string

// Record is the raw (undeserialized) shape a FilterPredicate evaluates
// against.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
}

// FilterPredicate reports whether a record should be dropped.
type FilterPredicate func(r Record) bool

// FilterChain is an ordered, keyed collection of predicates. Evaluate
// short-circuits on the first predicate that returns true (drop). Every
// method takes the chain's own lock, so external collaborators (the Sideline
// Handler) can call InstallStep and RemoveStep from a foreign goroutine while
// the owning Virtual Consumer's worker evaluates the chain.
type FilterChain struct {
	mu    sync.RWMutex
	order []SidelineID
	steps map[SidelineID]FilterPredicate
}

// NewFilterChain returns an empty chain.
func NewFilterChain() *FilterChain {
	return &FilterChain{steps: make(map[SidelineID]FilterPredicate)}
}

// InstallStep adds or replaces the predicate for id. Replacing an existing
// id keeps its original position in iteration order.
func (c *FilterChain) InstallStep(id SidelineID, pred FilterPredicate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.steps[id]; !exists {
		c.order = append(c.order, id)
	}
	c.steps[id] = pred
}

// RemoveStep deletes the predicate for id, if present.
func (c *FilterChain) RemoveStep(id SidelineID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.steps[id]; !exists {
		return
	}
	delete(c.steps, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Evaluate returns true (drop this record) as soon as any installed step's
// predicate returns true; false if the chain is empty or every predicate
// returns false.
func (c *FilterChain) Evaluate(r Record) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range c.order {
		if c.steps[id](r) {
			return true
		}
	}
	return false
}

// Len reports the number of installed steps.
func (c *FilterChain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// StepIDs returns a snapshot of the installed step identifiers in
// iteration order.
func (c *FilterChain) StepIDs() []SidelineID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]SidelineID, len(c.order))
	copy(out, c.order)
	return out
}

// Negate returns a new FilterChain containing a single step for id that
// evaluates to the logical negation of the source chain's step for id. The
// Sideline Handler uses this on STOP to build the draining consumer's
// chain: it should consume exactly the records the stopped step used to
// divert, not the ones that continued past it.
func (c *FilterChain) Negate(id SidelineID) (*FilterChain, bool) {
	c.mu.RLock()
	pred, ok := c.steps[id]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	negated := NewFilterChain()
	negated.InstallStep(id, func(r Record) bool {
		return !pred(r)
	})
	return negated, true
}

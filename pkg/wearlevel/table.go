package wearlevel

import (
	"fmt"
	"iter"
	"slices"
	"sync"
)

// legal lists the permitted transitions out of each state. Bad has no
// outgoing edges.
var legal = map[State][]State{
	StateFree:      {StateAllocated, StateStatic, StateMoved, StateBad},
	StateAllocated: {StateFree, StateBad},
	StateStatic:    {StateFree, StateMoved, StateBad},
	StateMoved:     {StateFree, StateStatic, StateBad},
}

// CanTransition reports whether from -> to is an edge of the block state
// machine.
func CanTransition(from, to State) bool {
	return slices.Contains(legal[from], to)
}

type slot struct {
	mu sync.Mutex
	b  FlashBlock
}

// Table is the authoritative, fixed-size store of block records. Blocks
// are addressed by id (their index); each record is guarded by its own
// mutex so operations on different blocks never contend.
type Table struct {
	slots []slot
}

// NewTable creates a table of n Free blocks with zero counters.
func NewTable(n int) *Table {
	t := &Table{slots: make([]slot, n)}
	for i := range t.slots {
		t.slots[i].b = FlashBlock{ID: uint32(i), State: StateFree}
	}
	return t
}

// Len returns the number of blocks.
func (t *Table) Len() int { return len(t.slots) }

func (t *Table) slot(id uint32) (*slot, error) {
	if int64(id) >= int64(len(t.slots)) {
		return nil, invalidID(id, len(t.slots))
	}
	return &t.slots[id], nil
}

// Get returns a copy of the block record.
func (t *Table) Get(id uint32) (FlashBlock, error) {
	s, err := t.slot(id)
	if err != nil {
		return FlashBlock{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b, nil
}

// Update applies fn to the record without changing its state. fn works on a
// copy; if it returns an error, or the result would change the state or
// decrease a counter, nothing is committed.
func (t *Table) Update(id uint32, fn func(*FlashBlock) error) (FlashBlock, error) {
	s, err := t.slot(id)
	if err != nil {
		return FlashBlock{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.b
	if err := fn(&next); err != nil {
		return s.b, err
	}
	if next.State != s.b.State {
		return s.b, fmt.Errorf("%w: update cannot change state of block %d", ErrInvalidStateTransition, id)
	}
	if err := checkMonotonic(s.b, next); err != nil {
		return s.b, err
	}
	s.b = next
	return next, nil
}

// Transition atomically moves a block from one state to another. It fails
// without blocking if the block is not currently in state from (a lost
// race), if from -> to is not a legal edge, or if fn returns an error. fn
// may be nil and must not change the state itself.
func (t *Table) Transition(id uint32, from, to State, fn func(*FlashBlock) error) (FlashBlock, error) {
	s, err := t.slot(id)
	if err != nil {
		return FlashBlock{}, err
	}
	if !CanTransition(from, to) {
		return FlashBlock{}, fmt.Errorf("%w: %s -> %s is not allowed", ErrInvalidStateTransition, from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.b.State != from {
		return s.b, badTransition(id, s.b.State, from)
	}

	next := s.b
	if fn != nil {
		if err := fn(&next); err != nil {
			return s.b, err
		}
	}
	if err := checkMonotonic(s.b, next); err != nil {
		return s.b, err
	}
	next.State = to
	s.b = next
	return next, nil
}

// retire moves a non-Bad block to Bad and runs onRetire while still
// holding the block's lock, so that exactly one caller observes the
// transition. guard, when set, must accept the current record. It returns
// false if the block was already Bad or the guard refused it.
func (t *Table) retire(id uint32, guard func(FlashBlock) bool, onRetire func(FlashBlock)) (FlashBlock, bool, error) {
	s, err := t.slot(id)
	if err != nil {
		return FlashBlock{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.b.State == StateBad || (guard != nil && !guard(s.b)) {
		return s.b, false, nil
	}
	s.b.State = StateBad
	if onRetire != nil {
		onRetire(s.b)
	}
	return s.b, true, nil
}

// All yields a copy of every block in id order. Each record is read under
// its own lock; the sequence as a whole is not an atomic snapshot, which is
// sufficient for scoring and non-destructive scans. The sequence can be
// ranged over any number of times.
func (t *Table) All() iter.Seq[FlashBlock] {
	return func(yield func(FlashBlock) bool) {
		for i := range t.slots {
			s := &t.slots[i]
			s.mu.Lock()
			b := s.b
			s.mu.Unlock()
			if !yield(b) {
				return
			}
		}
	}
}

// Blocks returns a copy of every record.
func (t *Table) Blocks() []FlashBlock {
	return slices.Collect(t.All())
}

// load overwrites the table with the given records. Only used while the
// engine is being built, before it is shared.
func (t *Table) load(blocks []FlashBlock) {
	for _, b := range blocks {
		t.slots[b.ID].b = b
	}
}

func checkMonotonic(prev, next FlashBlock) error {
	if next.ID != prev.ID {
		return fmt.Errorf("%w: block id is immutable", ErrInvalidStateTransition)
	}
	if next.EraseCount < prev.EraseCount || next.WriteCount < prev.WriteCount || next.Generation < prev.Generation {
		return fmt.Errorf("%w: block %d", ErrCounterRegression, prev.ID)
	}
	return nil
}

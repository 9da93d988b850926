// Package changes tracks the entities added, modified and deleted inside one
// unit of work so they can be replayed after the commit succeeds.
package changes

// Set is a snapshot of one transaction's pending changes.
// The three lists are disjoint.
type Set struct {
	Added   []interface{}
	Updated []interface{}
	Deleted []interface{}
}

// Len returns the total number of entities in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Added) + len(s.Updated) + len(s.Deleted)
}

// Empty reports whether the set holds no changes.
func (s *Set) Empty() bool {
	return s.Len() == 0
}

type state int

const (
	stateNew state = iota + 1
	stateDirty
	stateDeleted
)

// Tracker records pending changes by entity identity (pointer equality).
// A Tracker belongs to a single session and is not safe for concurrent use.
type Tracker struct {
	order  []interface{}
	states map[interface{}]state
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{states: make(map[interface{}]state)}
}

// MarkNew records e as inserted in this transaction.
func (t *Tracker) MarkNew(e interface{}) {
	if _, ok := t.states[e]; ok {
		return
	}
	t.states[e] = stateNew
	t.order = append(t.order, e)
}

// MarkDirty records e as modified. New entities stay new; deleted ones stay deleted.
func (t *Tracker) MarkDirty(e interface{}) {
	if _, ok := t.states[e]; ok {
		return
	}
	t.states[e] = stateDirty
	t.order = append(t.order, e)
}

// MarkDeleted records e as deleted. Deleting an entity that is new in this
// transaction cancels it: it was never written.
func (t *Tracker) MarkDeleted(e interface{}) {
	switch t.states[e] {
	case stateNew:
		delete(t.states, e)
		t.remove(e)
		return
	case stateDeleted:
		return
	case stateDirty:
		t.states[e] = stateDeleted
		return
	}
	t.states[e] = stateDeleted
	t.order = append(t.order, e)
}

func (t *Tracker) remove(e interface{}) {
	for i, o := range t.order {
		if o == e {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

// Pending returns every tracked entity with its operation, in first-seen order.
func (t *Tracker) Pending(fn func(e interface{}, isNew, isDirty, isDeleted bool) error) error {
	for _, e := range t.order {
		s := t.states[e]
		if err := fn(e, s == stateNew, s == stateDirty, s == stateDeleted); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot copies the pending changes into a new Set. It must be taken before
// the underlying transaction commits.
func (t *Tracker) Snapshot() *Set {
	set := &Set{}
	for _, e := range t.order {
		switch t.states[e] {
		case stateNew:
			set.Added = append(set.Added, e)
		case stateDirty:
			set.Updated = append(set.Updated, e)
		case stateDeleted:
			set.Deleted = append(set.Deleted, e)
		}
	}
	return set
}

// Len returns the number of tracked entities.
func (t *Tracker) Len() int {
	return len(t.order)
}

// Reset drops all bookkeeping.
func (t *Tracker) Reset() {
	t.order = nil
	t.states = make(map[interface{}]state)
}

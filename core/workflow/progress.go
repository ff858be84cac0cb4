package workflow

import (
	"sort"
	"sync"
)

// State holds the persisted done flags of a record, keyed by step key.
// Missing keys read as false.
type State map[string]bool

// PendingSet holds step keys marked complete locally but not yet confirmed by
// the record store. The caller owns its lifecycle: one set per process per
// record, cleared when a submission reaches a terminal state. One set may be
// shared by concurrent sessions of the same record, so all methods are safe
// for concurrent use; a nil set reads as empty.
type PendingSet struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

func NewPendingSet(keys ...string) *PendingSet {
	ps := &PendingSet{keys: make(map[string]struct{}, len(keys))}
	ps.Add(keys...)
	return ps
}

func (ps *PendingSet) Has(key string) bool {
	if ps == nil {
		return false
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	_, ok := ps.keys[key]
	return ok
}

func (ps *PendingSet) Add(keys ...string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, k := range keys {
		ps.keys[k] = struct{}{}
	}
}

func (ps *PendingSet) Remove(keys ...string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, k := range keys {
		delete(ps.keys, k)
	}
}

func (ps *PendingSet) Clear() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.keys = make(map[string]struct{})
}

func (ps *PendingSet) Len() int {
	if ps == nil {
		return 0
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.keys)
}

// Keys returns the pending step keys in sorted order.
func (ps *PendingSet) Keys() []string {
	if ps == nil {
		return nil
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	keys := make([]string, 0, len(ps.keys))
	for k := range ps.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type StepStatus string

const (
	StatusDone    StepStatus = "done"
	StatusCurrent StepStatus = "current"
	StatusPending StepStatus = "pending"
)

type Progress struct {
	// CurrentIndex is the position of the first incomplete step, or
	// len(steps) when the process is fully complete.
	CurrentIndex int
	PerStep      []StepStatus
}

func (p Progress) Complete() bool { return p.CurrentIndex == len(p.PerStep) }

// ComputeStatus derives the progress of a process from its persisted state
// merged with the optimistic pending set. A pending step displays as done
// before remote confirmation.
//
// The current step is the first one not done. Persisted data may violate the
// ordering invariant (manual edits upstream); the first gap still decides the
// current step, and everything past it renders as pending.
func ComputeStatus(steps []Step, state State, pending *PendingSet) Progress {
	prog := Progress{CurrentIndex: len(steps), PerStep: make([]StepStatus, len(steps))}

	for i, step := range steps {
		if !state[step.Key] && !pending.Has(step.Key) {
			prog.CurrentIndex = i
			break
		}
	}
	for i := range steps {
		switch {
		case i < prog.CurrentIndex:
			prog.PerStep[i] = StatusDone
		case i == prog.CurrentIndex:
			prog.PerStep[i] = StatusCurrent
		default:
			prog.PerStep[i] = StatusPending
		}
	}
	return prog
}

package entity

import (
	"context"
	"errors"
	"sync"
)

// Member is the collection-independent face of a repository
type Member interface {
	Collection() string
	// ApplyRemap replaces a confirmed temporary identifier in the record id and
	// in every reference field pointing at collection
	ApplyRemap(ctx context.Context, collection string, tempID, realID int64) error
	Refresh(ctx context.Context) error
}

// Nudger is told whenever new work was queued
type Nudger interface {
	Trigger()
}

// Registry connects repositories with the sync engine
type Registry struct {
	mu      sync.RWMutex
	members []Member
	nudger  Nudger
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = append(r.members, m)
}

// SetNudger wires the component that drains the queue
func (r *Registry) SetNudger(n Nudger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nudger = n
}

// Nudge asks the sync engine to drain soon
func (r *Registry) Nudge() {
	r.mu.RLock()
	n := r.nudger
	r.mu.RUnlock()
	if n != nil {
		n.Trigger()
	}
}

func (r *Registry) Members() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Member(nil), r.members...)
}

// Lookup returns the repository owning collection
func (r *Registry) Lookup(collection string) (Member, bool) {
	for _, m := range r.Members() {
		if m.Collection() == collection {
			return m, true
		}
	}
	return nil, false
}

// BroadcastRemap delivers a confirmed identifier to every repository
func (r *Registry) BroadcastRemap(ctx context.Context, collection string, tempID, realID int64) error {
	var errs []error
	for _, m := range r.Members() {
		if err := m.ApplyRemap(ctx, collection, tempID, realID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

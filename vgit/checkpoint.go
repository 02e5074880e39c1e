package vgit

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Checkpoint pins the binding refs/<name> had when it was taken, so the ref
// can be put back after it is moved or deleted. The pinned objects stay in
// the store until Rollback or Release is called, exactly one of which must
// be.
type Checkpoint struct {
	s       *Store
	name    string
	existed bool
	target  string
	retains []string
	done    bool
}

// Checkpoint records the current binding of refs/<name>. The ref does not
// need to exist.
func (s *Store) Checkpoint(name string) (*Checkpoint, error) {
	if err := validateRefName(name); err != nil {
		return nil, err
	}
	fullName := refsPrefix + name

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := &Checkpoint{s: s, name: fullName}
	if r, ok := s.byName[fullName]; ok {
		cp.existed = true
		cp.target = r.target
		cp.retains = append([]string(nil), r.retains...)
		for _, id := range cp.retains {
			s.objects[id]++
		}
	}
	return cp, nil
}

// Rollback rebinds the ref to its checkpointed commit, or removes it if it
// did not exist then. Objects only the discarded binding retained are
// removed.
func (cp *Checkpoint) Rollback(ctx context.Context) error {
	s := cp.s
	log := s.log.WithField("ref", cp.name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if cp.done {
		return fmt.Errorf("%w: checkpoint of %s already finished", ErrInvalidState, cp.name)
	}
	cp.done = true

	current, bound := s.byName[cp.name]
	switch {
	case bound && cp.existed:
		previous := current.retains
		current.target = cp.target
		current.retains = cp.retains
		s.releaseLocked(ctx, log, previous)
	case bound:
		delete(s.byName, cp.name)
		s.refs = deleteRef(s.refs, current)
		s.releaseLocked(ctx, log, current.retains)
	case cp.existed:
		r := &ref{name: cp.name, target: cp.target, retains: cp.retains}
		s.refs = append(s.refs, r)
		s.byName[cp.name] = r
	}

	refOps.WithLabelValues("rollback", "ok").Inc()
	s.updateGaugesLocked()
	log.WithFields(logrus.Fields{
		"commit":  cp.target,
		"objects": len(s.objects),
	}).Info("ref rolled back")
	return nil
}

// Release drops the pin without touching the ref.
func (cp *Checkpoint) Release(ctx context.Context) {
	s := cp.s

	s.mu.Lock()
	defer s.mu.Unlock()

	if cp.done {
		return
	}
	cp.done = true
	s.releaseLocked(ctx, s.log.WithField("ref", cp.name), cp.retains)
	s.updateGaugesLocked()
}

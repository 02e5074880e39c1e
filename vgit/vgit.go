// Package vgit implements a virtual git repository: an in-process object
// store and ref table whose objects hash and compress exactly like the ones
// git itself writes, so they can be served over the dumb HTTP protocol.
//
// Every ref remembers the objects it retains: its commit, tree and blobs, and
// for derived refs everything the parent commit reaches. Objects are
// reference counted across those sets, so deleting a ref only removes objects
// no surviving ref needs.
package vgit

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"git.wyat.me/zuul-gateway/object"
	"git.wyat.me/zuul-gateway/store"
	"git.wyat.me/zuul-gateway/store/memory"
)

const (
	// MasterRef is the primary branch. It is created with the store and can
	// not be deleted.
	MasterRef = "heads/master"

	// SeedAuthor signs the initial commit.
	SeedAuthor = "Zuul <z@local>"

	refsPrefix  = "refs/"
	headsPrefix = "heads/"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidState   = errors.New("invalid state")
	ErrInvalidRefName = errors.New("invalid ref name")
	ErrProtectedRef   = errors.New("protected ref")
)

// RefKind tells primary branches apart from refs derived from them.
type RefKind int

const (
	// KindPrimary refs live under heads/ and get parentless commits.
	KindPrimary RefKind = iota
	// KindDerived refs (pull/<id>/head and anything else) get a commit whose
	// parent is the current tip of MasterRef.
	KindDerived
)

// KindOf classifies a ref name given without its "refs/" prefix.
func KindOf(name string) RefKind {
	if strings.HasPrefix(name, headsPrefix) {
		return KindPrimary
	}
	return KindDerived
}

// File is one entry of the file set committed by AddRef. Order matters: tree
// entries are written in the order files are given.
type File struct {
	Name    string
	Content []byte
}

// Ref is a listed reference. Name carries the "refs/" prefix.
type Ref struct {
	Name   string
	Target string
}

type ref struct {
	name    string
	target  string
	retains []string
}

type Store struct {
	mu      sync.RWMutex
	backend store.Backend
	refs    []*ref
	byName  map[string]*ref
	// objects counts, per id, how many refs retain it.
	objects map[string]int

	now func() time.Time
	log logrus.FieldLogger
}

type Option func(*Store)

// WithBackend stores object bytes in b instead of process memory.
func WithBackend(b store.Backend) Option {
	return func(s *Store) {
		s.backend = b
	}
}

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// New creates a store seeded with MasterRef pointing at a commit of a single
// empty README.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	s := &Store{
		byName:  make(map[string]*ref),
		objects: make(map[string]int),
		now:     time.Now,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.backend == nil {
		s.backend = memory.New()
	}

	files := []File{{Name: "README", Content: []byte{}}}
	if _, err := s.AddRef(ctx, MasterRef, SeedAuthor, "init", files); err != nil {
		return nil, fmt.Errorf("seed %s: %w", MasterRef, err)
	}
	return s, nil
}

type encoded struct {
	id         string
	compressed []byte
}

func encode(obj *object.Object) (encoded, error) {
	compressed, id, err := object.Serialize(obj)
	if err != nil {
		return encoded{}, fmt.Errorf("serialize %s: %w", obj.Type, err)
	}
	return encoded{id: id, compressed: compressed}, nil
}

// AddRef commits files under refs/<name> and returns the new commit id. An
// existing ref of the same name is moved to the new commit.
func (s *Store) AddRef(ctx context.Context, name, author, title string, files []File) (string, error) {
	id, err := s.addRef(ctx, name, author, title, files)
	if err != nil {
		refOps.WithLabelValues("add", "error").Inc()
		return "", err
	}
	refOps.WithLabelValues("add", "ok").Inc()
	return id, nil
}

func (s *Store) addRef(ctx context.Context, name, author, title string, files []File) (string, error) {
	if err := validateRefName(name); err != nil {
		return "", err
	}

	pending := make([]encoded, 0, len(files)+2)
	entries := make([]object.TreeEntry, 0, len(files))
	for _, f := range files {
		blob, err := encode(object.NewBlob(f.Content))
		if err != nil {
			return "", err
		}
		pending = append(pending, blob)
		entries = append(entries, object.TreeEntry{Mode: object.ModeRegularFile, Name: f.Name, ID: blob.id})
	}

	treeObj, err := object.NewTree(entries)
	if err != nil {
		return "", fmt.Errorf("build tree: %w", err)
	}
	tree, err := encode(treeObj)
	if err != nil {
		return "", err
	}
	pending = append(pending, tree)

	fullName := refsPrefix + name
	log := s.log.WithField("ref", fullName)

	s.mu.Lock()
	defer s.mu.Unlock()

	var parent *ref
	if KindOf(name) == KindDerived {
		master, ok := s.byName[refsPrefix+MasterRef]
		if !ok {
			return "", fmt.Errorf("%w: %s has no tip to parent %s on", ErrInvalidState, refsPrefix+MasterRef, fullName)
		}
		parent = master
	}

	commit := object.Commit{
		Tree:    tree.id,
		Author:  author,
		When:    s.now(),
		Message: title,
	}
	if parent != nil {
		commit.Parent = parent.target
	}
	commitObj, err := encode(object.NewCommit(commit))
	if err != nil {
		return "", err
	}
	pending = append(pending, commitObj)

	retains, err := s.putLocked(ctx, log, pending)
	if err != nil {
		return "", err
	}
	if parent != nil {
		// Primary commits are parentless, so the parent's retain set is the
		// whole history reachable from the new commit.
		for _, id := range parent.retains {
			if !slices.Contains(retains, id) {
				retains = append(retains, id)
			}
		}
	}
	for _, id := range retains {
		s.objects[id]++
	}

	if existing, ok := s.byName[fullName]; ok {
		previous := existing.retains
		existing.target = commitObj.id
		existing.retains = retains
		s.releaseLocked(ctx, log, previous)
	} else {
		r := &ref{name: fullName, target: commitObj.id, retains: retains}
		s.refs = append(s.refs, r)
		s.byName[fullName] = r
	}

	s.updateGaugesLocked()
	log.WithFields(logrus.Fields{
		"commit":  commitObj.id,
		"parent":  commit.Parent,
		"files":   len(files),
		"objects": len(s.objects),
	}).Info("ref added")

	return commitObj.id, nil
}

// putLocked writes the objects the index does not know yet and returns the
// distinct ids of pending. On failure the objects written so far are removed
// again and the index is left untouched.
func (s *Store) putLocked(ctx context.Context, log logrus.FieldLogger, pending []encoded) ([]string, error) {
	ids := make([]string, 0, len(pending))
	seen := make(map[string]struct{}, len(pending))
	var written []string

	for _, e := range pending {
		if _, ok := seen[e.id]; ok {
			continue
		}
		seen[e.id] = struct{}{}
		ids = append(ids, e.id)

		if _, ok := s.objects[e.id]; ok {
			log.WithField("object", e.id).Debug("object already stored")
			continue
		}
		if err := s.backend.Put(ctx, e.id, e.compressed); err != nil {
			for _, id := range written {
				if derr := s.backend.Delete(ctx, id); derr != nil {
					log.WithError(derr).WithField("object", id).Warn("rollback: delete object")
				}
			}
			return nil, fmt.Errorf("put object %s: %w", e.id, err)
		}
		written = append(written, e.id)
	}
	return ids, nil
}

// releaseLocked drops one retain of every id and removes objects nothing
// retains anymore.
func (s *Store) releaseLocked(ctx context.Context, log logrus.FieldLogger, ids []string) {
	for _, id := range ids {
		s.objects[id]--
		if s.objects[id] > 0 {
			continue
		}
		delete(s.objects, id)
		// The index no longer lists id, so a failed delete only leaks bytes in
		// the backend; it never makes the object visible again.
		if err := s.backend.Delete(ctx, id); err != nil {
			log.WithError(err).WithField("object", id).Warn("delete object")
		}
	}
}

// DeleteRef removes refs/<name> and the objects only it retained.
func (s *Store) DeleteRef(ctx context.Context, name string) error {
	if name == MasterRef {
		return fmt.Errorf("%w: %s", ErrProtectedRef, refsPrefix+name)
	}

	fullName := refsPrefix + name
	log := s.log.WithField("ref", fullName)

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byName[fullName]
	if !ok {
		refOps.WithLabelValues("delete", "not_found").Inc()
		return fmt.Errorf("%w: ref %s", ErrNotFound, fullName)
	}

	delete(s.byName, fullName)
	s.refs = deleteRef(s.refs, r)
	s.releaseLocked(ctx, log, r.retains)

	refOps.WithLabelValues("delete", "ok").Inc()
	s.updateGaugesLocked()
	log.WithField("objects", len(s.objects)).Info("ref deleted")
	return nil
}

func deleteRef(refs []*ref, r *ref) []*ref {
	return slices.DeleteFunc(refs, func(candidate *ref) bool { return candidate == r })
}

// ListRefs returns every ref in the order it was first added.
func (s *Store) ListRefs() []Ref {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refs := make([]Ref, 0, len(s.refs))
	for _, r := range s.refs {
		refs = append(refs, Ref{Name: r.name, Target: r.target})
	}
	return refs
}

// InfoRefs renders the refs as a dumb HTTP info/refs body.
func (s *Store) InfoRefs() string {
	var b strings.Builder
	for _, r := range s.ListRefs() {
		b.WriteString(r.Target)
		b.WriteByte('\t')
		b.WriteString(r.Name)
		b.WriteByte('\n')
	}
	return b.String()
}

// Head is the content of the repository HEAD file.
func (s *Store) Head() string {
	return "ref: " + refsPrefix + MasterRef
}

// Resolve returns the tip of a ref given with or without its "refs/" prefix.
func (s *Store) Resolve(name string) (string, bool) {
	if !strings.HasPrefix(name, refsPrefix) {
		name = refsPrefix + name
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byName[name]
	if !ok {
		return "", false
	}
	return r.target, true
}

// GetObject returns the compressed loose object stored under id.
func (s *Store) GetObject(ctx context.Context, id string) ([]byte, error) {
	if !object.ValidID(id) {
		return nil, fmt.Errorf("%w: object %q", ErrNotFound, id)
	}

	s.mu.RLock()
	_, ok := s.objects[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: object %s", ErrNotFound, id)
	}

	// The backend is read outside the lock so a slow remote backend does not
	// stall writers. A concurrent release makes the read miss, which is
	// reported as not found.
	data, err := s.backend.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: object %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", id, err)
	}
	return data, nil
}

// GetLooseObject resolves the objects/<prefix>/<suffix> path form of an id.
func (s *Store) GetLooseObject(ctx context.Context, prefix, suffix string) ([]byte, error) {
	if len(prefix) != 2 {
		return nil, fmt.Errorf("%w: object %s/%s", ErrNotFound, prefix, suffix)
	}
	return s.GetObject(ctx, object.JoinID(prefix, suffix))
}

// ReadObject returns the decoded object stored under id.
func (s *Store) ReadObject(ctx context.Context, id string) (*object.Object, error) {
	data, err := s.GetObject(ctx, id)
	if err != nil {
		return nil, err
	}
	obj, err := object.Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("decode object %s: %w", id, err)
	}
	return obj, nil
}

func (s *Store) NumRefs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.refs)
}

func (s *Store) NumObjects() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func validateRefName(name string) error {
	switch {
	case name == "",
		strings.HasPrefix(name, "/"),
		strings.HasSuffix(name, "/"),
		strings.HasPrefix(name, refsPrefix),
		strings.Contains(name, "//"),
		strings.Contains(name, ".."),
		strings.ContainsAny(name, " \t\n\x00"):
		return fmt.Errorf("%w: %q", ErrInvalidRefName, name)
	}
	return nil
}

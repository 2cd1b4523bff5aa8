// Package resource tracks the per-request resources (temp buffers,
// sockets, async tasks) an upload proxy request opens, so every phase
// transition and the final error path can guarantee cleanup. The
// entries-map-plus-counters shape is grounded on gobeaver-filekit's
// cache.go MemoryCache (a mutex-guarded map with hit/miss/eviction
// counters); here the "entries" are open resources instead of cached
// values and the counters are size/age instead of hit rate.
package resource

import (
	"strconv"
	"sync"
	"time"
)

// Kind names the category of a tracked resource, used in logs and in
// the final per-request accounting line.
type Kind string

const (
	KindBuffer   Kind = "buffer"
	KindSocket   Kind = "socket"
	KindTempFile Kind = "temp_file"
	KindTask     Kind = "async_task"
)

// entry records one tracked resource: when it was created, when it was
// last touched, and how large it is (0 for resources without a natural
// size, such as sockets).
type entry struct {
	kind       Kind
	createdAt  time.Time
	lastAccess time.Time
	size       int64
	closer     func() error
}

// Stats is a point-in-time snapshot of everything currently tracked.
type Stats struct {
	OpenCount  int
	TotalBytes int64
	ByKind     map[Kind]int
}

// Tracker is the per-request bookkeeper. Callers register a resource
// when they open it and call Release when it is torn down; Tracker
// itself never opens anything and closes a resource only by calling the
// closer registered with it (from Release or ReleaseAll), mirroring
// MemoryCache's separation
// between storage and the operations that populate it.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry
	seq     int64
}

// New returns an empty Tracker, one per request.
func New() *Tracker {
	return &Tracker{entries: make(map[string]*entry)}
}

// Track registers a resource under kind, recording size (0 if not
// applicable) and the func to call to release it. It returns a handle
// string to pass to Release or Touch.
func (t *Tracker) Track(kind Kind, size int64, closer func() error) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	handle := handleFor(kind, t.seq)
	now := time.Now()
	t.entries[handle] = &entry{
		kind:       kind,
		createdAt:  now,
		lastAccess: now,
		size:       size,
		closer:     closer,
	}
	return handle
}

// Touch updates the last-access time for handle, for resources whose
// use isn't naturally captured by a single Track/Release pair (e.g. a
// socket read in a loop).
func (t *Tracker) Touch(handle string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[handle]; ok {
		e.lastAccess = time.Now()
	}
}

// Release invokes the resource's closer (if any) and removes it from
// the tracker. Release is idempotent: releasing an unknown or
// already-released handle is a no-op that returns nil.
func (t *Tracker) Release(handle string) error {
	t.mu.Lock()
	e, ok := t.entries[handle]
	if ok {
		delete(t.entries, handle)
	}
	t.mu.Unlock()

	if !ok || e.closer == nil {
		return nil
	}
	return e.closer()
}

// ReleaseAll tears down every still-tracked resource, in no particular
// order, collecting (not short-circuiting on) individual errors. This
// is the backstop the orchestrator's cleanup path calls after running
// its priority-ordered cleanup tasks, to catch anything a bug left
// untracked-for.
func (t *Tracker) ReleaseAll() []error {
	t.mu.Lock()
	handles := make([]string, 0, len(t.entries))
	for h := range t.entries {
		handles = append(handles, h)
	}
	t.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := t.Release(h); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Stats returns a snapshot of everything currently tracked.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{ByKind: make(map[Kind]int)}
	for _, e := range t.entries {
		s.OpenCount++
		s.TotalBytes += e.size
		s.ByKind[e.kind]++
	}
	return s
}

// OpenCount is a convenience accessor returning the number of
// still-tracked resources.
func (t *Tracker) OpenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func handleFor(kind Kind, seq int64) string {
	return string(kind) + ":" + strconv.FormatInt(seq, 10)
}

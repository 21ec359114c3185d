// Package queue holds the daemon's two in-memory stores: the outgoing file
// queue and the pending URL queue. Both are mutex-guarded; mutations emit
// push events through a sink after the lock is released, never under it.
package queue

import "sync"

// FilesSink receives the full file list after every mutation. The daemon
// wires this to the event push server.
type FilesSink interface {
	FilesChanged(paths []string)
}

// Files is the outgoing file queue: absolute paths in insertion order,
// deduplicated by exact string match. Entries are stable until an explicit
// clear or remove.
type Files struct {
	mu    sync.Mutex
	paths []string
	seen  map[string]struct{}
	sink  FilesSink
}

// NewFiles creates an empty file queue. sink may be nil.
func NewFiles(sink FilesSink) *Files {
	return &Files{
		seen: make(map[string]struct{}),
		sink: sink,
	}
}

// List returns a snapshot of the queue in insertion order.
func (f *Files) List() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

// Enqueue appends paths not already present, preserving insertion order,
// then emits the new full list if at least one path was added.
func (f *Files) Enqueue(paths ...string) {
	f.mu.Lock()
	changed := false
	for _, p := range paths {
		if _, dup := f.seen[p]; dup {
			continue
		}
		f.seen[p] = struct{}{}
		f.paths = append(f.paths, p)
		changed = true
	}
	snap := f.snapshotLocked()
	f.mu.Unlock()

	if changed {
		f.emit(snap)
	}
}

// Remove deletes one path if present and emits the new full list.
func (f *Files) Remove(path string) {
	f.mu.Lock()
	if _, ok := f.seen[path]; !ok {
		f.mu.Unlock()
		return
	}
	delete(f.seen, path)
	for i, p := range f.paths {
		if p == path {
			f.paths = append(f.paths[:i], f.paths[i+1:]...)
			break
		}
	}
	snap := f.snapshotLocked()
	f.mu.Unlock()

	f.emit(snap)
}

// Clear empties the queue and emits the (empty) list.
func (f *Files) Clear() {
	f.mu.Lock()
	f.paths = nil
	f.seen = make(map[string]struct{})
	f.mu.Unlock()

	f.emit([]string{})
}

func (f *Files) snapshotLocked() []string {
	snap := make([]string, len(f.paths))
	copy(snap, f.paths)
	return snap
}

func (f *Files) emit(snap []string) {
	if f.sink != nil {
		f.sink.FilesChanged(snap)
	}
}

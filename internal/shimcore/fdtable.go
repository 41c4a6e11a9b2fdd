package shimcore

import "sync"

// OpenFileRecord tracks one Shim-managed open file descriptor: its virtual
// path, whether it was opened for writing (and therefore owns a staging
// file), and a reference count so dup/dup2 aliasing shares one record
// instead of duplicating Daemon state per alias.
type OpenFileRecord struct {
	VPath       string
	WorkspaceID string
	WriteIntent bool
	StagingPath string // host path of the CoW staging file, set once OpenForWrite succeeds
	Dirty       bool   // true once any write(2) has landed in the staging file
	Mode        uint32
	refs        int32
}

// FDTable maps host file descriptors to OpenFileRecords. It is sharded by
// fd modulo the shard count to keep lock contention low across the many
// concurrent open/close pairs a build tool or compiler driver issues.
type FDTable struct {
	shards [fdTableShards]fdShard
}

const fdTableShards = 16

type fdShard struct {
	mu      sync.Mutex
	records map[int32]*OpenFileRecord
}

// NewFDTable constructs an empty table.
func NewFDTable() *FDTable {
	t := &FDTable{}
	for i := range t.shards {
		t.shards[i].records = make(map[int32]*OpenFileRecord)
	}
	return t
}

func (t *FDTable) shardFor(fd int32) *fdShard {
	idx := fd % fdTableShards
	if idx < 0 {
		idx += fdTableShards
	}
	return &t.shards[idx]
}

// Insert registers rec under fd with an initial refcount of 1.
func (t *FDTable) Insert(fd int32, rec *OpenFileRecord) {
	rec.refs = 1
	s := t.shardFor(fd)
	s.mu.Lock()
	s.records[fd] = rec
	s.mu.Unlock()
}

// Lookup returns the record for fd, if the Shim is tracking it.
func (t *FDTable) Lookup(fd int32) (*OpenFileRecord, bool) {
	s := t.shardFor(fd)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[fd]
	return rec, ok
}

// Alias registers newFD as sharing the same OpenFileRecord as fd, the
// dup/dup2 case: both descriptors increment the same record's refcount and
// either one closing decrements it rather than finalizing the commit.
func (t *FDTable) Alias(fd, newFD int32) (*OpenFileRecord, bool) {
	rec, ok := t.Lookup(fd)
	if !ok {
		return nil, false
	}
	s := t.shardFor(newFD)
	s.mu.Lock()
	rec.refs++
	s.records[newFD] = rec
	s.mu.Unlock()
	return rec, true
}

// Remove drops fd from the table and decrements its record's refcount,
// reporting whether this was the last reference (the caller must finalize
// any pending commit only when last is true).
func (t *FDTable) Remove(fd int32) (rec *OpenFileRecord, last bool) {
	s := t.shardFor(fd)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[fd]
	if !ok {
		return nil, false
	}
	delete(s.records, fd)
	rec.refs--
	return rec, rec.refs <= 0
}

// Clone returns a new table with the same fd -> record entries, each
// record shared (not copied) so refcounts stay consistent across parent
// and child after a fork. Used by the Shim's atfork child handler: the
// child inherits the parent's open descriptors verbatim since fork(2)
// duplicates the fd table at the OS level too.
func (t *FDTable) Clone() *FDTable {
	clone := NewFDTable()
	for i := range t.shards {
		t.shards[i].mu.Lock()
		for fd, rec := range t.shards[i].records {
			clone.shards[i].records[fd] = rec
		}
		t.shards[i].mu.Unlock()
	}
	return clone
}

// Len reports the total number of tracked descriptors, for tests and
// diagnostics.
func (t *FDTable) Len() int {
	n := 0
	for i := range t.shards {
		t.shards[i].mu.Lock()
		n += len(t.shards[i].records)
		t.shards[i].mu.Unlock()
	}
	return n
}

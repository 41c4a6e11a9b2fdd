// Package manifest implements the layered VirtualPath→VnodeEntry mapping.
// Each layer is backed by its own bbolt database: one entries bucket per
// layer plus a tombstone bucket that lets a writable delta layer hide an
// entry from the read-only layers beneath it.
package manifest

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/velo-sh/rift/internal/vnode"
)

var (
	bucketEntries    = []byte("entries")
	bucketTombstones = []byte("tombstones")
)

// Layer is a single level of the Manifest's layer stack: either the
// writable per-workspace delta layer, or one of the read-only base layers
// shared across workspaces.
type Layer struct {
	db       *bolt.DB
	path     string
	readOnly bool
}

// OpenLayer opens (or creates, for a writable layer) the bbolt database at
// path. Base layers are opened with bolt.Options{ReadOnly: true} so many
// Daemon processes can share one base layer file concurrently.
func OpenLayer(path string, readOnly bool) (*Layer, error) {
	opts := &bolt.Options{ReadOnly: readOnly}
	db, err := bolt.Open(path, 0o640, opts)
	if err != nil {
		return nil, fmt.Errorf("manifest: open layer %q: %w", path, err)
	}

	if !readOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			if _, err := tx.CreateBucketIfNotExists(bucketEntries); err != nil {
				return err
			}
			if _, err := tx.CreateBucketIfNotExists(bucketTombstones); err != nil {
				return err
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("manifest: init layer %q: %w", path, err)
		}
	}

	return &Layer{db: db, path: path, readOnly: readOnly}, nil
}

// Close closes the underlying database.
func (l *Layer) Close() error { return l.db.Close() }

// get looks up vpath in this layer only, reporting whether a tombstone was
// found (which, for the writable delta layer, must stop the search of
// lower layers regardless of whether an entry also exists).
func (l *Layer) get(vpath string) (entry vnode.Entry, found bool, tombstoned bool, err error) {
	err = l.db.View(func(tx *bolt.Tx) error {
		if tb := tx.Bucket(bucketTombstones); tb != nil {
			if v := tb.Get([]byte(vpath)); v != nil {
				tombstoned = true
				return nil
			}
		}
		b := tx.Bucket(bucketEntries)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(vpath))
		if v == nil {
			return nil
		}
		if jerr := json.Unmarshal(v, &entry); jerr != nil {
			return fmt.Errorf("manifest: decode entry %q: %w", vpath, jerr)
		}
		found = true
		return nil
	})
	return entry, found, tombstoned, err
}

// put writes entry at vpath, clearing any tombstone for the same path.
func (l *Layer) put(vpath string, entry vnode.Entry) error {
	if l.readOnly {
		return fmt.Errorf("manifest: layer %q is read-only", l.path)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("manifest: encode entry %q: %w", vpath, err)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		if tb := tx.Bucket(bucketTombstones); tb != nil {
			if err := tb.Delete([]byte(vpath)); err != nil {
				return err
			}
		}
		b := tx.Bucket(bucketEntries)
		return b.Put([]byte(vpath), data)
	})
}

// tombstone removes vpath from this layer and records a tombstone, so a
// lower layer's entry at the same path is hidden rather than exposed.
func (l *Layer) tombstone(vpath string) error {
	if l.readOnly {
		return fmt.Errorf("manifest: layer %q is read-only", l.path)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		if err := b.Delete([]byte(vpath)); err != nil {
			return err
		}
		tb := tx.Bucket(bucketTombstones)
		return tb.Put([]byte(vpath), []byte{1})
	})
}

// forEachChild calls fn for every entry (and tombstone) directly stored in
// this layer whose vpath has dir as a strict prefix. The bucket is iterated
// in lexical key order, which bolt's B+tree already maintains.
func (l *Layer) forEachChild(dir string, fn func(vpath string, entry vnode.Entry, tombstoned bool) error) error {
	return l.db.View(func(tx *bolt.Tx) error {
		if tb := tx.Bucket(bucketTombstones); tb != nil {
			c := tb.Cursor()
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				vpath := string(k)
				if isDirectChild(dir, vpath) {
					if err := fn(vpath, vnode.Entry{}, true); err != nil {
						return err
					}
				}
			}
		}
		b := tx.Bucket(bucketEntries)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			vpath := string(k)
			if !isDirectChild(dir, vpath) {
				continue
			}
			var entry vnode.Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("manifest: decode entry %q: %w", vpath, err)
			}
			if err := fn(vpath, entry, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// forEachAll calls fn for every entry and tombstone stored in this layer,
// used by Manifest.Snapshot to flatten the whole layer stack.
func (l *Layer) forEachAll(fn func(vpath string, entry vnode.Entry, tombstoned bool) error) error {
	return l.db.View(func(tx *bolt.Tx) error {
		if tb := tx.Bucket(bucketTombstones); tb != nil {
			if err := tb.ForEach(func(k, _ []byte) error {
				return fn(string(k), vnode.Entry{}, true)
			}); err != nil {
				return err
			}
		}
		b := tx.Bucket(bucketEntries)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var entry vnode.Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("manifest: decode entry %q: %w", string(k), err)
			}
			return fn(string(k), entry, false)
		})
	})
}

// isDirectChild reports whether vpath's parent, per vnode.Parent, is dir.
func isDirectChild(dir, vpath string) bool {
	if vpath == dir {
		return false
	}
	return vnode.Parent(vpath) == dir
}

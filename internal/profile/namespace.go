package profile

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
)

// Namespace is an open handle on one profile namespace.
//
// Reads are served from memory. Set and Delete update memory immediately
// and queue the change; repeated writes to a key coalesce into one. Queued
// changes reach disk on Flush or Close.
type Namespace struct {
	store   *Store
	profile string
	name    string
	codec   Codec

	mu      sync.RWMutex
	data    map[string]any
	pending []Change
	closed  bool
}

// Profile returns the profile this namespace belongs to.
func (n *Namespace) Profile() string { return n.profile }

// Name returns the namespace name.
func (n *Namespace) Name() string { return n.name }

// Get returns the value at a dotted key, or def if absent.
func (n *Namespace) Get(key string, def any) any {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if v, ok := getPath(n.data, key); ok {
		return cloneValue(v)
	}
	return def
}

// Has reports whether a dotted key is present.
func (n *Namespace) Has(key string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := getPath(n.data, key)
	return ok
}

// Keys returns the sorted top-level keys.
func (n *Namespace) Keys() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	keys := make([]string, 0, len(n.data))
	for k := range n.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a deep copy of the in-memory mapping.
func (n *Namespace) Snapshot() map[string]any {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return cloneMap(n.data)
}

// Set queues a write of value at a dotted key.
func (n *Namespace) Set(key string, value any) {
	n.mu.Lock()
	defer n.mu.Unlock()

	setPath(n.data, key, cloneValue(value))
	n.queue(Change{Key: key, Value: cloneValue(value)})
}

// Delete queues removal of a dotted key.
func (n *Namespace) Delete(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	deletePath(n.data, key)
	n.queue(Change{Key: key, Delete: true})
}

// Dirty reports whether there are queued changes.
func (n *Namespace) Dirty() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.pending) > 0
}

// queue records c, dropping any earlier change to the same key.
// Must be called with mu held.
func (n *Namespace) queue(c Change) {
	kept := n.pending[:0]
	for _, p := range n.pending {
		if p.Key != c.Key {
			kept = append(kept, p)
		}
	}
	n.pending = append(kept, c)
}

// Flush writes queued changes to disk atomically.
func (n *Namespace) Flush() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	return n.flushLocked()
}

func (n *Namespace) flushLocked() error {
	if len(n.pending) == 0 {
		return nil
	}

	path, err := n.store.Path(n.profile, n.name)
	if err != nil {
		return err
	}

	if p, ok := n.codec.(Patcher); ok {
		data, err := n.patch(path, p)
		if err != nil {
			return err
		}
		m, err := n.codec.Decode(data)
		if err != nil {
			return fmt.Errorf("decoding patched %s: %w", path, err)
		}
		n.data = m
	} else {
		data, err := n.codec.Encode(n.data)
		if err != nil {
			return fmt.Errorf("encoding %s/%s: %w", n.profile, n.name, err)
		}
		if err := n.store.write(path, data); err != nil {
			return err
		}
	}

	n.pending = nil
	return nil
}

// patch applies queued changes on top of the current file content.
func (n *Namespace) patch(path string, p Patcher) ([]byte, error) {
	n.store.mu.Lock()
	defer n.store.mu.Unlock()

	raw, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	data, err := p.Patch(raw, n.pending)
	if err != nil {
		return nil, &CorruptStoreError{Profile: n.profile, Namespace: n.name, Path: path, Err: err}
	}
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return nil, err
	}
	return data, nil
}

// Discard drops queued changes and reloads the namespace from disk.
func (n *Namespace) Discard() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	m, _, err := n.store.load(n.profile, n.name)
	if err != nil {
		return err
	}
	n.data = m
	n.pending = nil
	return nil
}

// Close flushes queued changes and releases the handle.
func (n *Namespace) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	err := n.flushLocked()
	n.closed = true
	return err
}

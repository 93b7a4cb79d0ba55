package doctree

import (
	"fmt"
	"sort"
)

// Snapshot is one immutable generation of the document tree: a mapping
// from NodeKey to Node. Snapshots are cheap to derive; unchanged nodes
// are shared between generations as the same value.
type Snapshot struct {
	nodes map[NodeKey]*Node
}

// NewSnapshot returns an empty snapshot containing only a root node.
func NewSnapshot() *Snapshot {
	return &Snapshot{nodes: map[NodeKey]*Node{
		RootKey: {Kind: KindRoot, Key: RootKey},
	}}
}

// Get returns the node for key, or nil if absent.
func (s *Snapshot) Get(key NodeKey) *Node {
	return s.nodes[key]
}

// Has reports whether key exists in the snapshot.
func (s *Snapshot) Has(key NodeKey) bool {
	_, ok := s.nodes[key]
	return ok
}

// Root returns the root node.
func (s *Snapshot) Root() *Node {
	return s.nodes[RootKey]
}

// Len returns the number of nodes in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.nodes)
}

// Keys returns all keys in deterministic (sorted) order. Intended for
// diagnostics and tests, not hot paths.
func (s *Snapshot) Keys() []NodeKey {
	keys := make([]NodeKey, 0, len(s.nodes))
	for k := range s.nodes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// With derives a new snapshot with the given nodes installed. Nodes not
// mentioned are shared with the receiver. A nil node value removes the
// key.
func (s *Snapshot) With(nodes map[NodeKey]*Node) *Snapshot {
	next := make(map[NodeKey]*Node, len(s.nodes)+len(nodes))
	for k, n := range s.nodes {
		next[k] = n
	}
	for k, n := range nodes {
		if n == nil {
			delete(next, k)
		} else {
			next[k] = n
		}
	}
	return &Snapshot{nodes: next}
}

// Walk visits key's subtree depth-first in document order, calling fn
// for every node. Walk stops and returns the first error from fn.
func (s *Snapshot) Walk(key NodeKey, fn func(*Node) error) error {
	node := s.nodes[key]
	if node == nil {
		return fmt.Errorf("doctree: walk: missing node %q", key)
	}
	if err := fn(node); err != nil {
		return err
	}
	for _, child := range node.Children {
		if err := s.Walk(child, fn); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks referential integrity: every child key resolves,
// every non-root node has a parent that lists it, and the root exists.
func (s *Snapshot) Validate() error {
	if s.nodes[RootKey] == nil {
		return fmt.Errorf("doctree: snapshot has no root")
	}
	for key, node := range s.nodes {
		if node.Key != key {
			return fmt.Errorf("doctree: node stored under %q carries key %q", key, node.Key)
		}
		for _, child := range node.Children {
			c := s.nodes[child]
			if c == nil {
				return fmt.Errorf("doctree: node %q references missing child %q", key, child)
			}
			if c.Parent != key {
				return fmt.Errorf("doctree: child %q of %q has parent %q", child, key, c.Parent)
			}
		}
	}
	return nil
}

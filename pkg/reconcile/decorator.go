package reconcile

import "github.com/weft-dev/weft/pkg/doctree"

// DecoratorHost receives lifecycle hooks for decorator nodes. The
// reconciler only tracks when these must fire; what a decorator view
// is belongs entirely to the host.
type DecoratorHost interface {
	// Create is called once when a decorator node enters the tree.
	Create(key doctree.NodeKey)

	// Mount is called when the decorator's buffer position is settled.
	Mount(key doctree.NodeKey, at int)

	// Unmount is called before the decorator's content leaves the
	// buffer.
	Unmount(key doctree.NodeKey)

	// Decorate is called when an existing decorator needs its view
	// refreshed (moved or re-rendered).
	Decorate(key doctree.NodeKey)
}

// NopDecoratorHost ignores all lifecycle hooks.
type NopDecoratorHost struct{}

// Create implements DecoratorHost.
func (NopDecoratorHost) Create(doctree.NodeKey) {}

// Mount implements DecoratorHost.
func (NopDecoratorHost) Mount(doctree.NodeKey, int) {}

// Unmount implements DecoratorHost.
func (NopDecoratorHost) Unmount(doctree.NodeKey) {}

// Decorate implements DecoratorHost.
func (NopDecoratorHost) Decorate(doctree.NodeKey) {}

// decoratorWork normalizes the lifecycle lists a reconciliation
// produced: a key appearing as both removed and added was moved, which
// is a redecorate, not an unmount/mount pair.
func decoratorWork(added, removed, dirty []doctree.NodeKey) (adds, removes, decorates []doctree.NodeKey) {
	addedSet := make(map[doctree.NodeKey]struct{}, len(added))
	for _, k := range added {
		addedSet[k] = struct{}{}
	}
	removedSet := make(map[doctree.NodeKey]struct{}, len(removed))
	for _, k := range removed {
		removedSet[k] = struct{}{}
	}
	seen := make(map[doctree.NodeKey]struct{})
	for _, k := range added {
		if _, moved := removedSet[k]; moved {
			decorates = append(decorates, k)
		} else {
			adds = append(adds, k)
		}
		seen[k] = struct{}{}
	}
	for _, k := range removed {
		if _, moved := addedSet[k]; !moved {
			removes = append(removes, k)
		}
	}
	for _, k := range dirty {
		if _, dup := seen[k]; !dup {
			decorates = append(decorates, k)
		}
	}
	return adds, removes, decorates
}

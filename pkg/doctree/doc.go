// Package doctree provides the document tree model for Weft.
//
// A document is a tree of nodes identified by stable NodeKeys. Nodes
// never reference each other by pointer; all cross-references (parent,
// children) are keys resolved against a Snapshot. A Snapshot is one
// immutable generation of the document: during a transaction the
// committed ("current") snapshot and the in-progress ("pending")
// snapshot coexist, and the reconciler diffs one against the other.
//
// Every node contributes up to three generated strings to the linear
// buffer: a preamble that opens its structure, its own text (empty for
// elements and decorators), and a postamble that closes it. Element
// children render between the preamble and the postamble.
package doctree

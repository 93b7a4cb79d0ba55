// Package anchor resolves node positions by scanning for invisible
// marker characters embedded in the generated text, instead of trusting
// cached geometry. Markers are Unicode noncharacters, so they can never
// appear in user content.
//
// The index is an alternate PositionResolver strategy: install it with
// reconcile.WithPositionResolver and feed it the engine's applied
// deltas so marker offsets track buffer mutation. When the buffer stops
// agreeing with the recorded markers the index disables itself for the
// rest of the session and delegates to its fallback resolver.
package anchor

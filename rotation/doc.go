// Package rotation implements a persisted fair-shuffle selector.
//
// A Queue tracks one pool of item IDs in two disjoint sets: available (not
// yet served this cycle) and used (served since the last reshuffle). Next
// picks uniformly from available and moves the pick to used. When available
// runs dry the used set becomes available again, so every item is served
// exactly once per cycle before anything repeats.
//
// The document lives in shared state under "rotation.<pool>" as
//
//	{"available":["a","b"],"used":["c"]}
//
// and every operation is one atomic read-modify-write through the store's
// Update, so concurrent workers never lose each other's moves. A document
// that fails validation is logged and rebuilt from scratch; the pool itself
// is recoverable from the content store through Reconcile.
package rotation

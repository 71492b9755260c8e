// Package codec moves object spaces in and out of the process.
//
// A Snapshot is a self-contained description of a space: objects in arena
// order, their attributes in insertion order, roots, and held tuples.
// Object references inside values are indices into Snapshot.Objects, so a
// snapshot never depends on the handles of the space it came from.
//
// Snapshots travel in two encodings:
//   - CBOR with Core Deterministic Encoding (RFC 8949 §4.2): the same space
//     always produces identical bytes
//   - YAML seed files, the hand-written form used to set up a space for
//     `symspace run` and test scenarios
//
// Restore rebuilds a snapshot through the transaction API (CreateObject,
// SetAttribute, CreateTuple), never by writing store internals.
package codec

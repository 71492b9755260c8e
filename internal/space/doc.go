// Package space implements the object space: an arena of attribute-bearing
// objects, a root set, held tuples, a stack of nested transactions and a
// mark-sweep garbage collector.
//
// All mutation goes through a *Txn obtained from Space.Begin. Reads on the
// Space see the live view: the last commit plus every active frame, top
// frame first.
//
// A Space is single-writer and not safe for concurrent use. Independent
// spaces may coexist freely.
package space

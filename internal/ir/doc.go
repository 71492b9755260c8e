// Package ir provides the value domain and rule representation for symspace.
//
// This package contains type definitions and pure functions only. All other
// internal packages import ir; ir imports nothing internal, which keeps it
// the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Value is a sealed sum type (Int, Float, Symbol, *Tuple, ObjectRef);
//     every consumer switches exhaustively over it
//   - Tuples are immutable after construction and compare structurally
//   - Symbols are interned process-wide; names are NFC-normalized
//   - Canonical JSON is the only serialization used for hashing
package ir

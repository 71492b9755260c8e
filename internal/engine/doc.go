// Package engine runs rule systems against an object space.
//
// The engine has two halves. The Matcher executes a compiled plan as a
// backtracking search driven by an explicit choice-point stack with an undo
// trail, so searches are lazy, restartable and bounded by a step budget. The
// scheduler (Engine.RunSystem) repeats select-and-apply cycles until the
// system halts.
//
// CYCLE:
//
//  1. Select: rules are tried in declaration order; the first with a
//     match wins (RunModeRuleSaturate starts from the last winner)
//  2. Match: MatchFirst rules take one environment, MatchAll rules take
//     every distinct environment
//  3. Apply: one transaction per cycle; effects run in declaration order
//     for each environment
//  4. Commit, or abort and halt on the first effect failure
//
// Every firing is stamped with a logical clock value from Clock.Next.
// Wall-clock time never orders anything.
//
// TERMINATION:
//
// A run ends in exactly one of NoMatch (fixpoint), BudgetExhausted (cycles,
// steps or time), Stopped (run control or cancellation), Aborted (effect
// failure or store corruption), or Fired (RunModeFirst).
//
// Garbage collection only runs between cycles, when no transaction frame is
// open.
package engine

// Package engine is the exploration loop of the application.
//
// It repeatedly asks the scheduler for the most promising execution state,
// lets an Interpreter advance it by one instruction, and routes the results:
// live successors go back to the frontier, finished states are turned into
// paths and appended to the output corpus.
//
// # Lifecycle
//
//  1. New wires an Interpreter, a scheduler frontier and an optional emitter.
//  2. Run explores until the frontier is empty, the step limit is reached or
//     the context is cancelled.
//  3. Stats reports the counters, also while Run is in progress.
//
// # Thread-Safety
//
// Run is single-threaded and must not be called concurrently. Stats may be
// read from any goroutine.
package engine

// Package inmemorystore provides an ephemeral, thread-safe, in-memory store
// for the per-run state of tasks: their scheduling phase, their final
// summary and the error that ended them, if any.
//
// # Concurrency Model
//
// The executor's coordinator and workers update different tasks at the same
// time, and the state of each task is independent. The store therefore uses
// sync.Map, which suits a key space that is known upfront with values that
// change frequently.
//
// Phase changes are validated against report.Phase transitions and applied
// with compare-and-swap, so two concurrent writers cannot both move a task
// out of the same phase.
package inmemorystore

// Package parallel runs one execution group's tasks with bounded
// concurrency.
//
// A Pool never fails fast: one task's failure does not cancel its siblings.
// Only cancellation of the pool's context stops admission, and tasks that
// were never started are reported back so the caller can account for them.
package parallel

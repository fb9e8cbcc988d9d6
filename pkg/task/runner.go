// Package task runs scans in the background and keeps track of them.
package task

// Runner decides where a unit of work runs.
type Runner interface {
	Do(fn func())
}

// Async runs every unit of work on its own goroutine.
type Async struct{}

func (Async) Do(fn func()) {
	go fn()
}

// Sync runs the work inline. Submit then only returns once the task is done,
// which keeps tests and debugging sessions deterministic.
type Sync struct{}

func (Sync) Do(fn func()) {
	fn()
}

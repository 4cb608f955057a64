// SPDX-FileCopyrightText: 2021 The Go Language Server Authors
// SPDX-License-Identifier: BSD-3-Clause

package reflectrpc

import "sync"

// Deferred represents a handler result that is not yet available. The
// dispatcher suspends production of that request's reply until the
// deferred resolves, without blocking any other request on the same
// connection; see Future for the concrete implementation handlers return.
//
// This mirrors the teacher's Conn.Request.Reply/Parallel continuation: the
// dispatcher attaches exactly one completion continuation and otherwise
// does not special-case how the value arrives.
type Deferred interface {
	// Subscribe registers fn to run exactly once, either when the
	// deferred resolves or immediately if it has already resolved.
	Subscribe(fn func(result interface{}, err error))
}

// Future is a one-shot, thread-safe Deferred. Handlers that need to do
// work on another goroutine (a database query, an RPC to another service)
// return a *Future from NewFuture and call Resolve or Reject once that
// work completes.
type Future struct {
	mu       sync.Mutex
	done     bool
	result   interface{}
	err      error
	watchers []func(interface{}, error)
}

var _ Deferred = (*Future)(nil)

// NewFuture returns an unresolved Future.
func NewFuture() *Future {
	return &Future{}
}

// Resolve completes the future successfully. Resolve or Reject must be
// called exactly once; later calls are ignored.
func (f *Future) Resolve(result interface{}) {
	f.complete(result, nil)
}

// Reject completes the future with an error. Resolve or Reject must be
// called exactly once; later calls are ignored.
func (f *Future) Reject(err error) {
	f.complete(nil, err)
}

func (f *Future) complete(result interface{}, err error) {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return
	}
	f.done = true
	f.result = result
	f.err = err
	watchers := f.watchers
	f.watchers = nil
	f.mu.Unlock()

	for _, w := range watchers {
		w(result, err)
	}
}

// Subscribe implements Deferred.
func (f *Future) Subscribe(fn func(result interface{}, err error)) {
	f.mu.Lock()
	if f.done {
		result, err := f.result, f.err
		f.mu.Unlock()
		fn(result, err)
		return
	}
	f.watchers = append(f.watchers, fn)
	f.mu.Unlock()
}

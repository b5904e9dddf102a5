package netmgr

import "context"

// tidKey is the context key carrying a worker's thread-local identifier
// (spec.md glossary: "tid — thread-local worker id, -1 outside any
// worker"). Go has no native thread-local storage; a context.Context
// value threaded through every call that originates inside a worker's
// loop goroutine is the idiomatic substitute, and doubles as the
// mechanism spec.md §4.1's "thread-affine submission" needs to decide
// between inline dispatch and enqueue-plus-wake.
type tidKey struct{}

// noTID is the sentinel returned outside any worker loop.
const noTID = -1

// withTID returns a context carrying worker id id, for use by that
// worker's loop goroutine and anything it calls synchronously (including
// callbacks it invokes directly).
func withTID(parent context.Context, id int) context.Context {
	return context.WithValue(parent, tidKey{}, id)
}

// tidFromContext extracts the worker id carried by ctx, or noTID if ctx
// was not produced by withTID (i.e. the caller is not a worker's loop
// goroutine).
func tidFromContext(ctx context.Context) int {
	if ctx == nil {
		return noTID
	}
	if id, ok := ctx.Value(tidKey{}).(int); ok {
		return id
	}
	return noTID
}

// Package async provides panic-safe goroutine helpers and a small task
// queue with trackable task handles.
//
// SafeGo replaces bare `go func()` for fire-and-forget work: it recovers
// panics, enforces a timeout and logs failures instead of crashing the
// process. TaskQueue runs submitted tasks on a fixed worker set and lets
// callers ask whether a given task handle is still pending, which is what
// the import coordinator needs to refuse duplicate imports.
package async

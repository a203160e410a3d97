// Package charging models the shared charging infrastructure: plugs and the
// pool that bounds how many cars can charge at the same time. The pool is
// gated by a weighted semaphore sized to the number of plugs; a car must hold
// a permit before it is assigned a plug.
package charging

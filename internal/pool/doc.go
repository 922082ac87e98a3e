// Package pool keeps pre-instantiated, deactivated instances of a single
// prefab and hands them out on spawn instead of instantiating fresh ones.
//
// An InstancePool is owned by the game loop goroutine. It does no locking.
// Pools grow on demand and never shrink; reclaimed instances stay in the
// free list until the pool is drained at shutdown.
package pool

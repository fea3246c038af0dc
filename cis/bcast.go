// Package cis implements the Client Interface Service: the stateless
// coordinator that, for every client request, consults MDS, fans out to
// the participating memory servers, aggregates results, and performs
// compensating cleanup on partial failure. No state survives a call
// beyond cached MDS/MS handles; spec.md's redesign note replaces the
// source's raw-pointer cyclic ownership between CIS/MS/allocator with
// pure request/response message passing.
package cis

import (
	"sync"

	"go.uber.org/atomic"
)

// MSSet is the coordinator's view of every memory server it can reach,
// keyed by server id.
type MSSet map[uint64]MSClient

// bcast runs fn against every server in mss concurrently and collects the
// per-server error, mirroring the wait-group/atomic-counter fan-out
// pattern used throughout the broadcast-heavy control plane.
func bcast(mss MSSet, fn func(id uint64, c MSClient) error) map[uint64]error {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed = make(map[uint64]error)
		succ   atomic.Int64
	)
	for id, c := range mss {
		wg.Add(1)
		go func(id uint64, c MSClient) {
			defer wg.Done()
			if err := fn(id, c); err != nil {
				mu.Lock()
				failed[id] = err
				mu.Unlock()
				return
			}
			succ.Inc()
		}(id, c)
	}
	wg.Wait()
	return failed
}

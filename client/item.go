package client

import (
	"github.com/openfam/fam/cmn"
	"github.com/openfam/fam/fabric"
)

// Item is an opened data item: its catalog record plus everything the
// data path needs to address its bytes directly — one peer/key/base
// triple per participating memory server, and the interleaving contract
// of spec.md §3 to map a logical byte offset onto one of them.
type Item struct {
	region *Region
	info   *cmn.DataItem

	peers      []fabric.PeerAddr
	keys       []fabric.Key
	bases      []fabric.BaseAddress
	offsetBase []int64
}

func (it *Item) Info() *cmn.DataItem { return it.info }

func (it *Item) nServers() int { return len(it.info.MemServerIDs) }

func (it *Item) ctx() *fabric.Context { return it.region.client.Ctx }

// touch resets this item's region idle countdown on the collector, if
// one is running; call at the top of every data-path operation so an
// actively-used context is never reaped out from under it (spec.md's
// idle-Context reaping only targets genuinely quiet regions).
func (it *Item) touch() {
	if c := it.region.client.Collector; c != nil {
		c.Touch(it.region.trackID())
	}
}

// run is one maximal byte range of a Put/Get that lands entirely on a
// single server within a single stripe block.
type run struct {
	serverIdx int
	remoteOff uint64
	off       int64 // offset into the caller's buffer
	length    int64
}

// runs splits the item-relative range [offset, offset+size) into the
// maximal single-server, single-stripe-block pieces spec.md §3's
// interleaving contract implies: block = b/S; server_index = block%N;
// local_offset = (block/N)*S + (b%S).
func (it *Item) runs(offset, size int64) []run {
	s := it.info.InterleaveSize
	n := it.nServers()
	var out []run
	done := int64(0)
	for done < size {
		b := offset + done
		serverIdx, local := cmn.StripeMapping(b, s, n)
		remoteOff := uint64(it.offsetBase[serverIdx] + local)

		var runLen int64
		if s <= 0 || n <= 1 {
			runLen = size - done
		} else {
			within := b % s
			runLen = s - within
		}
		if runLen > size-done {
			runLen = size - done
		}
		out = append(out, run{serverIdx: serverIdx, remoteOff: remoteOff, off: done, length: runLen})
		done += runLen
	}
	return out
}

// Put implements the write half of spec.md §8 property 1 ("write-read
// round-trip"): writes data at an item-relative offset, splitting at
// every server or stripe boundary data straddles.
func (it *Item) Put(offset int64, data []byte, blocking fabric.Blocking) error {
	it.touch()
	for _, r := range it.runs(offset, int64(len(data))) {
		chunk := data[r.off : r.off+r.length]
		if err := it.ctx().Write(it.keys[r.serverIdx], chunk, r.remoteOff, it.peers[r.serverIdx], blocking); err != nil {
			return err
		}
	}
	return nil
}

// Get implements the read half of the round-trip property.
func (it *Item) Get(offset int64, buf []byte, blocking fabric.Blocking) error {
	it.touch()
	for _, r := range it.runs(offset, int64(len(buf))) {
		chunk := buf[r.off : r.off+r.length]
		if err := it.ctx().Read(it.keys[r.serverIdx], chunk, r.remoteOff, it.peers[r.serverIdx], blocking); err != nil {
			return err
		}
	}
	return nil
}

// ScatterStride implements spec.md's strided scatter: count elements of
// elemSize, starting at element first with stride s, all landing on the
// single server that owns this item's (unstriped) base region — strided
// scatter/gather is defined over a data item that is not itself
// interleaved (spec.md §4.2 names the item, not a per-block server).
func (it *Item) ScatterStride(local []byte, elemSize, first, stride int64, count int, blocking fabric.Blocking) error {
	it.touch()
	return it.ctx().ScatterStride(local, it.keys[0], uint64(it.offsetBase[0]), it.peers[0], elemSize, first, stride, count, blocking)
}

func (it *Item) GatherStride(local []byte, elemSize, first, stride int64, count int, blocking fabric.Blocking) error {
	it.touch()
	return it.ctx().GatherStride(local, it.keys[0], uint64(it.offsetBase[0]), it.peers[0], elemSize, first, stride, count, blocking)
}

// ScatterIndex implements spec.md's indexed scatter: elements at the
// given element indices against this item's base.
func (it *Item) ScatterIndex(local []byte, elemSize int64, index []int64, blocking fabric.Blocking) error {
	it.touch()
	return it.ctx().ScatterIndex(local, it.keys[0], uint64(it.offsetBase[0]), it.peers[0], elemSize, index, blocking)
}

func (it *Item) GatherIndex(local []byte, elemSize int64, index []int64, blocking fabric.Blocking) error {
	it.touch()
	return it.ctx().GatherIndex(local, it.keys[0], uint64(it.offsetBase[0]), it.peers[0], elemSize, index, blocking)
}

// Atomic issues a non-fetching remote atomic RMW at item-relative offset.
func (it *Item) Atomic(op fabric.AtomicOp, dt fabric.Datatype, operand uint64, offset int64) error {
	it.touch()
	serverIdx, remoteOff := it.locate(offset)
	return it.ctx().Atomic(it.keys[serverIdx], op, dt, operand, remoteOff, it.peers[serverIdx])
}

// FetchAtomic issues a fetching remote atomic RMW at item-relative offset
// and returns the prior value.
func (it *Item) FetchAtomic(op fabric.AtomicOp, dt fabric.Datatype, operand uint64, offset int64) (uint64, error) {
	it.touch()
	serverIdx, remoteOff := it.locate(offset)
	return it.ctx().FetchAtomic(it.keys[serverIdx], op, dt, operand, remoteOff, it.peers[serverIdx])
}

// CompareSwap issues a single-word compare-and-swap at item-relative
// offset: the remote value is replaced by desired only if it equals
// expected, and the prior value is returned either way.
func (it *Item) CompareSwap(dt fabric.Datatype, expected, desired uint64, offset int64) (uint64, error) {
	it.touch()
	serverIdx, remoteOff := it.locate(offset)
	return it.ctx().CompareAtomic(it.keys[serverIdx], dt, expected, desired, remoteOff, it.peers[serverIdx])
}

func (it *Item) locate(offset int64) (serverIdx int, remoteOff uint64) {
	idx, local := cmn.StripeMapping(offset, it.info.InterleaveSize, it.nServers())
	return idx, uint64(it.offsetBase[idx] + local)
}

// slabOffset maps an item-relative offset to the owning server's
// slab-relative offset, independent of which byte range the item's
// fabric key happens to cover: the keyspace the CAS-lock service is
// keyed by.
func (it *Item) slabOffset(offset int64) (serverIdx int, slabOff int64) {
	idx, local := cmn.StripeMapping(offset, it.info.InterleaveSize, it.nServers())
	return idx, it.info.Offsets[idx] + local
}

// GetAtomic implements spec.md §6's get_atomic: queues a durable read on
// the owning memory server's ATL rather than posting a direct fabric
// read, so the request survives a crash mid-apply; the worker pushes
// the result back into buf once it drains the queue. The returned key
// stays registered until the caller deregisters it (via
// Client.Provider.DeregisterMemory) once it has confirmed the worker
// has applied the op — the push-back happens asynchronously, after
// this call returns.
func (it *Item) GetAtomic(offset int64, buf []byte) (fabric.Key, error) {
	it.touch()
	key, err := it.region.client.registerLocal(buf)
	if err != nil {
		return 0, err
	}
	err = it.region.client.Coord.GetAtomic(it.info.RegionID, it.info.Name, offset, int64(len(buf)),
		it.region.client.Address, uint64(key), it.region.client.UID, it.region.client.GID)
	return key, err
}

// PutAtomic implements spec.md §6's put_atomic: data travels inline with
// the enqueue RPC (CONTAIN_DATA), so the worker applies it without
// pulling anything back from the client.
func (it *Item) PutAtomic(offset int64, data []byte) error {
	it.touch()
	return it.region.client.Coord.PutAtomic(it.info.RegionID, it.info.Name, offset, data,
		it.region.client.UID, it.region.client.GID)
}

// ScatterStridedAtomic implements spec.md §6's scatter_strided_atomic:
// the queued counterpart of ScatterStride. See GetAtomic for the
// returned key's deregistration contract.
func (it *Item) ScatterStridedAtomic(local []byte, elemSize, first, stride, count int64) (fabric.Key, error) {
	it.touch()
	key, err := it.region.client.registerLocal(local)
	if err != nil {
		return 0, err
	}
	err = it.region.client.Coord.ScatterStridedAtomic(it.info.RegionID, it.info.Name, elemSize, first, stride, count,
		it.region.client.Address, uint64(key), it.region.client.UID, it.region.client.GID)
	return key, err
}

// GatherStridedAtomic implements spec.md §6's gather_strided_atomic.
func (it *Item) GatherStridedAtomic(local []byte, elemSize, first, stride, count int64) (fabric.Key, error) {
	it.touch()
	key, err := it.region.client.registerLocal(local)
	if err != nil {
		return 0, err
	}
	err = it.region.client.Coord.GatherStridedAtomic(it.info.RegionID, it.info.Name, elemSize, first, stride, count,
		it.region.client.Address, uint64(key), it.region.client.UID, it.region.client.GID)
	return key, err
}

// ScatterIndexedAtomic implements spec.md §6's scatter_indexed_atomic.
func (it *Item) ScatterIndexedAtomic(local []byte, elemSize int64, index []int64) (fabric.Key, error) {
	it.touch()
	key, err := it.region.client.registerLocal(local)
	if err != nil {
		return 0, err
	}
	err = it.region.client.Coord.ScatterIndexedAtomic(it.info.RegionID, it.info.Name, elemSize, index,
		it.region.client.Address, uint64(key), it.region.client.UID, it.region.client.GID)
	return key, err
}

// GatherIndexedAtomic implements spec.md §6's gather_indexed_atomic.
func (it *Item) GatherIndexedAtomic(local []byte, elemSize int64, index []int64) (fabric.Key, error) {
	it.touch()
	key, err := it.region.client.registerLocal(local)
	if err != nil {
		return 0, err
	}
	err = it.region.client.Coord.GatherIndexedAtomic(it.info.RegionID, it.info.Name, elemSize, index,
		it.region.client.Address, uint64(key), it.region.client.UID, it.region.client.GID)
	return key, err
}

// CompareAndSwap128 emulates a 128-bit CAS against item-relative offset
// by holding the owning memory server's CAS lock (acquired through CIS,
// per the redesign note's "CIS-mediated per-object CAS lock") across a
// read-compare-write.
func (it *Item) CompareAndSwap128(offset int64, expectedLo, expectedHi, newLo, newHi uint64) (priorLo, priorHi uint64, err error) {
	it.touch()
	serverIdx, remoteOff := it.locate(offset)
	_, lockOff := it.slabOffset(offset)
	locker := &casLockService{c: it.region.client, serverID: it.info.MemServerIDs[serverIdx]}
	return it.ctx().CompareAtomic128(locker, it.info.RegionID, lockOff, it.keys[serverIdx], remoteOff, it.peers[serverIdx],
		expectedLo, expectedHi, newLo, newHi)
}

// casLockService adapts the coordinator's acquire_CAS_lock/
// release_CAS_lock RPCs to fabric.CASLocker.
type casLockService struct {
	c        *Client
	serverID uint64
}

func (l *casLockService) AcquireCASLock(regionID uint64, offset int64) (func(), error) {
	if err := l.c.Coord.AcquireCASLock(regionID, offset, l.serverID); err != nil {
		return nil, err
	}
	return func() { _ = l.c.Coord.ReleaseCASLock(regionID, offset, l.serverID) }, nil
}

// Fence establishes an ordering barrier against every server this item
// spans, per spec.md §4.2/§5.
func (it *Item) Fence() error {
	it.touch()
	for i := range it.peers {
		if err := it.ctx().Fence(it.keys[i], it.peers[i]); err != nil {
			return err
		}
	}
	return nil
}

// Quiet blocks until every operation posted so far on this item's
// context has completed.
func (it *Item) Quiet() error { return it.ctx().Quiet() }

// Copy implements spec.md's copy(): this item's bytes [srcOffset,
// srcOffset+size) into dest at destOffset, returning a wait token for
// wait_for_copy.
func (it *Item) Copy(srcOffset int64, dest *Item, destOffset, size int64) (cmn.WaitToken, error) {
	return it.region.client.Coord.Copy(it.info.RegionID, it.info.Name, srcOffset,
		dest.info.RegionID, dest.info.Name, destOffset, size,
		it.region.client.UID, it.region.client.GID)
}

// Backup implements spec.md's backup(): durably persists this item under
// the given backup name via its anchor memory server.
func (it *Item) Backup(name string) (cmn.WaitToken, error) {
	return it.region.client.Coord.Backup(it.info.RegionID, it.info.Name, name, it.region.client.UID, it.region.client.GID)
}

// Restore implements spec.md's restore(): rehydrates a previously backed
// up data item into this region under itemName.
func (r *Region) Restore(name, itemName string) (cmn.WaitToken, error) {
	return r.client.Coord.Restore(name, r.info.RegionID, itemName, r.client.UID, r.client.GID)
}

// DeleteBackup implements spec.md's delete_backup().
func (r *Region) DeleteBackup(name string) (cmn.WaitToken, error) {
	return r.client.Coord.DeleteBackup(name, r.client.UID, r.client.GID)
}

// WaitFor joins a previously issued async task, per spec.md's
// wait_for_copy/wait_for_backup/wait_for_restore/wait_for_delete_backup.
func (c *Client) WaitFor(tok cmn.WaitToken) error { return c.Coord.WaitFor(tok) }

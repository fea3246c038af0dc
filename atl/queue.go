// Package atl implements the persistent per-thread atomic-write queue: a
// durable FIFO of staged write/scatter/gather requests that a memory
// server worker drains one at a time, so a crash mid-write leaves the
// destination either entirely old or entirely new. Each queue is backed
// by a scribble collection rather than in-region FAM memory, since this
// port has no on-disk region file to anchor queue slots to directly.
package atl

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sdomino/scribble"

	"github.com/openfam/fam/cmn"
)

// OpFlag is the request descriptor's operation-flag bitset, matching the
// C atomic_queue's descriptor flags one for one.
type OpFlag uint32

const (
	FlagRead OpFlag = 1 << iota
	FlagWrite
	FlagScatterIndex
	FlagScatterStride
	FlagGatherIndex
	FlagGatherStride
	FlagWriteInProgress
	FlagWriteCompleted
	FlagBufferAllocated
	FlagContainData
)

// Descriptor is one queued atomic-write request: enough to drive a
// worker through the staged write described in spec §4.3 without any
// further RPC round trip.
type Descriptor struct {
	Seq   uint64
	Flags OpFlag

	RegionID   uint64
	Offset     int64
	ClientAddr string // fabric.PeerAddr, serialized
	SourceKey  uint64 // fabric.Key
	Size       int64

	ElemSize   int64
	Stride     int64
	First      int64
	IndexCount int64
	Index      []int64

	// Buffer holds the staged payload once pulled from the client; it
	// plays the role the C implementation gives an auxiliary data item
	// inside the ATL region.
	Buffer []byte
}

func (d *Descriptor) validate() error {
	if d.Size < 0 {
		return cmn.NewFamError(cmn.ErrOutOfRange, fmt.Sprintf("atl descriptor has negative size %d", d.Size))
	}
	if d.Flags&FlagWriteInProgress != 0 && d.Flags&FlagWriteCompleted != 0 {
		return cmn.NewFamError(cmn.ErrUnknown, "atl descriptor has both WRITE_IN_PROGRESS and WRITE_COMPLETED set")
	}
	if d.Flags&FlagBufferAllocated != 0 && d.Buffer == nil {
		return cmn.NewFamError(cmn.ErrUnknown, "atl descriptor claims BUFFER_ALLOCATED with no buffer")
	}
	return nil
}

// state is the whole queue's persisted record: a ring of capacity slots
// plus front/rear/size bookkeeping, written as one scribble record per
// queue id (one id per region hosted by the memory server).
type state struct {
	Capacity int64
	Front    int
	Rear     int
	Size     int
	Slots    []*Descriptor
	NextSeq  uint64
}

// ErrQueueFull is returned by Push when the queue has reached capacity;
// callers (the worker's RPC handler) surface this to the client as
// FAM_ERR_RESOURCE so the client can retry.
var ErrQueueFull = cmn.NewFamError(cmn.ErrResource, "atl queue is full")

const collection = "atl_queues"

// Queue is one durable per-thread atomic-write queue.
type Queue struct {
	mu     sync.Mutex
	driver *scribble.Driver
	id     string
	st     state

	// notify wakes a blocked Worker.Run after Push adds to an empty
	// queue; buffered 1 so a Push racing ahead of the worker's wakeup
	// never blocks.
	notify chan struct{}
}

// Open opens (creating if absent) the queue named id under dir, with
// capacity slots if it does not already exist on disk.
func Open(dir, id string, capacity int) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	driver, err := scribble.New(filepath.Join(dir, "atl.db"), nil)
	if err != nil {
		return nil, err
	}
	q := &Queue{driver: driver, id: id, notify: make(chan struct{}, 1)}

	var st state
	if err := driver.Read(collection, id, &st); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		st = state{Capacity: int64(capacity), Slots: make([]*Descriptor, capacity)}
		if err := driver.Write(collection, id, &st); err != nil {
			return nil, err
		}
	}
	q.st = st
	return q, nil
}

// Push enqueues d at the tail, persisting the queue state before
// returning so a crash afterward still sees the request on recovery.
func (q *Queue) Push(d *Descriptor) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := d.validate(); err != nil {
		return err
	}
	if int64(q.st.Size) >= q.st.Capacity {
		return ErrQueueFull
	}
	q.st.NextSeq++
	d.Seq = q.st.NextSeq
	q.st.Slots[q.st.Rear] = d
	q.st.Rear = (q.st.Rear + 1) % int(q.st.Capacity)
	q.st.Size++
	if err := q.persist(); err != nil {
		return err
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Front returns the head descriptor without dequeuing it, or (nil, false)
// if empty. The worker applies the returned descriptor, persisting its
// WRITE_IN_PROGRESS/WRITE_COMPLETED transitions via Requeue while it is
// still in this slot, and only pops it once fully applied.
func (q *Queue) Front() (*Descriptor, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.st.Size == 0 {
		return nil, false
	}
	return q.st.Slots[q.st.Front], true
}

// Pop dequeues and discards the head descriptor, or (nil, false) if
// empty. Callers must only Pop a descriptor once it has reached a
// terminal state (WRITE_COMPLETED persisted, or a gather/read applied);
// popping earlier would let a crash lose the descriptor the
// WRITE_IN_PROGRESS/WRITE_COMPLETED protocol depends on to replay it.
func (q *Queue) Pop() (*Descriptor, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.st.Size == 0 {
		return nil, false
	}
	d := q.st.Slots[q.st.Front]
	q.st.Slots[q.st.Front] = nil
	q.st.Front = (q.st.Front + 1) % int(q.st.Capacity)
	q.st.Size--
	if err := q.persist(); err != nil {
		return nil, false
	}
	return d, true
}

// Notify returns the channel Push signals on when it adds to the queue.
// Worker.Run selects on it to wake from idle instead of busy-polling.
func (q *Queue) Notify() <-chan struct{} { return q.notify }

// Peek returns every currently-queued descriptor without dequeuing them,
// in FIFO order; the recovery pass uses this to find partially-written
// requests left over from a crash.
func (q *Queue) Peek() []*Descriptor {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Descriptor, 0, q.st.Size)
	idx := q.st.Front
	for i := 0; i < q.st.Size; i++ {
		out = append(out, q.st.Slots[idx])
		idx = (idx + 1) % int(q.st.Capacity)
	}
	return out
}

// Requeue re-persists d in place at its current ring slot, used by the
// worker to flip WRITE_IN_PROGRESS -> WRITE_COMPLETED without disturbing
// queue order.
func (q *Queue) Requeue(d *Descriptor) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.st.Front
	for i := 0; i < q.st.Size; i++ {
		if q.st.Slots[idx] != nil && q.st.Slots[idx].Seq == d.Seq {
			q.st.Slots[idx] = d
			return q.persist()
		}
		idx = (idx + 1) % int(q.st.Capacity)
	}
	return cmn.NewFamError(cmn.ErrUnknown, fmt.Sprintf("atl: descriptor seq %d not found in queue %s", d.Seq, q.id))
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.st.Size
}

func (q *Queue) persist() error {
	return q.driver.Write(collection, q.id, &q.st)
}

package atl

import (
	"github.com/golang/glog"

	"github.com/openfam/fam/cmn"
	"github.com/openfam/fam/fabric"
)

// Store is the memory server's local backing memory: the destination
// every staged write in this queue eventually lands on. Implementations
// back onto either a persistent-memory-backed slab or a plain volatile
// buffer depending on the region's MemoryType.
type Store interface {
	WriteAt(regionID uint64, offset int64, data []byte) error
	ReadAt(regionID uint64, offset int64, buf []byte) error
}

// Worker drains one Queue, applying each staged request to Store and
// pulling/pushing payloads over the fabric Context to/from the posting
// client, per spec.md's "Write-with-data" / "Scatter strided / indexed" /
// "Gather strided / indexed" contracts.
type Worker struct {
	Queue *Queue
	Store Store
	Ctx   *fabric.Context
}

func NewWorker(q *Queue, store Store, ctx *fabric.Context) *Worker {
	return &Worker{Queue: q, Store: store, Ctx: ctx}
}

// Drain applies every currently-queued descriptor, returning on the
// first unrecoverable error (the caller decides whether to retry or
// disable the queue; see recovery.go for the startup replay policy). Each
// descriptor is read from the front of the queue in place, left there
// while apply persists its WRITE_IN_PROGRESS/WRITE_COMPLETED transitions
// via Requeue, and only popped once apply has fully landed it — so a
// crash mid-apply always finds the descriptor still queued for replay by
// Recover, instead of it having already been discarded by Pop.
func (w *Worker) Drain() error {
	for {
		d, ok := w.Queue.Front()
		if !ok {
			return nil
		}
		if err := w.apply(d); err != nil {
			return err
		}
		w.Queue.Pop()
	}
}

// Run drains the queue continuously until stop is closed, blocking
// between drains on the queue's notify channel instead of busy-polling.
// ms.Server.CreateRegion starts one of these per region so Queue.Push
// actually gets consumed.
func (w *Worker) Run(stop <-chan struct{}) {
	for {
		if err := w.Drain(); err != nil {
			glog.Errorf("atl: worker drain failed, queue left disabled: %v", err)
			return
		}
		select {
		case <-stop:
			return
		case <-w.Queue.Notify():
		}
	}
}

func (w *Worker) apply(d *Descriptor) error {
	switch {
	case d.Flags&FlagRead != 0:
		return w.applyRead(d)
	case d.Flags&FlagWrite != 0:
		return w.applyWrite(d)
	case d.Flags&FlagScatterStride != 0:
		return w.applyScatterStride(d)
	case d.Flags&FlagScatterIndex != 0:
		return w.applyScatterIndex(d)
	case d.Flags&FlagGatherStride != 0:
		return w.applyGatherStride(d)
	case d.Flags&FlagGatherIndex != 0:
		return w.applyGatherIndex(d)
	default:
		return cmn.NewFamError(cmn.ErrUnknown, "atl: descriptor carries no recognized operation flag")
	}
}

// applyWrite implements the "Write-with-data" contract: either the
// payload already travelled with the push (CONTAIN_DATA) or it must be
// pulled from the client first.
func (w *Worker) applyWrite(d *Descriptor) error {
	if d.Flags&FlagContainData == 0 {
		if err := w.pullFromClient(d); err != nil {
			return err
		}
	}
	d.Flags |= FlagWriteInProgress
	if err := w.Queue.Requeue(d); err != nil {
		glog.Warningf("atl: failed to persist in-progress flag for seq %d: %v", d.Seq, err)
	}

	if err := w.Store.WriteAt(d.RegionID, d.Offset, d.Buffer); err != nil {
		return err
	}

	d.Flags &^= FlagWriteInProgress
	d.Flags |= FlagWriteCompleted
	if err := w.Queue.Requeue(d); err != nil {
		glog.Warningf("atl: failed to persist completed flag for seq %d: %v", d.Seq, err)
	}
	return nil
}

func (w *Worker) pullFromClient(d *Descriptor) error {
	d.Flags |= FlagBufferAllocated
	buf := make([]byte, d.Size)
	peer, err := w.Ctx.Provider.LookupPeer(d.ClientAddr)
	if err != nil {
		return err
	}
	if err := w.Ctx.Read(fabric.Key(d.SourceKey), buf, 0, peer, fabric.IsBlocking); err != nil {
		return err
	}
	d.Buffer = buf
	return nil
}

func (w *Worker) applyScatterStride(d *Descriptor) error {
	if err := w.pullFromClient(d); err != nil {
		return err
	}
	d.Flags |= FlagWriteInProgress
	if err := w.Queue.Requeue(d); err != nil {
		glog.Warningf("atl: failed to persist in-progress flag for seq %d: %v", d.Seq, err)
	}

	for i := int64(0); i < d.IndexCount; i++ {
		elemOff := (d.First + d.Stride*i) * d.ElemSize
		elem := d.Buffer[i*d.ElemSize : (i+1)*d.ElemSize]
		if err := w.Store.WriteAt(d.RegionID, d.Offset+elemOff, elem); err != nil {
			return err
		}
	}

	d.Flags &^= FlagWriteInProgress
	d.Flags |= FlagWriteCompleted
	if err := w.Queue.Requeue(d); err != nil {
		glog.Warningf("atl: failed to persist completed flag for seq %d: %v", d.Seq, err)
	}
	return nil
}

func (w *Worker) applyScatterIndex(d *Descriptor) error {
	if err := w.pullFromClient(d); err != nil {
		return err
	}
	d.Flags |= FlagWriteInProgress
	if err := w.Queue.Requeue(d); err != nil {
		glog.Warningf("atl: failed to persist in-progress flag for seq %d: %v", d.Seq, err)
	}

	for i, idx := range d.Index {
		elemOff := idx * d.ElemSize
		elem := d.Buffer[int64(i)*d.ElemSize : int64(i+1)*d.ElemSize]
		if err := w.Store.WriteAt(d.RegionID, d.Offset+elemOff, elem); err != nil {
			return err
		}
	}

	d.Flags &^= FlagWriteInProgress
	d.Flags |= FlagWriteCompleted
	if err := w.Queue.Requeue(d); err != nil {
		glog.Warningf("atl: failed to persist completed flag for seq %d: %v", d.Seq, err)
	}
	return nil
}

// applyRead implements get_atomic's passthrough: a plain read-only fetch
// of the descriptor's byte range, pushed back to the posting client. No
// WRITE_IN_PROGRESS/WRITE_COMPLETED transition applies since nothing at
// the target is mutated.
func (w *Worker) applyRead(d *Descriptor) error {
	buf := make([]byte, d.Size)
	if err := w.Store.ReadAt(d.RegionID, d.Offset, buf); err != nil {
		return err
	}
	return w.pushToClient(d, buf)
}

// applyGatherStride/applyGatherIndex are read-only at the target: they
// assemble a transient buffer from Store and push it to the client.
func (w *Worker) applyGatherStride(d *Descriptor) error {
	buf := make([]byte, d.IndexCount*d.ElemSize)
	for i := int64(0); i < d.IndexCount; i++ {
		elemOff := (d.First + d.Stride*i) * d.ElemSize
		if err := w.Store.ReadAt(d.RegionID, d.Offset+elemOff, buf[i*d.ElemSize:(i+1)*d.ElemSize]); err != nil {
			return err
		}
	}
	return w.pushToClient(d, buf)
}

func (w *Worker) applyGatherIndex(d *Descriptor) error {
	buf := make([]byte, int64(len(d.Index))*d.ElemSize)
	for i, idx := range d.Index {
		elemOff := idx * d.ElemSize
		if err := w.Store.ReadAt(d.RegionID, d.Offset+elemOff, buf[int64(i)*d.ElemSize:int64(i+1)*d.ElemSize]); err != nil {
			return err
		}
	}
	return w.pushToClient(d, buf)
}

func (w *Worker) pushToClient(d *Descriptor, buf []byte) error {
	peer, err := w.Ctx.Provider.LookupPeer(d.ClientAddr)
	if err != nil {
		return err
	}
	return w.Ctx.Write(fabric.Key(d.SourceKey), buf, 0, peer, fabric.IsBlocking)
}

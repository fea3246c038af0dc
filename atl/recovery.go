package atl

import (
	"github.com/golang/glog"
)

// MaxRecoveryRetries bounds per-entry recovery attempts before Recover
// gives up on the queue with a *Disabled error.
const MaxRecoveryRetries = 5

// Disabled is the error Recover returns when some entry exhausted
// MaxRecoveryRetries; that entry stays queued. ms.Server.RecoverAll only
// logs it: the queue's worker is not stopped, and EnqueueAtomic still
// accepts atomic-write pushes against the queue.
type Disabled struct {
	QueueID string
	Seq     uint64
	Cause   error
}

func (d *Disabled) Error() string {
	return "atl: queue " + d.QueueID + " disabled after exhausting recovery retries on seq " + itoa(d.Seq) + ": " + d.Cause.Error()
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Recover walks the queue from front through size entries (spec.md
// "Recovery at startup"). A descriptor with WRITE_IN_PROGRESS set and
// WRITE_COMPLETED clear is an in-flight write from a prior crash; its
// already-pulled payload is re-applied to the target. Completed entries
// are simply popped. Entries that are neither (still awaiting their
// pull) are left queued for the worker's normal Drain loop.
func (w *Worker) Recover() error {
	for _, d := range w.Queue.Peek() {
		if d.Flags&FlagWriteCompleted != 0 {
			w.Queue.Pop()
			continue
		}
		if d.Flags&FlagWriteInProgress == 0 {
			// Never started. The worker only touches the front slot, so
			// everything behind this entry is untouched too; stop here
			// rather than keep scanning (Pop always removes the front,
			// and skipping would desynchronize pops from this walk).
			break
		}
		if err := w.recoverOne(d); err != nil {
			return &Disabled{QueueID: w.Queue.id, Seq: d.Seq, Cause: err}
		}
	}
	return nil
}

func (w *Worker) recoverOne(d *Descriptor) error {
	var lastErr error
	for attempt := 1; attempt <= MaxRecoveryRetries; attempt++ {
		err := w.reapply(d)
		if err == nil {
			w.Queue.Pop()
			return nil
		}
		lastErr = err
		glog.Warningf("atl: recovery attempt %d/%d for seq %d failed: %v", attempt, MaxRecoveryRetries, d.Seq, err)
	}
	return lastErr
}

// reapply redoes the memory-store side of a staged request using the
// payload already captured in the descriptor (no re-pull from the
// client: the crash happened after the pull completed, since
// WRITE_IN_PROGRESS was set only once BUFFER_ALLOCATED had landed).
func (w *Worker) reapply(d *Descriptor) error {
	switch {
	case d.Flags&FlagWrite != 0:
		return w.Store.WriteAt(d.RegionID, d.Offset, d.Buffer)
	case d.Flags&FlagScatterStride != 0:
		for i := int64(0); i < d.IndexCount; i++ {
			elemOff := (d.First + d.Stride*i) * d.ElemSize
			elem := d.Buffer[i*d.ElemSize : (i+1)*d.ElemSize]
			if err := w.Store.WriteAt(d.RegionID, d.Offset+elemOff, elem); err != nil {
				return err
			}
		}
		return nil
	case d.Flags&FlagScatterIndex != 0:
		for i, idx := range d.Index {
			elemOff := idx * d.ElemSize
			elem := d.Buffer[int64(i)*d.ElemSize : int64(i+1)*d.ElemSize]
			if err := w.Store.WriteAt(d.RegionID, d.Offset+elemOff, elem); err != nil {
				return err
			}
		}
		return nil
	default:
		// gather ops never reach WRITE_IN_PROGRESS; nothing to redo
		return nil
	}
}

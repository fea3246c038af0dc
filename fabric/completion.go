package fabric

import (
	"time"

	"github.com/openfam/fam/cmn"
)

// Retry policy constants from spec.md §4.2/§5: a tight spin of
// TimeoutRetry attempts with no sleep, then a coarse loop sleeping
// TimeoutWaitSleep between attempts, bounded in aggregate by MaxWait.
const (
	TimeoutRetry     = 10000           // fast spin attempts before coarsening
	TimeoutWaitSleep = 10 * time.Millisecond
	MaxWait          = time.Hour
)

// Fam_Timeout_Exception equivalent.
type TimeoutError struct {
	Waited time.Duration
}

func (e *TimeoutError) Error() string {
	return "FAM timeout: no completion after " + e.Waited.String()
}

// GetFamError translates a provider errno into the FAM error kind, per
// spec.md §4.2's "provider error always surfaces as a Fam_Datapath_Exception
// whose kind is mapped via get_fam_error".
func GetFamError(perr *ProviderError) error {
	switch perr.Errno {
	case ErrnoNoPerm:
		return cmn.NewFamError(cmn.ErrNoPerm, perr.Message)
	case ErrnoTimeout:
		return cmn.NewFamError(cmn.ErrTimeout, perr.Message)
	default:
		return cmn.NewFamError(cmn.ErrLibfabric, perr.Message)
	}
}

// waitCompletion implements the single-context completion-wait algorithm
// of spec.md §4.2: poll once; on "nothing yet" retry (tight, then
// coarse, bounded by MaxWait in aggregate); on a completion whose
// OpContext matches, return; on a mismatched completion (another
// thread's), stash it for that thread and keep looping; any negative
// poll surfaces the translated provider error.
func (c *Context) waitCompletion(side CQSide, opContext uint64) error {
	deadline := time.Now().Add(MaxWait)
	tightLeft := TimeoutRetry
	for {
		if c.stashTake(side, opContext) {
			return nil
		}
		comp, ok, err := c.Provider.PollCQ(side)
		if err != nil {
			if perr, is := err.(*ProviderError); is {
				return GetFamError(perr)
			}
			return err
		}
		if ok {
			if comp.OpContext == opContext {
				return nil
			}
			// another thread's completion; park it where that thread's
			// own waitCompletion will find it
			c.stashPut(side, comp)
			continue
		}
		if time.Now().After(deadline) {
			return &TimeoutError{Waited: MaxWait}
		}
		if tightLeft > 0 {
			tightLeft--
			continue
		}
		time.Sleep(TimeoutWaitSleep)
	}
}

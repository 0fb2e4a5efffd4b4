package mgmt

import (
	"fmt"
	"time"

	"github.com/lrmgmt/lrmgmt-go/pkg/dispatch"
	"github.com/lrmgmt/lrmgmt-go/pkg/errcode"
	"github.com/lrmgmt/lrmgmt-go/pkg/log"
	"github.com/lrmgmt/lrmgmt-go/pkg/wire"
)

// SyncState is the clock sync mode.
type SyncState uint8

const (
	// SyncClear means no clock sync is scheduled.
	SyncClear SyncState = iota

	// SyncNetwork syncs periodically at the sync interval.
	SyncNetwork

	// SyncOneShot syncs once, then returns to SyncClear.
	SyncOneShot
)

// String returns the state name.
func (s SyncState) String() string {
	switch s {
	case SyncClear:
		return "CLEAR"
	case SyncNetwork:
		return "NETWORK_SYNC"
	case SyncOneShot:
		return "ONE_SHOT"
	default:
		return "UNKNOWN"
	}
}

// SyncContext is the clock sync state.
type SyncContext struct {
	State SyncState

	// Counter counts successful exchanges.
	Counter uint32

	// Failures counts consecutive failed exchanges.
	Failures int

	// SuspendIndex selects the delay after the next failed one-shot.
	SuspendIndex int

	// LastSync is the node time of the last successful exchange.
	LastSync time.Time

	InFlight bool
}

// ClockSync returns the clock sync context.
func (h *Handle) ClockSync() SyncContext {
	return h.sync
}

// SetSyncMode switches the clock sync mode. NetworkSync and OneShot start
// an exchange on the next loop pass.
func (h *Handle) SetSyncMode(mode SyncState) error {
	if mode > SyncOneShot {
		return errcode.Protocol("mgmt.SetSyncMode", fmt.Errorf("%w: %d", ErrInvalidMode, mode))
	}
	old := h.sync.State
	h.sync.State = mode
	h.syncGen++
	h.sync.InFlight = false
	if mode == SyncClear {
		h.queue.Cancel(h.syncEv)
	} else {
		h.queue.Schedule(h.syncEv, 0)
	}
	if old != mode {
		h.logState(log.StateEntityClockSync, old, mode, "mode")
	}
	return nil
}

func (h *Handle) onSync() {
	if h.sync.State == SyncClear || h.sync.InFlight {
		return
	}
	gen := h.syncGen
	req := TimeRequest{T1: h.Now().UnixNano()}
	h.sync.InFlight = true
	err := h.send(DescClockSync, req, true, func(res dispatch.Result) {
		h.onSyncResult(gen, req, res)
	})
	if err != nil {
		h.sync.InFlight = false
		h.syncFailed(err)
	}
}

func (h *Handle) onSyncResult(gen uint64, req TimeRequest, res dispatch.Result) {
	if gen != h.syncGen {
		return
	}
	h.sync.InFlight = false
	if res.Err != nil {
		h.syncFailed(res.Err)
		return
	}
	if res.Status != wire.StatusSuccess {
		h.syncFailed(fmt.Errorf("%w: status %s", ErrSyncFailed, res.Status))
		return
	}
	var resp TimeResponse
	if err := wire.Unmarshal(res.Payload, &resp); err != nil {
		h.syncFailed(errcode.Protocol("clock sync", err))
		return
	}
	if resp.T1 != req.T1 {
		h.syncFailed(fmt.Errorf("%w: response for another exchange", ErrSyncFailed))
		return
	}

	t4 := h.Now().UnixNano()
	offset := time.Duration(((resp.T2 - resp.T1) + (resp.T3 - t4)) / 2)
	h.clockOffset += offset

	h.sync.Counter++
	h.sync.Failures = 0
	h.sync.SuspendIndex = 0
	h.sync.LastSync = h.Now()
	h.logger.Info("clock synced", "offset", offset, "count", h.sync.Counter)

	if h.sync.State == SyncOneShot {
		h.sync.State = SyncClear
		h.logState(log.StateEntityClockSync, SyncOneShot, SyncClear, "synced")
	} else {
		h.queue.Schedule(h.syncEv, h.syncInterval)
	}
	h.resync()
	if h.cfg.OnClockSync != nil {
		h.cfg.OnClockSync(offset)
	}
}

func (h *Handle) syncFailed(cause error) {
	h.sync.Failures++
	delay := h.syncInterval
	if h.sync.State == SyncOneShot {
		delay = h.cfg.SuspendIntervals[h.sync.SuspendIndex]
		h.sync.SuspendIndex = min(h.sync.SuspendIndex+1, len(h.cfg.SuspendIntervals)-1)
	}
	h.queue.Schedule(h.syncEv, delay)
	h.logger.Warn("clock sync failed", "state", h.sync.State, "failures", h.sync.Failures, "retry", delay, "err", cause)
}

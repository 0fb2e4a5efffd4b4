package mgmt

import (
	"github.com/lrmgmt/lrmgmt-go/pkg/link"
)

// AddTeardown registers fn to run, in registration order, when a factory
// reset fires.
func (h *Handle) AddTeardown(name string, fn func()) {
	h.teardown = append(h.teardown, teardownHook{name: name, fn: fn})
}

// FactoryReset schedules a factory reset after the configured delay. It
// returns false if one is already pending.
func (h *Handle) FactoryReset() bool {
	if h.resetEv.Pending() {
		return false
	}
	h.queue.Schedule(h.resetEv, h.cfg.FactoryResetDelay)
	h.logger.Warn("factory reset scheduled", "delay", h.cfg.FactoryResetDelay)
	return true
}

// FactoryResetPending reports whether a factory reset is scheduled.
func (h *Handle) FactoryResetPending() bool {
	return h.resetEv.Pending()
}

func (h *Handle) onFactoryReset() {
	for _, hook := range h.teardown {
		h.logger.Debug("teardown", "hook", hook.name)
		hook.fn()
	}

	h.queue.Cancel(h.keepAlive)
	h.queue.Cancel(h.syncEv)
	h.queue.Cancel(h.joinEv)

	if h.cfg.Store != nil {
		if err := h.cfg.Store.Clear(); err != nil {
			h.logger.Error("clear persisted state", "err", err)
		}
	}

	h.address = link.Unassigned
	h.paired = false
	h.groupID = 0
	h.auxID = 0
	h.kaSeq = 0
	h.syncGen++
	h.joinGen++
	h.sync = SyncContext{}
	h.join = JoinContext{}
	h.clockOffset = 0
	h.params.reset()

	h.logger.Warn("factory reset complete")
	if h.cfg.OnFactoryReset != nil {
		h.cfg.OnFactoryReset()
	}
}

package mgmt

import (
	"time"
)

// KeepAliveInterval returns the current interval. Zero means disabled.
func (h *Handle) KeepAliveInterval() time.Duration {
	return h.kaInterval
}

// SetKeepAliveInterval changes the interval. Zero stops keep-alive; a
// running keep-alive moves to the new interval.
func (h *Handle) SetKeepAliveInterval(d time.Duration) {
	h.kaInterval = max(d, 0)
	if h.kaInterval == 0 {
		h.queue.Cancel(h.keepAlive)
		return
	}
	if h.keepAlive.Pending() {
		h.queue.Schedule(h.keepAlive, h.kaInterval)
	}
}

// StartKeepAlive schedules the first ping one interval from now.
func (h *Handle) StartKeepAlive() {
	h.Reschedule(h.kaInterval)
}

// StopKeepAlive cancels the next ping.
func (h *Handle) StopKeepAlive() {
	h.queue.Cancel(h.keepAlive)
}

// Reschedule overrides the delay of the next ping. It does nothing while
// keep-alive is disabled.
func (h *Handle) Reschedule(delay time.Duration) {
	if h.kaInterval <= 0 {
		return
	}
	h.queue.Schedule(h.keepAlive, delay)
}

// NextKeepAlive returns when the next ping is due, or the zero time.
func (h *Handle) NextKeepAlive() time.Time {
	return h.keepAlive.Expiry()
}

func (h *Handle) onKeepAlive() {
	h.kaSeq++
	msg := KeepAlive{
		Uptime: uint32(h.queue.Now().Sub(h.startedAt) / time.Second),
		Seq:    h.kaSeq,
	}
	if err := h.send(DescKeepAlive, msg, false, nil); err != nil {
		h.logger.Warn("keep-alive not sent", "seq", h.kaSeq, "err", err)
	}
	if h.kaInterval > 0 {
		h.queue.Schedule(h.keepAlive, h.kaInterval)
	}
}

package mgmt

import (
	"fmt"

	"github.com/lrmgmt/lrmgmt-go/pkg/dispatch"
	"github.com/lrmgmt/lrmgmt-go/pkg/errcode"
	"github.com/lrmgmt/lrmgmt-go/pkg/log"
	"github.com/lrmgmt/lrmgmt-go/pkg/wire"
)

// NetworkState is a network connection state change reported by the
// link layer.
type NetworkState uint8

const (
	// NetLost means the network is unreachable.
	NetLost NetworkState = iota

	// NetSynced means the node has synchronized with the network.
	NetSynced

	// NetSyncRequested means the network asked the node to resync.
	NetSyncRequested

	// NetParamChanged means network parameters changed.
	NetParamChanged
)

// String returns the state name.
func (s NetworkState) String() string {
	switch s {
	case NetLost:
		return "LOST"
	case NetSynced:
		return "SYNCED"
	case NetSyncRequested:
		return "SYNC_REQUESTED"
	case NetParamChanged:
		return "PARAM_CHANGED"
	default:
		return "UNKNOWN"
	}
}

// JoinContext is the state of the current join cycle.
type JoinContext struct {
	// Retries counts failed attempts in this cycle.
	Retries int

	// Code is the last response code. Valid when Responded.
	Code      JoinCode
	Responded bool

	// Pending is set while the cycle has not finished.
	Pending bool
}

// JoinResult ends a join cycle.
type JoinResult struct {
	Code    JoinCode
	Retries int

	// Err is nil when the gateway accepted the device.
	Err error
}

type joinPhase string

func (p joinPhase) String() string { return string(p) }

// Join returns the join context.
func (h *Handle) Join() JoinContext {
	return h.join
}

// OnNetworkState starts a join cycle when the network syncs, requests a
// resync or changes parameters, and stops it when the network is lost.
func (h *Handle) OnNetworkState(s NetworkState) {
	switch s {
	case NetSynced, NetSyncRequested, NetParamChanged:
		h.startJoin(s)
	default:
		h.stopJoin()
	}
}

func (h *Handle) startJoin(reason NetworkState) {
	h.queue.Cancel(h.joinEv)
	h.joinGen++
	h.join = JoinContext{Pending: true}
	h.joinReason = reason
	h.joinBackoff.Reset()

	delay := h.cfg.JoinDelay + h.joinBackoff.Jitter(h.cfg.JoinDelay, h.cfg.JoinJitter)
	h.queue.Schedule(h.joinEv, delay)
	h.logger.Info("join scheduled", "reason", reason, "delay", delay)
	h.logState(log.StateEntityJoin, joinPhase("IDLE"), joinPhase("PENDING"), reason.String())
}

func (h *Handle) stopJoin() {
	h.queue.Cancel(h.joinEv)
	if h.join.Pending {
		h.joinGen++
		h.join.Pending = false
		h.logState(log.StateEntityJoin, joinPhase("PENDING"), joinPhase("IDLE"), NetLost.String())
	}
}

func (h *Handle) onJoin() {
	if !h.join.Pending {
		return
	}
	gen := h.joinGen
	req := JoinRequest{
		Reason:  h.joinReason,
		GroupID: h.groupID,
		AuxID:   h.auxID,
		Attempt: uint8(min(h.join.Retries+1, 255)),
	}
	err := h.send(DescJoin, req, true, func(res dispatch.Result) {
		h.onJoinResult(gen, res)
	})
	if err != nil {
		h.joinFailed(err)
	}
}

func (h *Handle) onJoinResult(gen uint64, res dispatch.Result) {
	if gen != h.joinGen || !h.join.Pending {
		return
	}
	if res.Err != nil {
		h.joinFailed(res.Err)
		return
	}
	if res.Status != wire.StatusSuccess {
		h.joinFailed(fmt.Errorf("join response status %s", res.Status))
		return
	}
	var resp JoinResponse
	if err := wire.Unmarshal(res.Payload, &resp); err != nil {
		h.joinFailed(errcode.Protocol("join", err))
		return
	}

	h.join.Pending = false
	h.join.Responded = true
	h.join.Code = resp.Code

	result := JoinResult{Code: resp.Code, Retries: h.join.Retries}
	if resp.Code == JoinAccepted {
		if resp.GroupID != 0 {
			h.groupID = resp.GroupID
		}
		if resp.AuxID != 0 {
			h.auxID = resp.AuxID
		}
		h.save()
		h.resync()
		h.logger.Info("join accepted", "group", h.groupID, "aux", h.auxID)
	} else {
		result.Err = errcode.Protocol("join", fmt.Errorf("%w: code %s", ErrJoinRejected, resp.Code))
		h.logger.Warn("join rejected", "code", resp.Code)
	}
	h.logState(log.StateEntityJoin, joinPhase("PENDING"), resp.Code, h.joinReason.String())
	if h.cfg.OnJoin != nil {
		h.cfg.OnJoin(result)
	}
}

func (h *Handle) joinFailed(cause error) {
	h.join.Retries++
	if h.join.Retries <= h.cfg.MaxJoinRetries {
		delay := h.joinBackoff.Next()
		h.queue.Schedule(h.joinEv, delay)
		h.logger.Debug("join retry", "retries", h.join.Retries, "delay", delay, "err", cause)
		return
	}

	h.join.Pending = false
	err := errcode.Transport("join", fmt.Errorf("%w after %d attempts: %w", ErrJoinFailed, h.join.Retries, cause))
	h.logger.Warn("join failed", "err", err)
	h.logState(log.StateEntityJoin, joinPhase("PENDING"), joinPhase("FAILED"), cause.Error())
	if h.cfg.OnJoin != nil {
		h.cfg.OnJoin(JoinResult{Retries: h.join.Retries, Err: err})
	}
}

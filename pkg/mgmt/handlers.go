package mgmt

import (
	"context"

	"github.com/lrmgmt/lrmgmt-go/pkg/dispatch"
	"github.com/lrmgmt/lrmgmt-go/pkg/secsession"
	"github.com/lrmgmt/lrmgmt-go/pkg/wire"
)

// registerHandlers installs the commands a gateway sends to the device.
func (h *Handle) registerHandlers(reg *dispatch.Registry) error {
	var opts []dispatch.RegisterOption
	if h.cfg.Secure {
		opts = append(opts, dispatch.RequireSecured(secsession.MaskAll))
	}

	handlers := []struct {
		desc wire.Descriptor
		fn   dispatch.HandlerFunc
	}{
		{DescConfigGet, h.handleConfigGet},
		{DescConfigSet, h.handleConfigSet},
		{DescClockSyncMode, h.handleSyncMode},
		{DescFactoryReset, h.handleFactoryReset},
	}
	for _, hd := range handlers {
		if err := reg.Register(hd.desc, hd.fn, opts...); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handle) handleConfigGet(_ context.Context, req *dispatch.Request) *dispatch.Response {
	var msg ParamRequest
	if err := wire.Unmarshal(req.Payload, &msg); err != nil {
		return dispatch.StatusResponse(wire.StatusMalformed)
	}
	payload, status := h.params.Get(msg.ID)
	return &dispatch.Response{Status: status, Payload: payload}
}

func (h *Handle) handleConfigSet(_ context.Context, req *dispatch.Request) *dispatch.Response {
	var msg ParamValue
	if err := wire.Unmarshal(req.Payload, &msg); err != nil {
		return dispatch.StatusResponse(wire.StatusMalformed)
	}
	payload, status := h.params.Set(msg.ID, msg.Value)
	if status != wire.StatusSuccess {
		h.logger.Info("configuration rejected", "id", msg.ID, "value", msg.Value, "status", status)
	}
	return &dispatch.Response{Status: status, Payload: payload}
}

func (h *Handle) handleSyncMode(_ context.Context, req *dispatch.Request) *dispatch.Response {
	var msg SyncModeRequest
	if err := wire.Unmarshal(req.Payload, &msg); err != nil {
		return dispatch.StatusResponse(wire.StatusMalformed)
	}
	if err := h.SetSyncMode(msg.Mode); err != nil {
		return dispatch.StatusResponse(wire.StatusInvalidParameter)
	}
	return dispatch.StatusResponse(wire.StatusSuccess)
}

func (h *Handle) handleFactoryReset(context.Context, *dispatch.Request) *dispatch.Response {
	if !h.FactoryReset() {
		return dispatch.StatusResponse(wire.StatusBusy)
	}
	return dispatch.StatusResponse(wire.StatusSuccess)
}

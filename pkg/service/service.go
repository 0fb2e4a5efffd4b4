package service

import (
	"context"
	"errors"
	"time"

	"github.com/lrmgmt/lrmgmt-go/pkg/dispatch"
	"github.com/lrmgmt/lrmgmt-go/pkg/errcode"
	"github.com/lrmgmt/lrmgmt-go/pkg/eventq"
	"github.com/lrmgmt/lrmgmt-go/pkg/link"
	"github.com/lrmgmt/lrmgmt-go/pkg/log"
	"github.com/lrmgmt/lrmgmt-go/pkg/wire"
)

// Service errors.
var (
	ErrMissingConfig     = errors.New("missing configuration")
	ErrHandshakeRejected = errors.New("handshake rejected by gateway")
	ErrNoSession         = errors.New("no session with device")
	ErrRequestFailed     = errors.New("request failed")
)

// Call runs fn on the processing loop of q and waits for its result.
func Call(ctx context.Context, q *eventq.Queue, fn func() error) error {
	done := make(chan error, 1)
	q.Post(func() { done <- fn() })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handshakeDescriptor is the slot of one secure session step.
func handshakeDescriptor(id uint16) wire.Descriptor {
	return wire.Descriptor{Class: wire.ClassSecureSession, ID: id, Opcode: wire.OpWrite}
}

// handshakeStatus maps a handshake failure to the response status.
func handshakeStatus(err error) wire.Status {
	switch errcode.KindOf(err) {
	case errcode.KindSecurity:
		return wire.StatusAuthFailed
	case errcode.KindProtocol:
		return wire.StatusInvalidState
	default:
		return wire.StatusMalformed
	}
}

// receive installs the link receiver: frames are logged and handed to
// the dispatcher on the processing loop.
func receive(q *eventq.Queue, lnk link.NetworkInterface, d *dispatch.Dispatcher, plog log.Logger, role log.Role) {
	lnk.SetReceiver(func(src link.Address, frame []byte) {
		plog.Log(log.Event{
			Timestamp: time.Now(),
			Direction: log.DirectionIn,
			Layer:     log.LayerLink,
			Category:  log.CategoryMessage,
			LocalRole: role,
			Remote:    src.String(),
			Frame:     log.NewFrameEvent(frame),
		})
		q.Post(func() { d.Receive(src, frame) })
	})
}

// resultError folds a transport failure and a non-success status into
// one error.
func resultError(res dispatch.Result) error {
	if res.Err != nil {
		return res.Err
	}
	if res.Status != wire.StatusSuccess {
		return errcode.Protocol("request", &StatusError{Status: res.Status})
	}
	return nil
}

// StatusError is a non-success response status.
type StatusError struct {
	Status wire.Status
}

func (e *StatusError) Error() string {
	return ErrRequestFailed.Error() + ": " + e.Status.String()
}

// Unwrap makes errors.Is(err, ErrRequestFailed) hold.
func (e *StatusError) Unwrap() error {
	return ErrRequestFailed
}

// Package service assembles complete nodes from the lower-level packages.
//
// # Device
//
// Device owns the trust pipeline of an endpoint: the registration
// controller, the device side of the secure session engine, the command
// dispatcher and the management core. Registration drives the handshake
// over the dispatcher; once the session key is ready the device adopts
// the assigned address, installs the session for its gateway, starts a
// join cycle and begins sending keep-alives.
//
//	dev, err := service.NewDevice(service.DeviceConfig{
//		Queue:       q,
//		Link:        lnk,
//		Credentials: creds,
//		Gateway:     0x00000001,
//	})
//	q.Post(func() { _ = dev.Register() })
//	_ = q.Run(ctx)
//
// # Gateway
//
// Gateway answers the handshake of any number of devices, assigns
// addresses, and serves join, keep-alive and clock sync requests. It can
// also read and write device configuration, switch a device's clock sync
// mode and request a factory reset.
//
// # Threading
//
// Nodes are owned by their event queue. Inbound frames are posted to the
// queue by the link's receive goroutine; every exported method must be
// called on the processing loop, for example through Call.
package service

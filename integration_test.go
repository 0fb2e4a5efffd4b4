package lrmgmt_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lrmgmt/lrmgmt-go/pkg/cert"
	"github.com/lrmgmt/lrmgmt-go/pkg/eventq"
	"github.com/lrmgmt/lrmgmt-go/pkg/link"
	"github.com/lrmgmt/lrmgmt-go/pkg/mgmt"
	"github.com/lrmgmt/lrmgmt-go/pkg/persistence"
	"github.com/lrmgmt/lrmgmt-go/pkg/registration"
	"github.com/lrmgmt/lrmgmt-go/pkg/service"
)

const gatewayAddr link.Address = 0x00000001

type pki struct {
	device  *cert.DeviceCredentials
	gateway *cert.GatewayCredentials
}

func newPKI(t *testing.T) pki {
	t.Helper()
	root, err := cert.NewAuthority()
	require.NoError(t, err)
	model, err := root.IssueModel([]byte("MODEL-E2E-01"))
	require.NoError(t, err)
	gwKey, err := cert.GenerateKeyPair()
	require.NoError(t, err)
	dev, err := model.IssueDevice([]byte("DEVICE-E2E-0001"), &gwKey.PublicKey)
	require.NoError(t, err)
	return pki{
		device:  dev,
		gateway: &cert.GatewayCredentials{IdentityKey: gwKey, RootPublicKey: root.PublicKey()},
	}
}

// TestE2E_RegistrationOverUDP runs a device and a gateway on separate
// processing loops connected by loopback UDP.
func TestE2E_RegistrationOverUDP(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	creds := newPKI(t)

	gwLink, err := link.ListenUDP(link.UDPConfig{Listen: "127.0.0.1:0", Local: gatewayAddr})
	require.NoError(t, err)
	devLink, err := link.ListenUDP(link.UDPConfig{
		Listen: "127.0.0.1:0",
		Peers:  map[link.Address]string{gatewayAddr: gwLink.Addr().String()},
	})
	require.NoError(t, err)

	gwQueue := eventq.New(eventq.Config{})
	devQueue := eventq.New(eventq.Config{})

	registered := make(chan persistence.DeviceRecord, 1)
	gw, err := service.NewGateway(service.GatewayConfig{
		Queue:       gwQueue,
		Link:        gwLink,
		Credentials: creds.gateway,
		Store:       persistence.NewFileStore(t.TempDir()),
		GroupID:     42,
		Secure:      true,
		OnDevice:    func(r persistence.DeviceRecord) { registered <- r },
	})
	require.NoError(t, err)
	defer gw.Close()

	outcomes := make(chan registration.Outcome, 1)
	joins := make(chan mgmt.JoinResult, 1)
	dev, err := service.NewDevice(service.DeviceConfig{
		Queue:       devQueue,
		Link:        devLink,
		Credentials: creds.device,
		Gateway:     gatewayAddr,
		Mgmt: mgmt.Config{
			Secure:    true,
			JoinDelay: 10 * time.Millisecond,
			Rand:      func() float64 { return 0 },
			OnJoin:    func(r mgmt.JoinResult) { joins <- r },
		},
		OnRegistration: func(o registration.Outcome) { outcomes <- o },
	})
	require.NoError(t, err)
	defer dev.Close()

	go func() { _ = gwQueue.Run(ctx) }()
	go func() { _ = devQueue.Run(ctx) }()

	require.NoError(t, service.Call(ctx, devQueue, dev.Register))

	select {
	case o := <-outcomes:
		require.NoError(t, o.Err)
		assert.Equal(t, registration.StateCompleted, o.State)
	case <-ctx.Done():
		t.Fatal("registration did not finish")
	}

	var rec persistence.DeviceRecord
	select {
	case rec = <-registered:
	case <-ctx.Done():
		t.Fatal("gateway did not record the device")
	}
	assert.Equal(t, uint32(service.DefaultFirstAddress), rec.Address)

	select {
	case j := <-joins:
		require.NoError(t, j.Err)
		assert.Equal(t, mgmt.JoinAccepted, j.Code)
	case <-ctx.Done():
		t.Fatal("join did not finish")
	}

	var group uint32
	var addr link.Address
	require.NoError(t, service.Call(ctx, devQueue, func() error {
		group = dev.Mgmt().GroupID()
		addr = dev.Mgmt().Address()
		return nil
	}))
	assert.Equal(t, uint32(42), group)
	assert.Equal(t, service.DefaultFirstAddress, addr)
	assert.Equal(t, addr, devLink.LocalAddress())

	// The gateway reads the device's keep-alive interval over the
	// sealed session.
	got := make(chan uint32, 1)
	require.NoError(t, service.Call(ctx, gwQueue, func() error {
		return gw.GetParam(addr, mgmt.ParamKeepAliveInterval, func(v uint32, err error) {
			assert.NoError(t, err)
			got <- v
		})
	}))
	select {
	case v := <-got:
		assert.Equal(t, uint32(0), v)
	case <-ctx.Done():
		t.Fatal("parameter read did not finish")
	}
}

// Package interactive provides the interactive console of lrdevice.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/lrmgmt/lrmgmt-go/pkg/eventq"
	"github.com/lrmgmt/lrmgmt-go/pkg/mgmt"
	"github.com/lrmgmt/lrmgmt-go/pkg/service"
	"github.com/lrmgmt/lrmgmt-go/pkg/wire"
)

// callTimeout bounds how long a command waits for the processing loop.
const callTimeout = 5 * time.Second

var errNotReady = errors.New("device not ready")

// Console drives a device from the terminal.
type Console struct {
	rl  *readline.Instance
	out io.Writer

	dev   *service.Device
	queue *eventq.Queue
}

// New creates the console. Attach must be called before Run.
func New() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "lrdevice> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl, out: rl.Stdout()}, nil
}

// Stdout returns a writer that does not garble the prompt. Route log
// output through it.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Attach binds the console to a running device.
func (c *Console) Attach(dev *service.Device, queue *eventq.Queue) {
	c.dev = dev
	c.queue = queue
}

// Run reads commands until quit, EOF or ctx ends.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
		if c.exec(ctx, line) {
			cancel()
			return
		}
	}
}

// exec runs one command line. It returns true on quit.
func (c *Console) exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		c.printHelp()
	case "register", "reg":
		err = c.call(ctx, func() error { return c.dev.Register() })
	case "cancel":
		err = c.call(ctx, func() error { return c.dev.CancelRegistration() })
	case "state", "s":
		err = c.cmdState(ctx)
	case "sync":
		err = c.cmdSync(ctx, args)
	case "keepalive", "ka":
		err = c.cmdKeepAlive(ctx, args)
	case "get":
		err = c.cmdGet(ctx, args)
	case "factory-reset":
		err = c.cmdFactoryReset(ctx)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
	return false
}

// call runs fn on the device's processing loop.
func (c *Console) call(ctx context.Context, fn func() error) error {
	if c.dev == nil {
		return errNotReady
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return service.Call(ctx, c.queue, fn)
}

func (c *Console) cmdState(ctx context.Context) error {
	var b strings.Builder
	err := c.call(ctx, func() error {
		m := c.dev.Mgmt()
		reg := c.dev.Registration()
		fmt.Fprintf(&b, "Registration: %s (%s)\n", reg.State(), reg.SubState())
		fmt.Fprintf(&b, "Session:      %s\n", c.dev.Session().State())
		if m.Paired() {
			fmt.Fprintf(&b, "Address:      %s\n", m.Address())
		} else {
			fmt.Fprintln(&b, "Address:      unassigned")
		}
		fmt.Fprintf(&b, "Group/Aux:    %d/%d\n", m.GroupID(), m.AuxID())
		j := m.Join()
		fmt.Fprintf(&b, "Join:         pending=%v retries=%d code=%s\n", j.Pending, j.Retries, j.Code)
		fmt.Fprintf(&b, "Keep-alive:   %s\n", m.KeepAliveInterval())
		s := m.ClockSync()
		fmt.Fprintf(&b, "Clock sync:   %s counter=%d failures=%d offset=%s\n", s.State, s.Counter, s.Failures, m.ClockOffset())
		if m.FactoryResetPending() {
			fmt.Fprintln(&b, "Factory reset pending")
		}
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprint(c.out, b.String())
	return nil
}

func (c *Console) cmdSync(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: sync <network|oneshot|clear>")
	}
	mode, err := parseSyncMode(args[0])
	if err != nil {
		return err
	}
	return c.call(ctx, func() error { return c.dev.Mgmt().SetSyncMode(mode) })
}

func (c *Console) cmdKeepAlive(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: keepalive <duration>")
	}
	d, err := time.ParseDuration(args[0])
	if err != nil {
		return err
	}
	if d < 0 || d%time.Second != 0 {
		return fmt.Errorf("keep-alive interval %s is not a whole number of seconds", d)
	}
	return c.call(ctx, func() error {
		_, status := c.dev.Mgmt().Params().Set(mgmt.ParamKeepAliveInterval, uint32(d/time.Second))
		return statusError(status)
	})
}

func (c *Console) cmdGet(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get <id>")
	}
	id, err := strconv.ParseUint(args[0], 0, 16)
	if err != nil {
		return fmt.Errorf("invalid parameter id %q", args[0])
	}
	var v uint32
	err = c.call(ctx, func() error {
		p, ok := c.dev.Mgmt().Params().Lookup(uint16(id))
		if !ok {
			return statusError(wire.StatusUnsupported)
		}
		v = p.Get()
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "param %d = %d\n", id, v)
	return nil
}

func (c *Console) cmdFactoryReset(ctx context.Context) error {
	var scheduled bool
	err := c.call(ctx, func() error {
		scheduled = c.dev.Mgmt().FactoryReset()
		return nil
	})
	if err != nil {
		return err
	}
	if !scheduled {
		fmt.Fprintln(c.out, "Factory reset already pending")
		return nil
	}
	fmt.Fprintln(c.out, "Factory reset scheduled")
	return nil
}

func parseSyncMode(s string) (mgmt.SyncState, error) {
	switch strings.ToLower(s) {
	case "network", "net":
		return mgmt.SyncNetwork, nil
	case "oneshot", "one-shot":
		return mgmt.SyncOneShot, nil
	case "clear", "off":
		return mgmt.SyncClear, nil
	default:
		return 0, fmt.Errorf("unknown sync mode %q", s)
	}
}

func statusError(s wire.Status) error {
	if s == wire.StatusSuccess {
		return nil
	}
	return &service.StatusError{Status: s}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Device Commands:
  Registration:
    register           - Register with the gateway (refreshes the key once paired)
    cancel             - Cancel the registration in progress
    state              - Show registration, session and management state

  Management:
    sync <mode>        - Set clock sync mode: network, oneshot, clear
    keepalive <d>      - Set the keep-alive interval, e.g. 15m (0 disables)
    get <id>           - Read a configuration parameter
    factory-reset      - Schedule a factory reset

  General:
    help               - Show this help
    quit               - Exit`)
}

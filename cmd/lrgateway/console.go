package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"

	"github.com/lrmgmt/lrmgmt-go/pkg/eventq"
	"github.com/lrmgmt/lrmgmt-go/pkg/link"
	"github.com/lrmgmt/lrmgmt-go/pkg/mgmt"
	"github.com/lrmgmt/lrmgmt-go/pkg/persistence"
	"github.com/lrmgmt/lrmgmt-go/pkg/service"
)

// requestTimeout bounds a command that waits for a device response.
const requestTimeout = 2 * time.Minute

var errNotReady = errors.New("gateway not ready")

// Console drives a gateway from the terminal.
type Console struct {
	rl  *readline.Instance
	out io.Writer

	gw    *service.Gateway
	queue *eventq.Queue
}

// NewConsole creates the console. Attach must be called before Run.
func NewConsole() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "lrgateway> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl, out: rl.Stdout()}, nil
}

// Stdout returns a writer that does not garble the prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Attach binds the console to a running gateway.
func (c *Console) Attach(gw *service.Gateway, queue *eventq.Queue) {
	c.gw = gw
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
	case "devices", "d":
		err = c.cmdDevices(ctx)
	case "get":
		err = c.cmdGet(ctx, args)
	case "set":
		err = c.cmdSet(ctx, args)
	case "sync":
		err = c.cmdSync(ctx, args)
	case "reset":
		err = c.cmdReset(ctx, args)
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

func (c *Console) cmdDevices(ctx context.Context) error {
	if c.gw == nil {
		return errNotReady
	}
	var devices []persistence.DeviceRecord
	err := service.Call(ctx, c.queue, func() error {
		devices = c.gw.Devices()
		return nil
	})
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(c.out, "No devices registered")
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tSERIAL\tJOINED\tLAST SEEN")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", link.Address(d.Address), d.Serial, stamp(d.JoinedAt), stamp(d.LastSeenAt))
	}
	return tw.Flush()
}

func (c *Console) cmdGet(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: get <address> <id>")
	}
	addr, id, err := parseTarget(args[0], args[1])
	if err != nil {
		return err
	}
	var v uint32
	err = c.request(ctx, func(done func(error)) error {
		return c.gw.GetParam(addr, id, func(value uint32, err error) {
			v = value
			done(err)
		})
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s param %d = %d\n", addr, id, v)
	return nil
}

func (c *Console) cmdSet(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return errors.New("usage: set <address> <id> <value>")
	}
	addr, id, err := parseTarget(args[0], args[1])
	if err != nil {
		return err
	}
	v, err := strconv.ParseUint(args[2], 0, 32)
	if err != nil {
		return fmt.Errorf("invalid value %q", args[2])
	}
	err = c.request(ctx, func(done func(error)) error {
		return c.gw.SetParam(addr, id, uint32(v), done)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s param %d set to %d\n", addr, id, v)
	return nil
}

func (c *Console) cmdSync(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: sync <address> <network|oneshot|clear>")
	}
	addr, err := link.ParseAddress(args[0])
	if err != nil {
		return err
	}
	var mode mgmt.SyncState
	switch strings.ToLower(args[1]) {
	case "network":
		mode = mgmt.SyncNetwork
	case "oneshot":
		mode = mgmt.SyncOneShot
	case "clear":
		mode = mgmt.SyncClear
	default:
		return fmt.Errorf("unknown sync mode %q", args[1])
	}
	return c.request(ctx, func(done func(error)) error {
		return c.gw.SetSyncMode(addr, mode, done)
	})
}

func (c *Console) cmdReset(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: reset <address>")
	}
	addr, err := link.ParseAddress(args[0])
	if err != nil {
		return err
	}
	err = c.request(ctx, func(done func(error)) error {
		return c.gw.FactoryReset(addr, done)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s acknowledged factory reset\n", addr)
	return nil
}

// request starts an operation on the processing loop and waits for its
// completion callback.
func (c *Console) request(ctx context.Context, start func(done func(error)) error) error {
	if c.gw == nil {
		return errNotReady
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	result := make(chan error, 1)
	done := func(err error) { result <- err }
	if err := service.Call(ctx, c.queue, func() error { return start(done) }); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func parseTarget(addrArg, idArg string) (link.Address, uint16, error) {
	addr, err := link.ParseAddress(addrArg)
	if err != nil {
		return 0, 0, err
	}
	id, err := strconv.ParseUint(idArg, 0, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid parameter id %q", idArg)
	}
	return addr, uint16(id), nil
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.DateTime)
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Gateway Commands:
  devices                    - List registered devices
  get <addr> <id>            - Read a device configuration parameter
  set <addr> <id> <value>    - Write a device configuration parameter
  sync <addr> <mode>         - Set a device's clock sync mode: network, oneshot, clear
  reset <addr>               - Factory reset a device

  help                       - Show this help
  quit                       - Exit`)
}

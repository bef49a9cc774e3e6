package tor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"time"
)

// DefaultControlTimeout bounds a whole control port exchange.
const DefaultControlTimeout = 5 * time.Second

// controlStatusOK is the Tor control protocol success code.
const controlStatusOK = 250

// controlStatusAuthRequired and controlStatusBadAuth are the codes Tor uses
// when a command is sent before authenticating, or with a wrong password.
const (
	controlStatusAuthRequired = 514
	controlStatusBadAuth      = 515
)

// ControlClient sends commands to a Tor daemon's control port.
//
// Only password (HashedControlPassword) and null authentication are
// supported, which covers the torrc the operator is told to write. A new
// connection is opened per request; control operations are rare.
type ControlClient struct {
	address  string
	password string
	timeout  time.Duration
}

// NewControlClient creates a client for the control port at address.
// An empty password selects null authentication.
func NewControlClient(address, password string, timeout time.Duration) (*ControlClient, error) {
	if !isValidProxyAddress(address) {
		return nil, ErrInvalidProxyAddress
	}
	if timeout <= 0 {
		timeout = DefaultControlTimeout
	}
	return &ControlClient{
		address:  address,
		password: password,
		timeout:  timeout,
	}, nil
}

// Address returns the control port address.
func (c *ControlClient) Address() string {
	return c.address
}

// NewIdentity asks Tor to switch to clean circuits (SIGNAL NEWNYM), so that
// subsequent connections leave through a different exit relay.
func (c *ControlClient) NewIdentity(ctx context.Context) error {
	return c.run(ctx, "SIGNAL NEWNYM")
}

// run authenticates and sends one command, expecting a 250 reply.
func (c *ControlClient) run(ctx context.Context, command string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("failed to connect to tor control port %s: %w", c.address, err)
	}
	deadline, _ := ctx.Deadline()
	if err := raw.SetDeadline(deadline); err != nil {
		_ = raw.Close()
		return fmt.Errorf("failed to set control port deadline: %w", err)
	}

	conn := textproto.NewConn(raw)
	defer conn.Close()

	if err := c.exchange(conn, c.authenticateCommand()); err != nil {
		return err
	}
	if err := c.exchange(conn, command); err != nil {
		return err
	}
	// QUIT is a courtesy; the connection is closed either way.
	_ = conn.PrintfLine("QUIT") //nolint:errcheck // best effort
	return nil
}

// authenticateCommand builds the AUTHENTICATE line for the configured password.
func (c *ControlClient) authenticateCommand() string {
	if c.password == "" {
		return "AUTHENTICATE"
	}
	return "AUTHENTICATE " + quoteControlString(c.password)
}

// exchange sends one line and reads the reply.
func (c *ControlClient) exchange(conn *textproto.Conn, line string) error {
	if err := conn.PrintfLine("%s", line); err != nil {
		return fmt.Errorf("failed to write control command: %w", err)
	}

	code, msg, err := conn.ReadResponse(controlStatusOK)
	if err == nil {
		return nil
	}

	var protoErr *textproto.Error
	if !errors.As(err, &protoErr) {
		return fmt.Errorf("failed to read control reply: %w", err)
	}

	verb := strings.Fields(line)[0]
	switch code {
	case controlStatusAuthRequired, controlStatusBadAuth:
		return fmt.Errorf("%w: %d %s", ErrControlAuth, code, msg)
	default:
		return fmt.Errorf("%w: %s: %d %s", ErrControlRejected, verb, code, msg)
	}
}

// quoteControlString renders s as a control protocol QuotedString.
func quoteControlString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

package tor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// DefaultCheckTimeout bounds CheckConnection when the client has no
// shorter timeout. It only covers the local handshake, not a request
// through the Tor network.
const DefaultCheckTimeout = 2 * time.Second

// Client provides connections through a SOCKS5 proxy, typically Tor.
type Client struct {
	// proxyAddress is the SOCKS5 proxy address in "host:port" format.
	proxyAddress string

	// dialer is the SOCKS5 dialer. It is created once and reused.
	dialer proxy.Dialer

	// timeout is the default timeout for HTTP clients built from this client.
	timeout time.Duration

	// checkTimeout bounds the SOCKS5 handshake performed by CheckConnection.
	checkTimeout time.Duration
}

// NewClient creates a Client for the SOCKS5 proxy at proxyAddress.
//
// The address is validated but not contacted; call CheckConnection to
// verify the proxy is up. Keeping construction free of network I/O lets the
// registry seed a Tor entry even when Tor is not running yet.
func NewClient(proxyAddress string, timeout time.Duration) (*Client, error) {
	if !isValidProxyAddress(proxyAddress) {
		return nil, ErrInvalidProxyAddress
	}

	// Tor's SOCKS port does not require authentication.
	dialer, err := proxy.SOCKS5("tcp", proxyAddress, nil, &net.Dialer{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	checkTimeout := DefaultCheckTimeout
	if timeout > 0 && timeout < checkTimeout {
		checkTimeout = timeout
	}

	return &Client{
		proxyAddress: proxyAddress,
		dialer:       dialer,
		timeout:      timeout,
		checkTimeout: checkTimeout,
	}, nil
}

// isValidProxyAddress checks for a "host:port" address with a non-empty host
// and a port between 1 and 65535. Bracketed IPv6 hosts are accepted.
func isValidProxyAddress(address string) bool {
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 65535
}

// SOCKS5 protocol constants.
const (
	socks5Version       = 0x05
	socks5AuthNone      = 0x00
	socks5AuthNoAccept  = 0xFF
	socks5CmdConnect    = 0x01
	socks5AddrTypeDomID = 0x03

	// socks5ProbeHost is a syntactically valid but non-existent onion address.
	// Tor answers a CONNECT for it immediately with a failure code, which is
	// enough to prove the listener proxies requests, without contacting any
	// real service.
	socks5ProbeHost = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.onion"
	socks5ProbePort = 80
)

// CheckConnection verifies that the proxy speaks unauthenticated SOCKS5.
//
// It performs the greeting and a CONNECT request by hand. Any well-formed
// CONNECT reply, success or failure, counts as OK: the goal is to tell
// "Tor is not running" and "wrong service on this port" apart from
// upstream problems, not to reach a destination.
func (c *Client) CheckConnection(ctx context.Context) ProxyStatus {
	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.proxyAddress)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ProxyStatusTimeout
		}
		return ProxyStatusCannotConnect
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return ProxyStatusCannotConnect
	}

	if status := greet(conn); status != ProxyStatusOK {
		return status
	}
	return connectProbe(conn)
}

// greet performs SOCKS5 method negotiation offering only "no authentication".
func greet(conn net.Conn) ProxyStatus {
	if _, err := conn.Write([]byte{socks5Version, 0x01, socks5AuthNone}); err != nil {
		return ProxyStatusCannotConnect
	}

	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return readFailure(err)
	}
	if resp[0] != socks5Version {
		return ProxyStatusWrongType
	}
	// 0xFF means every offered method was refused; anything other than
	// "no auth" means the proxy wants credentials Tor never asks for.
	if resp[1] == socks5AuthNoAccept || resp[1] != socks5AuthNone {
		return ProxyStatusWrongType
	}
	return ProxyStatusOK
}

// connectProbe sends a CONNECT for socks5ProbeHost and checks the reply header.
func connectProbe(conn net.Conn) ProxyStatus {
	req := []byte{
		socks5Version,
		socks5CmdConnect,
		0x00, // reserved
		socks5AddrTypeDomID,
		byte(len(socks5ProbeHost)),
	}
	req = append(req, socks5ProbeHost...)
	req = append(req, byte(socks5ProbePort>>8), byte(socks5ProbePort&0xFF))

	if _, err := conn.Write(req); err != nil {
		return ProxyStatusCannotConnect
	}

	// version + reply + reserved + address type
	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return readFailure(err)
	}
	if header[0] != socks5Version {
		return ProxyStatusWrongType
	}
	return ProxyStatusOK
}

// readFailure maps a read error during the handshake to a status.
// A timeout keeps its own status; a short or garbled reply means the peer
// does not speak SOCKS5.
func readFailure(err error) ProxyStatus {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ProxyStatusTimeout
	}
	return ProxyStatusWrongType
}

// NewHTTPClient creates an HTTP client whose connections go through the proxy.
//
// Design decisions:
//   - Remote name resolution: the hostname is passed to the proxy, so DNS
//     lookups do not leak the operator's address (socks5h semantics).
//   - A cookie jar keeps login sessions with the target service alive.
//   - Small idle pools, because every connection occupies a Tor circuit.
func (c *Client) NewHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext:         c.DialContext,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: c.timeout,
	}

	jar, _ := cookiejar.New(nil) //nolint:errcheck // cookiejar.New only fails with invalid options

	return &http.Client{
		Transport: transport,
		Timeout:   c.timeout,
		Jar:       jar,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// DialContext establishes a connection through the proxy.
//
// The x/net SOCKS5 dialer implements proxy.ContextDialer, so cancellation
// reaches the underlying dial. Other dialers fall back to a goroutine that
// is abandoned when ctx is done.
func (c *Client) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if cd, ok := c.dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, address)
	}

	type dialResult struct {
		conn net.Conn
		err  error
	}
	resultCh := make(chan dialResult, 1)

	go func() {
		conn, err := c.dialer.Dial(network, address)
		resultCh <- dialResult{conn, err}
	}()

	select {
	case result := <-resultCh:
		return result.conn, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ProxyAddress returns the configured proxy address.
func (c *Client) ProxyAddress() string {
	return c.proxyAddress
}

// Dialer returns the underlying SOCKS5 dialer.
func (c *Client) Dialer() proxy.Dialer {
	return c.dialer
}

package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// LANDialTimeout bounds each candidate's own-subnet dial attempt in
// DialLAN — short, since a reachable LAN peer answers almost immediately.
const LANDialTimeout = 300 * time.Millisecond

// DialTCP opens a TCP connection with a 10 s dial timeout.
func DialTCP(ctx context.Context, addr string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", addr, err)
	}
	return conn, nil
}

// ListenTCP starts a TCP listener for the passive side of an endpoint
// session (e.g. the relay-facing socket, or a LAN fast-path listener).
func ListenTCP(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	return ln, nil
}

// DialUDP opens a connected UDP socket. Each datagram carries exactly one
// frame; Transport's framing code is shared between
// TCP and UDP since the length prefix is still written (a cheap integrity
// check of datagram boundaries, even though UDP's own framing already
// delimits each Read call).
func DialUDP(ctx context.Context, addr string) (net.Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp %s: %w", addr, err)
	}

	d := net.Dialer{Timeout: DialTimeout}
	conn, err := d.DialContext(ctx, "udp", raddr.String())
	if err != nil {
		return nil, fmt.Errorf("dial udp %s: %w", addr, err)
	}
	return conn, nil
}

// ListenUDP opens a UDP socket bound to addr for the passive side.
func ListenUDP(addr string) (*net.UDPConn, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	return conn, nil
}

// LocalLANAddrs enumerates this host's own non-loopback IPv4 interface
// addresses, each paired with port, for advertising as DialLAN candidates.
// A caller with no usable interface (offline, container with only loopback)
// gets an empty slice, which simply disables the fast path for this visit.
func LocalLANAddrs(port int) []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}

	var out []string
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		out = append(out, fmt.Sprintf("%s:%d", ip4.String(), port))
	}
	return out
}

// DialLAN is the same-subnet fast-path supplement: it races
// short-timeout TCP dials against every candidate address and returns the
// first to connect. Callers fall back to the portal-provided relay address
// when DialLAN returns an error. It never attempts NAT traversal —
// candidates are expected to be addresses on the local endpoint's own
// subnets, discovered out of band.
func DialLAN(ctx context.Context, candidates []string) (net.Conn, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no LAN candidates")
	}

	type result struct {
		conn net.Conn
		err  error
	}

	lanCtx, cancel := context.WithTimeout(ctx, LANDialTimeout)
	defer cancel()

	results := make(chan result, len(candidates))
	for _, addr := range candidates {
		addr := addr
		go func() {
			dialer := net.Dialer{Timeout: LANDialTimeout}
			conn, err := dialer.DialContext(lanCtx, "tcp", addr)
			results <- result{conn, err}
		}()
	}

	var firstErr error
	for i := 0; i < len(candidates); i++ {
		r := <-results
		if r.err == nil {
			// Close any slower candidates that also end up connecting.
			go func(remaining int) {
				for j := 0; j < remaining; j++ {
					if late := <-results; late.err == nil {
						late.conn.Close()
					}
				}
			}(len(candidates) - i - 1)
			return r.conn, nil
		}
		if firstErr == nil {
			firstErr = r.err
		}
	}
	return nil, fmt.Errorf("no LAN candidate reachable: %w", firstErr)
}

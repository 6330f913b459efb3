// Package ntsocks5 implements a minimal SOCKS5 client: the no-auth
// handshake and a CONNECT request to a hostname:port, grounded on
// original_source/src/socks5.c's socks5_handshake/socks5_request_hostname.
package ntsocks5

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// maxHostnameLen is the length of a SOCKS5 hostname field: one length
// byte, so 255 is the hard protocol ceiling.
const maxHostnameLen = 255

// stepTimeout bounds each handshake/request round trip, matching the
// fixed NETTALK_SEND_TIMEOUT/NETTALK_RECV_TIMEOUT windows in the C source.
const stepTimeout = 5 * time.Second

// Errors returned by Dial.
var (
	ErrHostnameTooLong = errors.New("ntsocks5: hostname exceeds 255 bytes")
	ErrMethodRejected  = errors.New("ntsocks5: proxy rejected no-auth method")
	ErrRequestRejected = errors.New("ntsocks5: proxy rejected CONNECT request")
	ErrShortReply      = errors.New("ntsocks5: truncated proxy reply")
)

// Dial connects to proxyAddr and asks it to CONNECT to host:port using
// SOCKS5's hostname address type (0x03), then returns the established
// connection positioned at the start of the proxied byte stream.
func Dial(ctx context.Context, proxyAddr, host string, port uint16) (net.Conn, error) {
	if len(host) > maxHostnameLen {
		return nil, ErrHostnameTooLong
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("ntsocks5: dial proxy: %w", err)
	}

	if err := handshake(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := requestHostname(conn, host, port); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// handshake performs the version/method exchange: propose version 5, one
// method (0x00, no authentication), and require the proxy to accept it.
func handshake(conn net.Conn) error {
	req := []byte{0x05, 0x01, 0x00}
	if err := writeFull(conn, req); err != nil {
		return fmt.Errorf("ntsocks5: send method request: %w", err)
	}

	reply := make([]byte, 2)
	if err := readFull(conn, reply); err != nil {
		return fmt.Errorf("ntsocks5: read method reply: %w", err)
	}
	if reply[0] != 0x05 || reply[1] != 0x00 {
		return ErrMethodRejected
	}
	return nil
}

// requestHostname sends a CONNECT request for host:port using address
// type 0x03 (domain name) and verifies the proxy's reply reports success
// (REP == 0x00).
func requestHostname(conn net.Conn, host string, port uint16) error {
	req := make([]byte, 0, 7+len(host))
	req = append(req, 0x05, 0x01, 0x00, 0x03, byte(len(host)))
	req = append(req, host...)
	req = append(req, byte(port>>8), byte(port&0xff))

	if err := writeFull(conn, req); err != nil {
		return fmt.Errorf("ntsocks5: send connect request: %w", err)
	}

	// The reply's BND.ADDR/BND.PORT length varies by address type; read
	// the fixed 4-byte header first, then drain the rest according to its
	// address type, matching the C source's "at least 2 bytes, REP==0"
	// tolerant check while still consuming the full reply off the wire.
	header := make([]byte, 4)
	if err := readFull(conn, header); err != nil {
		return fmt.Errorf("ntsocks5: read connect reply header: %w", err)
	}
	if header[0] != 0x05 {
		return ErrShortReply
	}
	if header[1] != 0x00 {
		return ErrRequestRejected
	}

	var addrLen int
	switch header[3] {
	case 0x01: // IPv4
		addrLen = 4
	case 0x03: // domain name
		lenByte := make([]byte, 1)
		if err := readFull(conn, lenByte); err != nil {
			return fmt.Errorf("ntsocks5: read connect reply addr length: %w", err)
		}
		addrLen = int(lenByte[0])
	case 0x04: // IPv6
		addrLen = 16
	default:
		return ErrShortReply
	}

	rest := make([]byte, addrLen+2) // address + 2-byte port
	if err := readFull(conn, rest); err != nil {
		return fmt.Errorf("ntsocks5: read connect reply address: %w", err)
	}
	return nil
}

func writeFull(conn net.Conn, buf []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(stepTimeout)); err != nil {
		return err
	}
	_, err := conn.Write(buf)
	return err
}

func readFull(conn net.Conn, buf []byte) error {
	if err := conn.SetReadDeadline(time.Now().Add(stepTimeout)); err != nil {
		return err
	}
	_, err := io.ReadFull(conn, buf)
	return err
}

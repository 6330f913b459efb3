package ntsocks5

import (
	"context"
	"io"
	"net"
	"testing"
	"time"
)

// fakeProxy runs one SOCKS5 negotiation per accepted connection, scripted
// by the test: methodReply is sent verbatim after the method request, and
// connectReply after the CONNECT request.
func fakeProxy(t *testing.T, methodReply, connectReply []byte) (addr string, accepted chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	accepted = make(chan net.Conn, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer ln.Close()

		methodReq := make([]byte, 3)
		if _, err := io.ReadFull(conn, methodReq); err != nil {
			return
		}
		if _, err := conn.Write(methodReply); err != nil {
			return
		}
		if len(methodReply) < 2 || methodReply[1] != 0x00 {
			return
		}

		header := make([]byte, 5)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		hostLen := int(header[4])
		rest := make([]byte, hostLen+2)
		if _, err := io.ReadFull(conn, rest); err != nil {
			return
		}
		if _, err := conn.Write(connectReply); err != nil {
			return
		}

		accepted <- conn
	}()

	return ln.Addr().String(), accepted
}

func TestDialSucceedsThroughProxy(t *testing.T) {
	connectReply := []byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}
	addr, accepted := fakeProxy(t, []byte{0x05, 0x00}, connectReply)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := Dial(ctx, addr, "peer.example.org", 9000)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("proxy never completed negotiation")
	}
}

func TestDialRejectsUnsupportedMethod(t *testing.T) {
	addr, _ := fakeProxy(t, []byte{0x05, 0xff}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := Dial(ctx, addr, "peer.example.org", 9000); err != ErrMethodRejected {
		t.Fatalf("err = %v, want ErrMethodRejected", err)
	}
}

func TestDialRejectsConnectFailure(t *testing.T) {
	connectReply := []byte{0x05, 0x01, 0x00, 0x01, 0, 0, 0, 0, 0, 0} // REP=0x01 general failure
	addr, _ := fakeProxy(t, []byte{0x05, 0x00}, connectReply)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := Dial(ctx, addr, "peer.example.org", 9000); err != ErrRequestRejected {
		t.Fatalf("err = %v, want ErrRequestRejected", err)
	}
}

func TestDialRejectsHostnameTooLong(t *testing.T) {
	host := make([]byte, maxHostnameLen+1)
	for i := range host {
		host[i] = 'a'
	}
	if _, err := Dial(context.Background(), "127.0.0.1:1", string(host), 1); err != ErrHostnameTooLong {
		t.Fatalf("err = %v, want ErrHostnameTooLong", err)
	}
}

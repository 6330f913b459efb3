package ntsession

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net"
	"testing"
	"time"

	"github.com/ecnx/nettalk-go/pkg/ntaudio"
	"github.com/ecnx/nettalk-go/pkg/ntcrypto"
	"github.com/ecnx/nettalk-go/pkg/nthandshake"
)

func genKeys(t *testing.T) (a, b *rsa.PrivateKey) {
	t.Helper()
	var err error
	a, err = rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	b, err = rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return a, b
}

// tcpPair returns the two ends of a loopback TCP connection. Both peers of
// a handshake write before they read, which needs the buffering TCP has and
// net.Pipe lacks.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- conn
	}()

	a, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	b := <-accepted
	if b == nil {
		t.Fatal("Accept failed")
	}
	return a, b
}

// buildPeer runs the handshake and wires a Session on one end of a
// connected net.Conn pair. Both peers are built concurrently by the
// caller since Session.New blocks on the handshake. On failure it closes
// conn, as the supervisor does, so the other peer is not left waiting.
func buildPeer(t *testing.T, conn net.Conn, own *rsa.PrivateKey, peerPub *rsa.PublicKey, resultCh chan<- *Session, errCh chan<- error) {
	t.Helper()
	rnd := ntcrypto.NewSource()
	if err := rnd.Init(); err != nil {
		errCh <- err
		return
	}
	sess, err := New(conn, nthandshake.Config{
		OwnPrivateKey: own,
		PeerPublicKey: peerPub,
	}, rnd, ntaudio.DeviceFactory{Config: ntaudio.DefaultConfig()}, nil)
	if err != nil {
		_ = conn.Close()
		errCh <- err
		return
	}
	resultCh <- sess
}

func TestSessionHandshakeAndRunAcrossTwoPeers(t *testing.T) {
	connA, connB := tcpPair(t)
	keyA, keyB := genKeys(t)

	resA, resB := make(chan *Session, 1), make(chan *Session, 1)
	errA, errB := make(chan error, 1), make(chan error, 1)

	go buildPeer(t, connA, keyA, &keyB.PublicKey, resA, errA)
	go buildPeer(t, connB, keyB, &keyA.PublicKey, resB, errB)

	var sessA, sessB *Session
	select {
	case sessA = <-resA:
	case err := <-errA:
		t.Fatalf("peer A session setup failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out building peer A session")
	}
	select {
	case sessB = <-resB:
	case err := <-errB:
		t.Fatalf("peer B session setup failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out building peer B session")
	}

	if sessA.ID == sessB.ID {
		t.Fatal("both sessions share an ID, want distinct per-side identifiers")
	}

	ctx, cancel := context.WithCancel(context.Background())
	doneA := make(chan error, 1)
	doneB := make(chan error, 1)
	go func() { doneA <- sessA.Run(ctx) }()
	go func() { doneB <- sessB.Run(ctx) }()

	// Let both forwarding engines and audio pipelines come up, then tear
	// down cleanly.
	time.Sleep(150 * time.Millisecond)
	cancel()

	select {
	case err := <-doneA:
		if err != context.Canceled {
			t.Fatalf("sessA.Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sessA.Run did not return after cancel")
	}
	select {
	case err := <-doneB:
		if err != context.Canceled {
			t.Fatalf("sessB.Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sessB.Run did not return after cancel")
	}
}

func TestSessionFailsOnUnauthorizedPeer(t *testing.T) {
	connA, connB := tcpPair(t)
	keyA, keyB := genKeys(t)
	otherKey, _ := genKeys(t)

	resA, resB := make(chan *Session, 1), make(chan *Session, 1)
	errA, errB := make(chan error, 1), make(chan error, 1)

	// Peer A is configured expecting otherKey's public key, not B's: A
	// encrypts its partial key under otherKey, B cannot decrypt it and
	// fails, and A then fails when B's side of the connection closes.
	go buildPeer(t, connA, keyA, &otherKey.PublicKey, resA, errA)
	go buildPeer(t, connB, keyB, &keyA.PublicKey, resB, errB)

	select {
	case <-resA:
		t.Fatal("peer A session unexpectedly succeeded against an unauthorized peer")
	case <-errA:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for peer A failure")
	}
	select {
	case <-resB:
		t.Fatal("peer B session unexpectedly succeeded against an unauthorized peer")
	case <-errB:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for peer B failure")
	}
}

package nthandshake

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"net"
	"testing"

	"github.com/ecnx/nettalk-go/pkg/ntcrypto"
)

func genKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	return key
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

func TestHandshakeAgreesOnKeysAndDirections(t *testing.T) {
	aKey := genKey(t)
	bKey := genKey(t)

	connA, connB := tcpPair(t)
	defer connA.Close()
	defer connB.Close()

	aCfg := Config{OwnPrivateKey: aKey, PeerPublicKey: &bKey.PublicKey}
	bCfg := Config{OwnPrivateKey: bKey, PeerPublicKey: &aKey.PublicKey}

	rndA := ntcrypto.NewSource()
	rndB := ntcrypto.NewSource()
	if err := rndA.Init(); err != nil {
		t.Fatalf("rndA.Init: %v", err)
	}
	if err := rndB.Init(); err != nil {
		t.Fatalf("rndB.Init: %v", err)
	}

	type outcome struct {
		result *Result
		err    error
	}
	resA := make(chan outcome, 1)
	resB := make(chan outcome, 1)

	go func() {
		r, err := Run(connA, aCfg, rndA, nil)
		resA <- outcome{r, err}
	}()
	go func() {
		r, err := Run(connB, bCfg, rndB, nil)
		resB <- outcome{r, err}
	}()

	oa := <-resA
	ob := <-resB
	if oa.err != nil {
		t.Fatalf("A handshake failed: %v", oa.err)
	}
	if ob.err != nil {
		t.Fatalf("B handshake failed: %v", ob.err)
	}

	// A's transmit key must match B's receive key, and vice versa: seal on
	// one side, open on the other.
	plain := bytes.Repeat([]byte{0x11}, ntcrypto.PlainChunkSize)
	sealed, err := oa.result.TX.SealChunk(plain)
	if err != nil {
		t.Fatalf("A TX.SealChunk: %v", err)
	}
	opened, err := ob.result.RX.OpenChunk(sealed)
	if err != nil {
		t.Fatalf("B RX.OpenChunk: %v", err)
	}
	if !bytes.Equal(opened, plain) {
		t.Fatalf("A->B chunk mismatch: got %x want %x", opened, plain)
	}

	plain2 := bytes.Repeat([]byte{0x22}, ntcrypto.PlainChunkSize)
	sealed2, err := ob.result.TX.SealChunk(plain2)
	if err != nil {
		t.Fatalf("B TX.SealChunk: %v", err)
	}
	opened2, err := oa.result.RX.OpenChunk(sealed2)
	if err != nil {
		t.Fatalf("A RX.OpenChunk: %v", err)
	}
	if !bytes.Equal(opened2, plain2) {
		t.Fatalf("B->A chunk mismatch: got %x want %x", opened2, plain2)
	}
}

func TestHandshakeFailsOnUnauthorizedPeer(t *testing.T) {
	aKey := genKey(t)
	bKey := genKey(t)
	wrongKey := genKey(t)

	connA, connB := tcpPair(t)
	defer connA.Close()
	defer connB.Close()

	// B believes A's public key is wrongKey's, so B encrypts its partial
	// key under wrongKey and A cannot decrypt it. A fails at that step and
	// never sends its confirmation, so B fails waiting for it.
	aCfg := Config{OwnPrivateKey: aKey, PeerPublicKey: &bKey.PublicKey}
	bCfg := Config{OwnPrivateKey: bKey, PeerPublicKey: &wrongKey.PublicKey}

	rndA := ntcrypto.NewSource()
	rndB := ntcrypto.NewSource()
	_ = rndA.Init()
	_ = rndB.Init()

	errA := make(chan error, 1)
	errB := make(chan error, 1)
	go func() {
		_, err := Run(connA, aCfg, rndA, nil)
		errA <- err
	}()
	go func() {
		_, err := Run(connB, bCfg, rndB, nil)
		errB <- err
	}()

	if <-errA == nil {
		t.Fatal("expected A's handshake to fail against a mismatched peer key")
	}
	if <-errB == nil {
		t.Fatal("expected B's handshake to fail against a mismatched peer key")
	}
}

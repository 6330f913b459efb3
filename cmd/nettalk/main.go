// Command nettalk is the process entry point: parse flags, read the
// configuration password from standard input, decrypt and load the
// configuration, then run the Supervisor until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/logging"

	"github.com/ecnx/nettalk-go/pkg/ntaudio"
	"github.com/ecnx/nettalk-go/pkg/ntconfig"
	"github.com/ecnx/nettalk-go/pkg/ntcrypto"
	"github.com/ecnx/nettalk-go/pkg/nthandshake"
	"github.com/ecnx/nettalk-go/pkg/ntsocks5"
	"github.com/ecnx/nettalk-go/pkg/ntsupervisor"
)

func main() {
	os.Exit(run())
}

func run() int {
	socks5Addr := flag.String("socks5h", "", "SOCKS5 proxy address (host:port) to dial the relay through")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() != 1 {
		printUsage()
		return 1
	}
	configPath := flag.Arg(0)

	password, err := readPassword(os.Stdin)
	if err != nil {
		log.Printf("nettalk: read password: %v", err)
		return 1
	}

	cfg, err := ntconfig.Load(configPath, password)
	if err != nil {
		log.Printf("nettalk: load configuration: %v", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("nettalk: invalid configuration: %v", err)
		return 1
	}

	loggerFactory := logging.NewDefaultLoggerFactory()

	rnd := ntcrypto.NewSource()
	if err := rnd.Init(); err != nil {
		log.Printf("nettalk: seed random source: %v", err)
		return 1
	}

	dial := directDialer(cfg.RelayAddr())
	if *socks5Addr != "" {
		dial = socks5Dialer(*socks5Addr, cfg.RelayHost, cfg.RelayPort)
	}

	sup := ntsupervisor.New(ntsupervisor.Config{
		Dial:       dial,
		ChannelTag: cfg.ChannelTag,
		Handshake: nthandshake.Config{
			OwnPrivateKey: cfg.OwnPrivateKey,
			PeerPublicKey: cfg.PeerPublicKey,
		},
		Rand:          rnd,
		AudioFactory:  ntaudio.DeviceFactory{Config: ntaudio.DefaultConfig()},
		LoggerFactory: loggerFactory,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		log.Printf("nettalk: %v", err)
		return 1
	}
	return 0
}

// directDialer returns a Dialer that connects straight to addr.
func directDialer(addr string) ntsupervisor.Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
}

// socks5Dialer returns a Dialer that connects to the relay through a SOCKS5
// proxy at proxyAddr.
func socks5Dialer(proxyAddr, relayHost string, relayPort uint16) ntsupervisor.Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		return ntsocks5.Dial(ctx, proxyAddr, relayHost, relayPort)
	}
}

// readPassword reads the configuration password as a single line from r.
func readPassword(r *os.File) (string, error) {
	var buf []byte
	b := make([]byte, 1)
	for {
		n, err := r.Read(b)
		if n == 1 {
			if b[0] == '\n' {
				break
			}
			buf = append(buf, b[0])
		}
		if err != nil {
			if len(buf) > 0 {
				break
			}
			return "", fmt.Errorf("no password supplied on standard input: %w", err)
		}
	}
	if len(buf) > 0 && buf[len(buf)-1] == '\r' {
		buf = buf[:len(buf)-1]
	}
	return string(buf), nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [--socks5h addr:port] <configPath>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Password for the configuration is read from standard input.\n\n")
	flag.PrintDefaults()
}

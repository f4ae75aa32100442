package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/miekg/dns"
	"github.com/rcoop/dns-tunnel/client"
	"github.com/rcoop/dns-tunnel/internal/config"
	"github.com/rcoop/dns-tunnel/internal/crypto"
	"github.com/rcoop/dns-tunnel/internal/logging"
	"github.com/rcoop/dns-tunnel/server"
)

func main() {
	tun := config.Default("")
	tun.RegisterFlags(flag.CommandLine)

	filePath := flag.String("f", "", "File to send (default stdin)")
	resolver := flag.String("resolver", "127.0.0.1:53", "DNS resolver address (ip:port)")
	network := flag.String("net", "udp", "Transport to the resolver: udp or tcp")
	timeout := flag.Duration("timeout", 2*time.Second, "Per-query timeout")
	retries := flag.Int("retry", 3, "Handshake retries")
	useTXT := flag.Bool("txt", false, "Use TXT record queries instead of A records")
	recursive := flag.Bool("recursive", false, "Set RD on queries (when -resolver is a recursive resolver)")
	qps := flag.Float64("qps", 0, "Maximum queries per second (0 = unlimited)")
	stall := flag.Duration("stall-timeout", 2*time.Minute, "Abort when no progress is made for this long (0 = never)")
	envFile := flag.String("env-file", "", "File with SHARED_KEY (default ./.env if present)")
	verbose := flag.Bool("v", false, "Debug logging")
	selftest := flag.Bool("selftest", false, "Run a receiver in-process on loopback and send through it")
	flag.Parse()

	logging.Setup(*verbose)

	if *selftest && tun.Domain == "" {
		tun.Domain = "tunnel.selftest.local"
	}
	if err := tun.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "Usage: client -domain <domain> [-f <file>] [-resolver ip:port]")
		flag.PrintDefaults()
		fatal("Invalid configuration", err)
	}

	var key []byte
	var err error
	if *selftest {
		key, err = crypto.EphemeralKey()
	} else {
		key, err = config.LoadKey(*envFile)
	}
	if err != nil {
		fatal("Loading key", err)
	}

	var input io.Reader = os.Stdin
	if *filePath != "" {
		f, err := os.Open(*filePath)
		if err != nil {
			fatal("Opening input", err)
		}
		defer f.Close()
		input = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := client.DefaultSenderConfig(tun.Domain)
	cfg.WindowSize = tun.WindowSize
	cfg.Timeout = *timeout
	cfg.HandshakeRetries = *retries
	cfg.QPS = *qps
	cfg.StallTimeout = *stall

	rcfg := client.ResolverConfig{
		Server:    *resolver,
		Net:       *network,
		Timeout:   *timeout,
		UseTXT:    *useTXT,
		Recursive: *recursive,
	}

	if *selftest {
		if err := runSelftest(ctx, tun, key, cfg, rcfg, input); err != nil {
			fatal("Self-test failed", err)
		}
		return
	}

	framer, err := tun.NewFramer(key)
	if err != nil {
		fatal("Creating framer", err)
	}
	sender, err := client.NewSender(cfg, client.NewDNSResolver(rcfg), framer)
	if err != nil {
		fatal("Creating sender", err)
	}
	if err := sender.Send(ctx, input); err != nil {
		fatal("Transfer failed", err)
	}
}

// runSelftest pushes input through a sender and a receiver sharing an
// ephemeral key over a loopback DNS server, then compares the output.
func runSelftest(ctx context.Context, tun config.Tunnel, key []byte, cfg client.SenderConfig, rcfg client.ResolverConfig, input io.Reader) error {
	data, err := io.ReadAll(input)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	rxFramer, err := tun.NewFramer(key)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	session := server.NewSession(rxFramer, &out, tun.WindowSize)

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listening: %w", err)
	}
	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		Handler:           &server.Handler{BaseDomain: tun.Domain, Session: session},
		NotifyStartedFunc: func() { close(started) },
	}
	go func() {
		if err := srv.ActivateAndServe(); err != nil {
			slog.Error("Self-test server", "err", err)
		}
	}()
	<-started
	defer srv.Shutdown()

	rcfg.Server = pc.LocalAddr().String()
	rcfg.Net = "udp"
	rcfg.Recursive = false

	txFramer, err := tun.NewFramer(key)
	if err != nil {
		return err
	}
	sender, err := client.NewSender(cfg, client.NewDNSResolver(rcfg), txFramer)
	if err != nil {
		return err
	}
	if err := sender.Send(ctx, bytes.NewReader(data)); err != nil {
		return err
	}

	// Delivered takes the session lock, ordering the reads of out after
	// every write the server made.
	frames, _ := session.Delivered()
	if !bytes.Equal(out.Bytes(), data) {
		return errors.New("received data does not match input")
	}
	stats := sender.Stats()
	slog.Info("Self-test passed", "bytes", len(data), "chunks", stats.Chunks, "frames", frames, "queries", stats.Queries)
	return nil
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/miekg/dns"
	"github.com/rcoop/dns-tunnel/internal/config"
	"github.com/rcoop/dns-tunnel/internal/logging"
	"github.com/rcoop/dns-tunnel/server"
)

func main() {
	tun := config.Default("")
	tun.RegisterFlags(flag.CommandLine)

	output := flag.String("output", "received.txt", "File the received stream is appended to")
	truncate := flag.Bool("truncate", false, "Truncate the output file on start")
	listen := flag.String("listen", ":53", "Address to listen on (e.g. :53, 127.0.0.1:5353)")
	network := flag.String("net", "udp", "Transport to serve: udp or tcp")
	sessionTimeout := flag.Duration("session-timeout", 5*time.Minute, "Reset the tunnel after this much inactivity")
	envFile := flag.String("env-file", "", "File with SHARED_KEY (default ./.env if present)")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	logging.Setup(*verbose)

	if err := tun.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "Usage: server -domain <domain> [-output <file>] [-listen addr]")
		flag.PrintDefaults()
		fatal("Invalid configuration", err)
	}

	key, err := config.LoadKey(*envFile)
	if err != nil {
		fatal("Loading key", err)
	}
	framer, err := tun.NewFramer(key)
	if err != nil {
		fatal("Creating framer", err)
	}

	sink, err := server.NewFileSink(*output, *truncate)
	if err != nil {
		fatal("Opening output", err)
	}
	defer sink.Close()

	session := server.NewSession(framer, sink, tun.WindowSize)
	done := make(chan struct{})
	session.StartCleanup(30*time.Second, *sessionTimeout, done)

	srv := &dns.Server{
		Addr:    *listen,
		Net:     *network,
		Handler: &server.Handler{BaseDomain: tun.Domain, Session: session},
	}

	go func() {
		slog.Info("DNS server listening", "addr", *listen, "net", *network, "domain", tun.Domain,
			"mode", tun.Mode, "cipher", tun.Suite, "output", sink.Name())
		if err := srv.ListenAndServe(); err != nil {
			fatal("Server error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	frames, n := session.Delivered()
	slog.Info("Shutting down", "frames", frames, "bytes", n)
	close(done)
	if err := srv.Shutdown(); err != nil {
		slog.Error("Shutdown", "err", err)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}

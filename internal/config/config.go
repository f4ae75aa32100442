// Package config holds the settings both ends of a tunnel must agree on and
// the loading of the shared key.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/miekg/dns"
	"github.com/rcoop/dns-tunnel/internal/crypto"
	"github.com/rcoop/dns-tunnel/internal/protocol"
)

// EnvSharedKey names the environment variable holding the passphrase.
const EnvSharedKey = "SHARED_KEY"

// ErrNoPassphrase is returned by LoadKey when no passphrase is configured.
var ErrNoPassphrase = errors.New(EnvSharedKey + " is not set")

// Tunnel is the configuration shared by agent and server.
type Tunnel struct {
	Domain     string
	Mode       crypto.NonceMode
	Suite      crypto.Suite
	WindowSize int
}

// Default returns the default tunnel settings for domain.
func Default(domain string) Tunnel {
	return Tunnel{
		Domain:     domain,
		Mode:       crypto.NonceCounter,
		Suite:      crypto.SuiteAESGCM,
		WindowSize: protocol.WindowSize,
	}
}

// RegisterFlags binds the tunnel settings to fs, using the current values as defaults.
func (t *Tunnel) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&t.Domain, "domain", t.Domain, "Base domain for DNS queries (required)")
	fs.IntVar(&t.WindowSize, "window", t.WindowSize, "Sliding window size")
	fs.Func("mode", "Nonce mode: counter or random (default "+t.Mode.String()+")", func(s string) error {
		m, err := crypto.ParseNonceMode(s)
		if err != nil {
			return err
		}
		t.Mode = m
		return nil
	})
	fs.Func("cipher", "AEAD: aes-gcm or chacha20-poly1305 (default "+t.Suite.String()+")", func(s string) error {
		suite, err := crypto.ParseSuite(s)
		if err != nil {
			return err
		}
		t.Suite = suite
		return nil
	})
}

// Validate checks that the settings describe a usable tunnel.
func (t Tunnel) Validate() error {
	if t.Domain == "" {
		return fmt.Errorf("domain is required")
	}
	if _, ok := dns.IsDomainName(t.Domain); !ok {
		return fmt.Errorf("invalid domain %q", t.Domain)
	}
	// A window wider than half the sequence space makes old and new
	// sequence numbers indistinguishable.
	if t.WindowSize < 1 || t.WindowSize > protocol.SeqSpace/2 {
		return fmt.Errorf("window must be between 1 and %d, got %d", protocol.SeqSpace/2, t.WindowSize)
	}
	if protocol.MaxPlaintextLen(t.Domain, protocol.SeqLabelLen, crypto.Overhead(t.Mode)) <= 0 {
		return fmt.Errorf("%w: domain %q leaves no room for data", protocol.ErrPayloadTooLarge, t.Domain)
	}
	return nil
}

// NewFramer builds a framer for these settings.
func (t Tunnel) NewFramer(key []byte) (*crypto.Framer, error) {
	return crypto.NewFramer(key, t.Suite, t.Mode)
}

// LoadKey reads the passphrase from the environment and derives the tunnel
// key. Variables from envFile, or ./.env when envFile is empty, are loaded
// first without overriding the real environment.
func LoadKey(envFile string) ([]byte, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	passphrase := os.Getenv(EnvSharedKey)
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}
	return crypto.DeriveKey(passphrase), nil
}

package client

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/rcoop/dns-tunnel/internal/crypto"
	"github.com/rcoop/dns-tunnel/internal/protocol"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	// ErrHandshakeFailed means the receiver never accepted the initial counter.
	ErrHandshakeFailed = errors.New("handshake failed")

	// ErrStalled means the window made no progress for SenderConfig.StallTimeout,
	// typically because the peers' nonce counters no longer agree.
	ErrStalled = errors.New("transfer stalled")
)

// SenderConfig holds the configuration for the DNS sender.
type SenderConfig struct {
	BaseDomain string
	WindowSize int

	// Timeout bounds each individual query.
	Timeout time.Duration

	// RoundInterval is the pause between window rounds; IdleBackoff is used
	// instead when a round had nothing to send.
	RoundInterval time.Duration
	IdleBackoff   time.Duration

	// HandshakeRetries and RetryBackoff govern the handshake query only; data
	// queries are retried by the window itself.
	HandshakeRetries int
	RetryBackoff     time.Duration

	// QPS caps the query rate; zero means unlimited.
	QPS float64

	// StallTimeout aborts the transfer when the window base has not moved for
	// this long; zero waits forever.
	StallTimeout time.Duration
}

// DefaultSenderConfig returns the defaults for domain.
func DefaultSenderConfig(domain string) SenderConfig {
	return SenderConfig{
		BaseDomain:       domain,
		WindowSize:       protocol.WindowSize,
		Timeout:          2 * time.Second,
		RoundInterval:    100 * time.Millisecond,
		IdleBackoff:      200 * time.Millisecond,
		HandshakeRetries: 3,
		RetryBackoff:     time.Second,
	}
}

// Stats counts sender activity.
type Stats struct {
	Chunks      int
	Bytes       int64
	Queries     int
	Retransmits int
	Failures    int
	Rounds      int
}

// Sender reliably delivers a plaintext stream over DNS queries using a
// sliding window of cached, already encrypted frames.
type Sender struct {
	cfg      SenderConfig
	resolver Resolver
	framer   *crypto.Framer
	limiter  *rate.Limiter
	stats    Stats
}

// NewSender creates a new Sender. The framer is owned by the sender from
// here on.
func NewSender(cfg SenderConfig, resolver Resolver, framer *crypto.Framer) (*Sender, error) {
	if cfg.WindowSize < 1 || cfg.WindowSize > protocol.SeqSpace/2 {
		return nil, fmt.Errorf("window must be between 1 and %d, got %d", protocol.SeqSpace/2, cfg.WindowSize)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("query timeout must be positive")
	}

	s := &Sender{cfg: cfg, resolver: resolver, framer: framer}
	if cfg.QPS > 0 {
		burst := int(cfg.QPS)
		if burst < cfg.WindowSize {
			burst = cfg.WindowSize
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.QPS), burst)
	}
	return s, nil
}

// ChunkSize returns the largest plaintext chunk that fits in one query.
func (s *Sender) ChunkSize() int {
	return protocol.MaxPlaintextLen(s.cfg.BaseDomain, protocol.SeqLabelLen, s.framer.Overhead())
}

// Stats returns the counters of the last Send.
func (s *Sender) Stats() Stats { return s.stats }

type query struct {
	seq  int
	name string
}

type result struct {
	seq int
	ip  net.IP
	err error
}

// Send transmits everything read from r and returns once the receiver has
// acknowledged the last chunk. In counter mode a handshake precedes the data.
func (s *Sender) Send(ctx context.Context, r io.Reader) error {
	s.stats = Stats{}

	chunker, err := NewChunker(r, s.ChunkSize())
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrPayloadTooLarge, err)
	}

	if s.framer.Mode() == crypto.NonceCounter {
		if err := s.handshake(ctx); err != nil {
			return err
		}
	}

	slog.Info("Sending", "domain", s.cfg.BaseDomain, "chunk_size", chunker.Size(),
		"window", s.cfg.WindowSize, "mode", s.framer.Mode())

	win := NewWindow(s.cfg.WindowSize)
	eof := false
	lastProgress := time.Now()

	for {
		if eof && win.InFlight() == 0 {
			slog.Info("Transfer complete", "chunks", s.stats.Chunks, "bytes", s.stats.Bytes,
				"queries", s.stats.Queries, "retransmits", s.stats.Retransmits, "failures", s.stats.Failures)
			return nil
		}

		batch, err := s.fill(win, chunker, &eof)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			if err := sleep(ctx, s.cfg.IdleBackoff); err != nil {
				return err
			}
			continue
		}

		s.stats.Rounds++
		progressed := false
		results, err := s.dispatch(ctx, batch)
		if err != nil {
			return err
		}
		for _, res := range results {
			s.stats.Queries++
			if res.err != nil {
				s.stats.Failures++
				slog.Debug("Query failed", "seq", res.seq, "err", res.err)
				continue
			}
			ack, err := protocol.ParseAckIP(res.ip)
			if err != nil {
				slog.Debug("Bad ACK", "seq", res.seq, "ip", res.ip, "err", err)
				continue
			}
			if win.Accept(ack) {
				progressed = true
				slog.Debug("Window slid", "seq", res.seq, "ack", ack, "base", win.Base())
			} else {
				slog.Debug("ACK ignored", "seq", res.seq, "ack", ack, "base", win.Base())
			}
		}

		if progressed {
			lastProgress = time.Now()
		} else if s.cfg.StallTimeout > 0 && time.Since(lastProgress) > s.cfg.StallTimeout {
			return fmt.Errorf("%w: base %d for %v", ErrStalled, win.Base(), s.cfg.StallTimeout)
		}

		if err := sleep(ctx, s.cfg.RoundInterval); err != nil {
			return err
		}
	}
}

// fill walks the window, reusing cached slots and framing new chunks into
// free ones, and returns the queries to send this round.
func (s *Sender) fill(win *Window, chunker *Chunker, eof *bool) ([]query, error) {
	var batch []query
	for _, seq := range win.Slots() {
		if win.Acked(seq) {
			continue
		}

		slot, ok := win.Get(seq)
		switch {
		case ok:
			s.stats.Retransmits++
		case !*eof:
			chunk, err := chunker.Next()
			if errors.Is(err, io.EOF) {
				*eof = true
				continue
			}
			if err != nil {
				return nil, err
			}
			if slot, err = s.frame(seq, chunk); err != nil {
				return nil, err
			}
			win.Track(seq, slot)
			s.stats.Chunks++
			s.stats.Bytes += int64(len(chunk))
		default:
			continue
		}

		batch = append(batch, query{seq: seq, name: slot.Name})
	}
	return batch, nil
}

// frame encrypts a chunk exactly once and encodes it for slot seq.
func (s *Sender) frame(seq int, chunk []byte) (Slot, error) {
	frame, err := s.framer.Encrypt(chunk)
	if err != nil {
		return Slot{}, fmt.Errorf("encrypting chunk %d: %w", seq, err)
	}
	name, err := protocol.BuildDataQuery(seq, frame, s.cfg.BaseDomain)
	if err != nil {
		return Slot{}, fmt.Errorf("encoding chunk %d: %w", seq, err)
	}
	return Slot{Frame: frame, Name: name}, nil
}

// dispatch sends every query of the round concurrently and waits for all of
// them. Results come back in completion order. Failed queries are reported in
// their results; only cancellation of ctx fails the round.
func (s *Sender) dispatch(ctx context.Context, batch []query) ([]result, error) {
	results := make(chan result, len(batch))

	var g errgroup.Group
	for _, q := range batch {
		g.Go(func() error {
			slog.Debug("Sending", "seq", q.seq)
			ip, err := s.query(ctx, q.name)
			results <- result{seq: q.seq, ip: ip, err: err}
			return ctx.Err()
		})
	}
	err := g.Wait()
	close(results)
	if err != nil {
		return nil, err
	}

	out := make([]result, 0, len(batch))
	for r := range results {
		out = append(out, r)
	}
	return out, nil
}

// query performs one time-bounded resolution. A resolver that overruns the
// timeout is abandoned rather than waited on.
func (s *Sender) query(ctx context.Context, name string) (net.IP, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		ip, err := s.resolver.Resolve(ctx, name)
		done <- result{ip: ip, err: err}
	}()

	select {
	case r := <-done:
		return r.ip, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handshake announces a fresh random counter and arms the framer with it.
func (s *Sender) handshake(ctx context.Context) error {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Errorf("generating counter: %w", err)
	}
	// Keep the top bit clear so the counter can never wrap within a session.
	counter := binary.BigEndian.Uint64(b[:]) >> 1

	name := protocol.BuildHandshakeQuery(counter, s.cfg.BaseDomain)
	ip, err := s.queryWithRetry(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if !ip.Equal(protocol.HandshakeAckIP) {
		return fmt.Errorf("%w: rejected with %s", ErrHandshakeFailed, ip)
	}

	s.framer.SetInitialCounter(counter)
	slog.Info("Handshake complete")
	return nil
}

// queryWithRetry sends a single query with exponential backoff retries.
func (s *Sender) queryWithRetry(ctx context.Context, name string) (net.IP, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.HandshakeRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * s.cfg.RetryBackoff
			if err := sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		ip, err := s.query(ctx, name)
		if err == nil {
			return ip, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("after %d retries: %w", s.cfg.HandshakeRetries, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

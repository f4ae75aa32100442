package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/rcoop/dns-tunnel/internal/crypto"
	"github.com/rcoop/dns-tunnel/internal/encoding"
	"github.com/rcoop/dns-tunnel/internal/protocol"
)

// ErrNotReady is returned for data arriving before a counter-mode handshake.
var ErrNotReady = errors.New("session awaiting handshake")

// Session holds the receiver side of a tunnel: the receive window, the
// framer and the output sink. The DNS server calls into it from many
// goroutines, so every method takes the session lock.
type Session struct {
	mu       sync.Mutex
	framer   *crypto.Framer
	sink     io.Writer
	window   int
	expected int
	received map[int]string

	ready     bool
	frames    int
	bytes     int64
	updatedAt time.Time
}

// NewSession creates a session writing decrypted data to sink. The framer
// is owned by the session from here on.
func NewSession(framer *crypto.Framer, sink io.Writer, window int) *Session {
	return &Session{
		framer:    framer,
		sink:      sink,
		window:    window,
		received:  make(map[int]string),
		ready:     framer.Mode() == crypto.NonceRandom,
		updatedAt: time.Now(),
	}
}

// ExpectedSeq returns the next sequence number the session will deliver.
func (s *Session) ExpectedSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expected
}

// Buffered returns the number of out-of-order payloads held in the window.
func (s *Session) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

// Ready reports whether data queries are being accepted.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Delivered returns the number of frames and plaintext bytes written to the sink.
func (s *Session) Delivered() (frames int, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames, s.bytes
}

// Handshake arms the framer with the sender's initial counter. Until the
// first frame is delivered a new handshake simply replaces the previous one
// (the sender may have retried or restarted); afterwards handshakes are
// refused until the session is reset.
func (s *Session) Handshake(counter uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.framer.Mode() != crypto.NonceCounter {
		slog.Warn("Handshake ignored in random nonce mode")
		return false
	}
	if s.ready && s.frames > 0 {
		slog.Warn("Handshake refused, session already established", "expected", s.expected)
		return false
	}

	s.framer.SetInitialCounter(counter)
	s.updatedAt = time.Now()
	s.ready = true
	s.expected = 0
	clear(s.received)
	slog.Info("Handshake accepted")
	return true
}

// Admit takes one data payload into the receive window, delivers whatever is
// now contiguous, and returns the acknowledgement to send back: the next
// sequence number the session is waiting for.
func (s *Session) Admit(seq int, payload string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return 0, ErrNotReady
	}

	if !protocol.InReceiveWindow(seq, s.expected, s.window) {
		slog.Debug("Out-of-window SEQ", "seq", seq, "expected", s.expected)
		return s.expected, protocol.ErrOutOfWindow
	}

	// Only traffic the window accepts counts as activity.
	s.updatedAt = time.Now()
	if _, dup := s.received[seq]; !dup {
		s.received[seq] = payload
	}

	s.drain()
	return s.expected, nil
}

// drain delivers buffered payloads in order. It stops at the first payload
// that fails to decode or authenticate: skipping it would corrupt the
// stream, and a retransmission can still resupply it.
func (s *Session) drain() {
	for {
		payload, ok := s.received[s.expected]
		if !ok {
			return
		}
		delete(s.received, s.expected)

		frame, err := encoding.Base32Decode(payload)
		if err != nil {
			slog.Warn("Dropping undecodable payload", "seq", s.expected, "err", err)
			return
		}

		plaintext, err := s.framer.Decrypt(frame)
		if err != nil {
			slog.Error("Decryption failed", "seq", s.expected, "err", err)
			return
		}

		// The frame has consumed its nonce, so the window moves on even if
		// the sink fails; the failure is reported instead.
		if _, err := s.sink.Write(plaintext); err != nil {
			slog.Error("Writing output", "seq", s.expected, "err", err)
		}
		s.frames++
		s.bytes += int64(len(plaintext))
		slog.Debug("Delivered", "seq", s.expected, "bytes", len(plaintext))

		s.expected = protocol.NextSeq(s.expected, 1)
	}
}

// ResetIfIdle drops all window state when nothing has arrived for timeout,
// so a new transfer can start from sequence 0. Counter-mode sessions need a
// new handshake afterwards.
func (s *Session) ResetIfIdle(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.updatedAt) < timeout {
		return false
	}
	pristine := s.expected == 0 && len(s.received) == 0 && s.frames == 0
	if pristine && (s.framer.Mode() == crypto.NonceRandom || !s.ready) {
		return false
	}

	slog.Info("Session idle, resetting", "frames", s.frames, "bytes", s.bytes)
	s.expected = 0
	clear(s.received)
	s.frames = 0
	s.bytes = 0
	s.ready = s.framer.Mode() == crypto.NonceRandom
	return true
}

// StartCleanup launches a background goroutine that resets the session after
// timeout of inactivity. It stops when the done channel is closed.
func (s *Session) StartCleanup(interval, timeout time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.ResetIfIdle(timeout)
			}
		}
	}()
}

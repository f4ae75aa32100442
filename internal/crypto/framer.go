package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	LengthPrefixLen = 2
	NonceLen        = 12
	TagLen          = 16
)

var (
	ErrMalformedFrame       = errors.New("malformed frame")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrCounterUnset         = errors.New("nonce counter not initialised")
	ErrCounterExhausted     = errors.New("nonce counter exhausted")
)

// NonceMode selects how per-frame nonces are produced. Both peers must use
// the same mode for the lifetime of a key.
type NonceMode int

const (
	// NonceRandom draws a fresh nonce per frame and sends it with the frame.
	NonceRandom NonceMode = iota
	// NonceCounter derives the nonce from a counter both peers advance in
	// lockstep; the nonce is never sent.
	NonceCounter
)

func (m NonceMode) String() string {
	switch m {
	case NonceRandom:
		return "random"
	case NonceCounter:
		return "counter"
	default:
		return fmt.Sprintf("NonceMode(%d)", int(m))
	}
}

// ParseNonceMode parses "random" or "counter".
func ParseNonceMode(s string) (NonceMode, error) {
	switch s {
	case "random":
		return NonceRandom, nil
	case "counter":
		return NonceCounter, nil
	}
	return 0, fmt.Errorf("unknown nonce mode %q", s)
}

// Suite selects the AEAD construction.
type Suite int

const (
	SuiteAESGCM Suite = iota
	SuiteChaCha20Poly1305
)

func (s Suite) String() string {
	switch s {
	case SuiteAESGCM:
		return "aes-gcm"
	case SuiteChaCha20Poly1305:
		return "chacha20-poly1305"
	default:
		return fmt.Sprintf("Suite(%d)", int(s))
	}
}

// ParseSuite parses "aes-gcm" or "chacha20-poly1305".
func ParseSuite(s string) (Suite, error) {
	switch s {
	case "aes-gcm":
		return SuiteAESGCM, nil
	case "chacha20-poly1305":
		return SuiteChaCha20Poly1305, nil
	}
	return 0, fmt.Errorf("unknown cipher suite %q", s)
}

func newAEAD(key []byte, suite Suite) (cipher.AEAD, error) {
	if len(key) != KeyLen {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeyLen, len(key))
	}
	switch suite {
	case SuiteAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("creating cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("creating GCM: %w", err)
		}
		return gcm, nil
	case SuiteChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("creating chacha20-poly1305: %w", err)
		}
		return aead, nil
	}
	return nil, fmt.Errorf("unknown cipher suite %v", suite)
}

// Framer seals chunks into frames and opens them again:
//
//	[len:2][nonce:12, random mode only][ciphertext:len][tag:16]
//
// A Framer is not safe for concurrent use. In counter mode every successful
// Encrypt or Decrypt consumes one nonce, so a frame must be encrypted exactly
// once and the resulting bytes reused for every retransmission.
type Framer struct {
	aead    cipher.AEAD
	mode    NonceMode
	counter uint64
	ready   bool
}

// NewFramer creates a framer for key. Counter-mode framers need
// SetInitialCounter before use.
func NewFramer(key []byte, suite Suite, mode NonceMode) (*Framer, error) {
	if mode != NonceRandom && mode != NonceCounter {
		return nil, fmt.Errorf("unknown nonce mode %v", mode)
	}
	aead, err := newAEAD(key, suite)
	if err != nil {
		return nil, err
	}
	return &Framer{aead: aead, mode: mode, ready: mode == NonceRandom}, nil
}

// Mode returns the nonce mode.
func (f *Framer) Mode() NonceMode { return f.mode }

// Overhead returns the number of bytes a frame adds to its plaintext.
func (f *Framer) Overhead() int {
	return Overhead(f.mode)
}

// Overhead returns the framing overhead for mode.
func Overhead(mode NonceMode) int {
	if mode == NonceRandom {
		return LengthPrefixLen + NonceLen + TagLen
	}
	return LengthPrefixLen + TagLen
}

// Counter returns the next counter value to be used.
func (f *Framer) Counter() uint64 { return f.counter }

// SetInitialCounter sets the first counter value; called once per session
// right after the handshake.
func (f *Framer) SetInitialCounter(v uint64) {
	f.counter = v
	f.ready = true
}

func (f *Framer) headerLen() int {
	if f.mode == NonceRandom {
		return LengthPrefixLen + NonceLen
	}
	return LengthPrefixLen
}

func (f *Framer) counterNonce() ([]byte, error) {
	if !f.ready {
		return nil, ErrCounterUnset
	}
	if f.counter == math.MaxUint64 {
		return nil, ErrCounterExhausted
	}
	nonce := make([]byte, NonceLen)
	binary.BigEndian.PutUint64(nonce[NonceLen-8:], f.counter)
	return nonce, nil
}

// Encrypt seals plaintext into a new frame.
func (f *Framer) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d byte chunk", ErrMalformedFrame, len(plaintext))
	}

	frame := make([]byte, LengthPrefixLen, f.Overhead()+len(plaintext))
	binary.BigEndian.PutUint16(frame, uint16(len(plaintext)))

	var nonce []byte
	if f.mode == NonceRandom {
		nonce = make([]byte, NonceLen)
		if _, err := rand.Read(nonce); err != nil {
			return nil, fmt.Errorf("generating nonce: %w", err)
		}
		frame = append(frame, nonce...)
	} else {
		var err error
		if nonce, err = f.counterNonce(); err != nil {
			return nil, err
		}
	}

	frame = f.aead.Seal(frame, nonce, plaintext, nil)
	if f.mode == NonceCounter {
		f.counter++
	}
	return frame, nil
}

// Decrypt opens a frame. The counter only advances when authentication
// succeeds, so a bad frame never pushes the peers further out of step.
func (f *Framer) Decrypt(frame []byte) ([]byte, error) {
	hdr := f.headerLen()
	if len(frame) < hdr+TagLen {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedFrame, len(frame), hdr+TagLen)
	}

	clen := int(binary.BigEndian.Uint16(frame))
	if clen != len(frame)-hdr-TagLen {
		return nil, fmt.Errorf("%w: length field %d, frame carries %d",
			ErrMalformedFrame, clen, len(frame)-hdr-TagLen)
	}

	var nonce []byte
	if f.mode == NonceRandom {
		nonce = frame[LengthPrefixLen:hdr]
	} else {
		var err error
		if nonce, err = f.counterNonce(); err != nil {
			return nil, err
		}
	}

	plaintext, err := f.aead.Open(make([]byte, 0, clen), nonce, frame[hdr:], nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	if f.mode == NonceCounter {
		f.counter++
	}
	return plaintext, nil
}

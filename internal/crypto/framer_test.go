package crypto

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

var testKey = bytes.Repeat([]byte{0x5a}, KeyLen)

// pair returns a sender and a receiver framer sharing key and nonce state.
func pair(t *testing.T, suite Suite, mode NonceMode) (*Framer, *Framer) {
	t.Helper()
	enc, err := NewFramer(testKey, suite, mode)
	require.NoError(t, err)
	dec, err := NewFramer(testKey, suite, mode)
	require.NoError(t, err)
	if mode == NonceCounter {
		enc.SetInitialCounter(1 << 40)
		dec.SetInitialCounter(1 << 40)
	}
	return enc, dec
}

func forEachConfig(t *testing.T, fn func(t *testing.T, suite Suite, mode NonceMode)) {
	for _, suite := range []Suite{SuiteAESGCM, SuiteChaCha20Poly1305} {
		for _, mode := range []NonceMode{NonceRandom, NonceCounter} {
			t.Run(suite.String()+"/"+mode.String(), func(t *testing.T) {
				fn(t, suite, mode)
			})
		}
	}
}

func TestFramerRoundTrip(t *testing.T) {
	forEachConfig(t, func(t *testing.T, suite Suite, mode NonceMode) {
		enc, dec := pair(t, suite, mode)
		for size := 0; size <= 140; size += 7 {
			plaintext := bytes.Repeat([]byte{byte(size)}, size)

			frame, err := enc.Encrypt(plaintext)
			require.NoError(t, err)
			require.Len(t, frame, len(plaintext)+enc.Overhead())
			require.Equal(t, uint16(size), binary.BigEndian.Uint16(frame))

			got, err := dec.Decrypt(frame)
			require.NoError(t, err)
			require.Equal(t, plaintext, got)
		}
	})
}

func TestFramerEmptyChunk(t *testing.T) {
	forEachConfig(t, func(t *testing.T, suite Suite, mode NonceMode) {
		enc, dec := pair(t, suite, mode)
		frame, err := enc.Encrypt(nil)
		require.NoError(t, err)
		require.Len(t, frame, enc.Overhead())

		got, err := dec.Decrypt(frame)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Empty(t, got)
	})
}

func TestFramerOverhead(t *testing.T) {
	random, err := NewFramer(testKey, SuiteAESGCM, NonceRandom)
	require.NoError(t, err)
	require.Equal(t, 30, random.Overhead())

	counter, err := NewFramer(testKey, SuiteChaCha20Poly1305, NonceCounter)
	require.NoError(t, err)
	require.Equal(t, 18, counter.Overhead())
}

func TestFramerTamperDetection(t *testing.T) {
	forEachConfig(t, func(t *testing.T, suite Suite, mode NonceMode) {
		enc, _ := pair(t, suite, mode)
		frame, err := enc.Encrypt([]byte("attack at dawn"))
		require.NoError(t, err)

		// Every bit after the length prefix: nonce, ciphertext and tag.
		for i := LengthPrefixLen; i < len(frame); i++ {
			for bit := 0; bit < 8; bit++ {
				_, dec := pair(t, suite, mode)
				tampered := bytes.Clone(frame)
				tampered[i] ^= 1 << bit

				got, err := dec.Decrypt(tampered)
				require.ErrorIs(t, err, ErrAuthenticationFailed, "byte %d bit %d", i, bit)
				require.Nil(t, got)
			}
		}
	})
}

func TestFramerMalformed(t *testing.T) {
	forEachConfig(t, func(t *testing.T, suite Suite, mode NonceMode) {
		enc, dec := pair(t, suite, mode)
		frame, err := enc.Encrypt([]byte("hello"))
		require.NoError(t, err)

		_, err = dec.Decrypt(frame[:enc.Overhead()-1])
		require.ErrorIs(t, err, ErrMalformedFrame)

		_, err = dec.Decrypt(frame[:len(frame)-1])
		require.ErrorIs(t, err, ErrMalformedFrame)

		bad := bytes.Clone(frame)
		binary.BigEndian.PutUint16(bad, 6)
		_, err = dec.Decrypt(bad)
		require.ErrorIs(t, err, ErrMalformedFrame)

		// Nothing above consumed a nonce.
		got, err := dec.Decrypt(frame)
		require.NoError(t, err)
		require.Equal(t, []byte("hello"), got)
	})
}

func TestFramerCounterRequiresInit(t *testing.T) {
	f, err := NewFramer(testKey, SuiteAESGCM, NonceCounter)
	require.NoError(t, err)

	_, err = f.Encrypt([]byte("x"))
	require.ErrorIs(t, err, ErrCounterUnset)

	_, err = f.Decrypt(make([]byte, 2+TagLen))
	require.ErrorIs(t, err, ErrCounterUnset)
}

func TestFramerCounterAdvancesOnlyOnSuccess(t *testing.T) {
	enc, dec := pair(t, SuiteAESGCM, NonceCounter)

	first, err := enc.Encrypt([]byte("first"))
	require.NoError(t, err)
	second, err := enc.Encrypt([]byte("second"))
	require.NoError(t, err)
	require.Equal(t, uint64(1<<40)+2, enc.Counter())

	// Out of order: second is sealed under the next nonce.
	_, err = dec.Decrypt(second)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	require.Equal(t, uint64(1<<40), dec.Counter())

	got, err := dec.Decrypt(first)
	require.NoError(t, err)
	require.Equal(t, []byte("first"), got)

	got, err = dec.Decrypt(second)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), got)
}

func TestFramerRetransmitCachedBytes(t *testing.T) {
	enc, dec := pair(t, SuiteAESGCM, NonceCounter)

	frame, err := enc.Encrypt([]byte("chunk zero"))
	require.NoError(t, err)

	// Resending the cached frame is the same bytes every time.
	resend := bytes.Clone(frame)
	got, err := dec.Decrypt(resend)
	require.NoError(t, err)
	require.Equal(t, []byte("chunk zero"), got)

	next, err := enc.Encrypt([]byte("chunk one"))
	require.NoError(t, err)
	got, err = dec.Decrypt(next)
	require.NoError(t, err)
	require.Equal(t, []byte("chunk one"), got)
}

func TestFramerReencryptDesynchronises(t *testing.T) {
	enc, dec := pair(t, SuiteAESGCM, NonceCounter)

	lost, err := enc.Encrypt([]byte("chunk zero"))
	require.NoError(t, err)

	// Encrypting the same chunk again burns a second nonce; the receiver is
	// still waiting on the first one and cannot open it.
	again, err := enc.Encrypt([]byte("chunk zero"))
	require.NoError(t, err)
	require.NotEqual(t, lost, again)

	_, err = dec.Decrypt(again)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestFramerRandomNoncesDiffer(t *testing.T) {
	enc, _ := pair(t, SuiteAESGCM, NonceRandom)
	a, err := enc.Encrypt([]byte("same"))
	require.NoError(t, err)
	b, err := enc.Encrypt([]byte("same"))
	require.NoError(t, err)
	require.NotEqual(t, a[LengthPrefixLen:LengthPrefixLen+NonceLen], b[LengthPrefixLen:LengthPrefixLen+NonceLen])
}

func TestNewFramerErrors(t *testing.T) {
	_, err := NewFramer([]byte("short"), SuiteAESGCM, NonceRandom)
	require.Error(t, err)

	_, err = NewFramer(testKey, Suite(9), NonceRandom)
	require.Error(t, err)

	_, err = NewFramer(testKey, SuiteAESGCM, NonceMode(9))
	require.Error(t, err)
}

func TestParseNames(t *testing.T) {
	m, err := ParseNonceMode("counter")
	require.NoError(t, err)
	require.Equal(t, NonceCounter, m)
	_, err = ParseNonceMode("sometimes")
	require.Error(t, err)

	s, err := ParseSuite("chacha20-poly1305")
	require.NoError(t, err)
	require.Equal(t, SuiteChaCha20Poly1305, s)
	_, err = ParseSuite("rot13")
	require.Error(t, err)
}

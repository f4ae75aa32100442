package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	KeyLen     = 32
	ArgonTime  = 1
	ArgonMem   = 64 * 1024 // 64 MB in KiB
	ArgonLanes = 4
)

// keySalt is fixed so both peers derive the same key from the passphrase
// alone; nothing about the key is exchanged on the wire.
var keySalt = []byte("dns-tunnel/key/1")

// DeriveKey derives a 256-bit key from a passphrase using Argon2id.
func DeriveKey(passphrase string) []byte {
	return argon2.IDKey([]byte(passphrase), keySalt, ArgonTime, ArgonMem, ArgonLanes, KeyLen)
}

// EphemeralKey returns a random key. Only useful when both ends live in the
// same process.
func EphemeralKey() ([]byte, error) {
	key := make([]byte, KeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

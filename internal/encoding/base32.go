package encoding

import (
	"encoding/base32"
	"fmt"
	"strings"
)

// MaxLabelLen is the maximum length of a single DNS label per RFC 1035.
const MaxLabelLen = 63

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Base32Encode encodes arbitrary bytes into unpadded RFC 4648 base32.
// The alphabet (A-Z, 2-7) is always a legal DNS label.
func Base32Encode(data []byte) string {
	return b32.EncodeToString(data)
}

// Base32EncodedLen returns the length of the unpadded base32 encoding of n bytes.
func Base32EncodedLen(n int) int {
	return b32.EncodedLen(n)
}

// Base32Decode decodes an unpadded base32 string. Resolvers are free to
// change the case of query names, so lowercase input is accepted.
func Base32Decode(s string) ([]byte, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("empty base32 string")
	}
	data, err := b32.DecodeString(strings.ToUpper(s))
	if err != nil {
		return nil, fmt.Errorf("decoding base32: %w", err)
	}
	return data, nil
}

// IsAlnum reports whether s is non-empty and made only of ASCII letters and digits.
func IsAlnum(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}

// SplitIntoLabels splits a string into DNS labels of at most maxLen characters.
func SplitIntoLabels(s string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = MaxLabelLen
	}
	var labels []string
	for len(s) > 0 {
		end := maxLen
		if end > len(s) {
			end = len(s)
		}
		labels = append(labels, s[:end])
		s = s[end:]
	}
	return labels
}

// JoinLabels joins DNS labels back into a single string.
func JoinLabels(labels []string) string {
	return strings.Join(labels, "")
}

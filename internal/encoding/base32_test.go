package encoding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBase32RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"single byte", []byte{0x42}},
		{"hello", []byte("Hello, World!")},
		{"leading zeros", []byte{0, 0, 0, 1, 2, 3}},
		{"all zeros", []byte{0, 0, 0}},
		{"binary", []byte{0xff, 0x00, 0xab, 0xcd, 0xef}},
		{"256 bytes", make([]byte, 256)},
	}

	for i := range tests[len(tests)-1].data {
		tests[len(tests)-1].data[i] = byte(i)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := Base32Encode(tt.data)
			require.True(t, IsAlnum(encoded), "encoded form must be a legal label: %s", encoded)
			require.NotContains(t, encoded, "=")
			require.Len(t, encoded, Base32EncodedLen(len(tt.data)))

			decoded, err := Base32Decode(encoded)
			require.NoError(t, err)
			require.Equal(t, tt.data, decoded)

			// Resolvers may randomise label case.
			decoded, err = Base32Decode(strings.ToLower(encoded))
			require.NoError(t, err)
			require.Equal(t, tt.data, decoded)
		})
	}
}

func TestBase32DecodeInvalid(t *testing.T) {
	_, err := Base32Decode("")
	require.Error(t, err)

	_, err = Base32Decode("ABC1")
	require.Error(t, err, "1 is not in the base32 alphabet")

	_, err = Base32Decode("AB-D")
	require.Error(t, err)
}

func TestIsAlnum(t *testing.T) {
	require.True(t, IsAlnum("0"))
	require.True(t, IsAlnum("Ab9"))
	require.False(t, IsAlnum(""))
	require.False(t, IsAlnum("a-b"))
	require.False(t, IsAlnum("a.b"))
	require.False(t, IsAlnum("é"))
}

func TestSplitIntoLabels(t *testing.T) {
	s := "abcdefghij"
	labels := SplitIntoLabels(s, 3)
	require.Equal(t, []string{"abc", "def", "ghi", "j"}, labels)
	require.Equal(t, s, JoinLabels(labels))

	long := strings.Repeat("A", 130)
	labels = SplitIntoLabels(long, 0)
	require.Len(t, labels, 3)
	require.Len(t, labels[0], MaxLabelLen)
	require.Len(t, labels[2], 4)
}

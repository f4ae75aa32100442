package protocol

import (
	"errors"
	"net"
)

// HandshakeMarker is the reserved second label of a handshake query:
// "<counter>.hs0.<basedomain>". It contains '0', which is outside the base32
// alphabet, so it can never be mistaken for a data label.
const HandshakeMarker = "hs0"

// HandshakeAckIP is the literal answer the receiver returns to accept a handshake.
var HandshakeAckIP = net.IPv4(1, 1, 1, 1)

// MaxDomainLen is the maximum total domain name length per RFC 1035.
const MaxDomainLen = 253

// SeqLabelLen is the label budget reserved for the sequence number: the
// widest value in [0, SeqSpace) is two decimal digits.
const SeqLabelLen = 2

// Wire error classes.
var (
	ErrPayloadTooLarge   = errors.New("payload too large for a DNS name")
	ErrInvalidIdentifier = errors.New("identifier is not a valid DNS label")
	ErrInvalidEncoding   = errors.New("invalid encoding")
	ErrMalformedQuery    = errors.New("malformed query")
	ErrOutOfWindow       = errors.New("sequence number outside window")
)

// DataMessage is a parsed data query.
type DataMessage struct {
	Seq     int
	Payload string // base32, still encrypted
}

// HandshakeMessage is a parsed handshake query.
type HandshakeMessage struct {
	Counter uint64
}

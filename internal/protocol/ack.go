package protocol

import (
	"fmt"
	"math/rand/v2"
	"net"
)

// AckIP encodes an acknowledgement as rand.rand.seq.rand. The filler
// octets only keep answers from sharing a fixed pattern.
func AckIP(seq int) net.IP {
	for {
		ip := net.IPv4(
			byte(1+rand.IntN(254)),
			byte(rand.IntN(255)),
			byte(seq),
			byte(1+rand.IntN(254)),
		)
		if !ip.Equal(HandshakeAckIP) {
			return ip
		}
	}
}

// ParseAckIP extracts the acknowledgement carried in the third octet.
func ParseAckIP(ip net.IP) (int, error) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, fmt.Errorf("%w: %v is not IPv4", ErrInvalidEncoding, ip)
	}
	ack := int(v4[2])
	if !ValidSeq(ack) {
		return 0, fmt.Errorf("%w: ack %d", ErrOutOfWindow, ack)
	}
	return ack, nil
}

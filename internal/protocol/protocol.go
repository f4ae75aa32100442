package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/miekg/dns"
	"github.com/rcoop/dns-tunnel/internal/encoding"
)

// MaxBase32Payload returns how many base32 characters fit in the payload
// labels of a query "<id>.<p1>.<p2>...<pn>.<domainSuffix>".
//
// The payload region, dots between payload labels included, may use
//
//	253 - idLabelLen - 1 (dot after id) - 1 (dot before suffix) - len(suffix)
//
// characters. Every full label costs 63 chars plus one dot; a trailing
// partial label of k chars costs k plus the dot of the label before it.
func MaxBase32Payload(domainSuffix string, idLabelLen int) int {
	domainSuffix = strings.TrimSuffix(domainSuffix, ".")
	avail := MaxDomainLen - idLabelLen - 2 - len(domainSuffix)
	if avail < 1 {
		return 0
	}

	// Pretend the region has one trailing dot so every label costs len+1.
	slots := avail + 1
	full := slots / (encoding.MaxLabelLen + 1)
	rem := slots % (encoding.MaxLabelLen + 1)

	chars := full * encoding.MaxLabelLen
	if rem > 1 {
		chars += rem - 1
	}
	return chars
}

// MaxPlaintextLen returns the largest chunk that, once framed with
// overheadBytes of framing, still encodes into a legal query name. A value of
// 0 means the domain leaves no room for data.
func MaxPlaintextLen(domainSuffix string, idLabelLen, overheadBytes int) int {
	frameBytes := MaxBase32Payload(domainSuffix, idLabelLen) * 5 / 8
	n := frameBytes - overheadBytes
	if n < 0 {
		return 0
	}
	return n
}

// Encode builds "<id>.<base32 labels>.<domainSuffix>" for a frame. The
// returned name has no trailing dot.
func Encode(frame []byte, id, domainSuffix string) (string, error) {
	if !encoding.IsAlnum(id) || len(id) > encoding.MaxLabelLen {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	if len(frame) == 0 {
		return "", fmt.Errorf("%w: empty frame", ErrInvalidEncoding)
	}

	domainSuffix = strings.TrimSuffix(domainSuffix, ".")
	labels := encoding.SplitIntoLabels(encoding.Base32Encode(frame), encoding.MaxLabelLen)
	fqdn := id + "." + strings.Join(labels, ".") + "." + domainSuffix

	if len(fqdn) > MaxDomainLen {
		return "", fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(fqdn), MaxDomainLen)
	}
	return fqdn, nil
}

// Decode splits a query name into its identifier label and the concatenated
// base32 payload, dropping the last suffixLabels labels.
func Decode(fqdn string, suffixLabels int) (id, payload string, err error) {
	labels := dns.SplitDomainName(fqdn)
	if len(labels) < suffixLabels+2 {
		return "", "", fmt.Errorf("%w: %d labels, need at least %d",
			ErrMalformedQuery, len(labels), suffixLabels+2)
	}
	id = labels[0]
	payload = encoding.JoinLabels(labels[1 : len(labels)-suffixLabels])
	return id, payload, nil
}

// BuildDataQuery builds the query name carrying frame in slot seq.
func BuildDataQuery(seq int, frame []byte, baseDomain string) (string, error) {
	if !ValidSeq(seq) {
		return "", fmt.Errorf("%w: seq %d", ErrInvalidIdentifier, seq)
	}
	return Encode(frame, strconv.Itoa(seq), baseDomain)
}

// BuildHandshakeQuery builds the query name announcing the initial nonce counter.
func BuildHandshakeQuery(counter uint64, baseDomain string) string {
	return fmt.Sprintf("%d.%s.%s", counter, HandshakeMarker, strings.TrimSuffix(baseDomain, "."))
}

// ParseQuery strips the base domain from a query name and parses the
// remaining labels. Returns *DataMessage or *HandshakeMessage.
func ParseQuery(fqdn, baseDomain string) (interface{}, error) {
	fqdn = strings.TrimSuffix(fqdn, ".")
	baseDomain = strings.TrimSuffix(baseDomain, ".")

	if !dns.IsSubDomain(dns.Fqdn(baseDomain), dns.Fqdn(fqdn)) {
		return nil, fmt.Errorf("%w: %q is not under %q", ErrMalformedQuery, fqdn, baseDomain)
	}

	suffixLabels := dns.CountLabel(dns.Fqdn(baseDomain))
	labels := dns.SplitDomainName(fqdn)

	if len(labels) == suffixLabels+2 && strings.EqualFold(labels[1], HandshakeMarker) {
		counter, err := strconv.ParseUint(labels[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad handshake counter: %v", ErrMalformedQuery, err)
		}
		return &HandshakeMessage{Counter: counter}, nil
	}

	id, payload, err := Decode(fqdn, suffixLabels)
	if err != nil {
		return nil, err
	}

	seq, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("%w: bad seq: %v", ErrMalformedQuery, err)
	}
	if !ValidSeq(seq) {
		return nil, fmt.Errorf("%w: seq %d out of range", ErrMalformedQuery, seq)
	}
	if !encoding.IsAlnum(payload) {
		return nil, fmt.Errorf("%w: payload is not alphanumeric", ErrInvalidEncoding)
	}

	return &DataMessage{Seq: seq, Payload: payload}, nil
}

package protocol

const (
	// SeqSpace is the size of the sequence number space; numbers wrap modulo it.
	SeqSpace = 100

	// WindowSize is the default number of slots that may be outstanding.
	WindowSize = 10
)

// NextSeq returns seq+n modulo SeqSpace.
func NextSeq(seq, n int) int {
	return ((seq+n)%SeqSpace + SeqSpace) % SeqSpace
}

// SeqDistance returns how many steps forward "to" lies from "from".
func SeqDistance(from, to int) int {
	return ((to-from)%SeqSpace + SeqSpace) % SeqSpace
}

// ValidSeq reports whether seq is inside the sequence space.
func ValidSeq(seq int) bool {
	return seq >= 0 && seq < SeqSpace
}

// InReceiveWindow reports whether seq falls in [expected, expected+window).
func InReceiveWindow(seq, expected, window int) bool {
	return SeqDistance(expected, seq) < window
}

// InAckWindow reports whether ack falls in (base, base+window]. Only such an
// acknowledgement can be progress the sender caused.
func InAckWindow(ack, base, window int) bool {
	d := SeqDistance(base, ack)
	return d > 0 && d <= window
}

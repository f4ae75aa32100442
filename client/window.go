package client

import "github.com/rcoop/dns-tunnel/internal/protocol"

// Slot is a chunk that has been framed and encoded. Its bytes are produced
// once and resent verbatim until acknowledged.
type Slot struct {
	Frame []byte
	Name  string
}

// Window is the sender's sliding window over the sequence space. It is owned
// by a single control loop and needs no locking.
type Window struct {
	size     int
	base     int
	inFlight map[int]Slot
	acked    map[int]bool
}

// NewWindow returns an empty window of the given size starting at sequence 0.
func NewWindow(size int) *Window {
	return &Window{
		size:     size,
		inFlight: make(map[int]Slot),
		acked:    make(map[int]bool),
	}
}

// Base returns the lowest unacknowledged sequence number.
func (w *Window) Base() int { return w.base }

// Size returns the window size.
func (w *Window) Size() int { return w.size }

// Slots returns the sequence numbers currently covered by the window, base first.
func (w *Window) Slots() []int {
	slots := make([]int, w.size)
	for i := range slots {
		slots[i] = protocol.NextSeq(w.base, i)
	}
	return slots
}

// Acked reports whether seq has been cumulatively acknowledged.
func (w *Window) Acked(seq int) bool { return w.acked[seq] }

// Get returns the in-flight slot for seq.
func (w *Window) Get(seq int) (Slot, bool) {
	s, ok := w.inFlight[seq]
	return s, ok
}

// Track marks seq in flight with its cached slot.
func (w *Window) Track(seq int, s Slot) {
	w.inFlight[seq] = s
}

// InFlight returns the number of unacknowledged slots.
func (w *Window) InFlight() int { return len(w.inFlight) }

// Accept applies a cumulative acknowledgement meaning "everything before ack
// has been delivered". Acks outside (base, base+size] are ignored; the
// return value reports whether the window moved.
func (w *Window) Accept(ack int) bool {
	if !protocol.InAckWindow(ack, w.base, w.size) {
		return false
	}
	for w.base != ack {
		delete(w.inFlight, w.base)
		w.acked[w.base] = true
		// The slot entering at the top of the window was last used a full
		// lap ago; it is free again.
		delete(w.acked, protocol.NextSeq(w.base, w.size))
		w.base = protocol.NextSeq(w.base, 1)
	}
	return true
}

package playback

// presessionBuffer holds chunks that arrive before the session-start
// signal, so audio racing slightly ahead of the start is not lost.
// It is a bounded FIFO; overflow drops the oldest entry.
type presessionBuffer struct {
	max      int
	payloads [][]byte
}

func newPresessionBuffer(max int) *presessionBuffer {
	return &presessionBuffer{max: max}
}

// add appends a payload, reporting whether the oldest entry was dropped
// to make room.
func (b *presessionBuffer) add(payload []byte) bool {
	dropped := false
	if len(b.payloads) >= b.max {
		b.payloads = b.payloads[1:]
		dropped = true
	}
	b.payloads = append(b.payloads, payload)
	return dropped
}

// drain returns all buffered payloads in arrival order and empties the buffer.
func (b *presessionBuffer) drain() [][]byte {
	out := b.payloads
	b.payloads = nil
	return out
}

// clear discards all buffered payloads.
func (b *presessionBuffer) clear() {
	b.payloads = nil
}

// len returns the number of buffered payloads.
func (b *presessionBuffer) len() int {
	return len(b.payloads)
}

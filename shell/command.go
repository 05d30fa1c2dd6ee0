package shell

import (
	"sync/atomic"
	"time"
)

// preBufCap bounds the bytes buffered while waiting for a begin marker that
// may never arrive. Oldest bytes are discarded beyond the cap.
const preBufCap = 256 * 1024

// cmdState is the record for one in-flight command. It is owned by the
// correlation table: outBuf, errBuf, preBuf and begun may only be touched
// while holding the table lock or after removing the record from the table.
// done flips false->true exactly once and decides completion ownership.
type cmdState struct {
	id          uint64
	beginMarker []byte
	endMarker   []byte

	outBuf []byte
	errBuf []byte
	preBuf []byte

	begun bool
	// skipCR and skipLF track the begin marker's own line terminator, which
	// may arrive in a later chunk than the marker.
	skipCR   bool
	skipLF   bool
	timedOut atomic.Bool
	done     atomic.Bool

	start time.Time
	// deadline is the absolute expiry time; the zero time means no timeout.
	deadline time.Time

	fut *Future
	cb  func(ExecutionResult)
}

func newCmdState(id uint64, timeout time.Duration) *cmdState {
	st := &cmdState{
		id:          id,
		beginMarker: []byte(beginMarker(id)),
		endMarker:   []byte(endMarker(id)),
		start:       time.Now(),
		fut:         newFuture(),
	}
	if timeout > 0 {
		st.deadline = st.start.Add(timeout)
	}
	return st
}

// skipMarkerNewline drops the begin marker's trailing CR and LF from b. Each
// of the two bytes is skipped at most once; a flag stays armed only while the
// corresponding byte could still be in flight.
func (st *cmdState) skipMarkerNewline(b []byte) []byte {
	if st.skipCR && len(b) > 0 {
		st.skipCR = false
		if b[0] == '\r' {
			b = b[1:]
		}
	}
	if st.skipLF && len(b) > 0 {
		st.skipLF = false
		if b[0] == '\n' {
			b = b[1:]
		}
	}
	return b
}

func (st *cmdState) trimPreBuf() {
	if len(st.preBuf) > preBufCap {
		st.preBuf = st.preBuf[len(st.preBuf)-preBufCap:]
	}
}

package shell

import "bytes"

// onChunk maps a raw chunk of child output back to in-flight commands.
// Stdout is parsed against the FIFO head's markers; stderr is attributed to
// the FIFO head wholesale after sentinel scanning.
func (s *Shell) onChunk(stderr bool, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	if stderr {
		s.onStderrChunk(chunk)
		return
	}
	s.onStdoutChunk(chunk)
}

// onStdoutChunk walks the chunk through the in-flight FIFO. A single chunk
// may complete several commands; bytes after a command's end marker are
// carry bytes belonging to the next queued command.
func (s *Shell) onStdoutChunk(chunk []byte) {
	s.stateMu.Lock()

	carry := chunk
	for len(carry) > 0 && len(s.order) > 0 {
		id := s.order[0]
		st, ok := s.table[id]
		if !ok {
			// Head already expired by the watchdog; its late bytes must
			// never be re-matched to another command.
			s.order = s.order[1:]
			continue
		}

		if !st.begun {
			st.preBuf = append(st.preBuf, carry...)
			bpos := bytes.Index(st.preBuf, st.beginMarker)
			if bpos < 0 {
				st.trimPreBuf()
				carry = nil
				break
			}
			rest := st.preBuf[bpos+len(st.beginMarker):]
			st.preBuf = nil
			st.begun = true
			st.skipCR = true
			st.skipLF = true
			carry = rest
		}

		carry = st.skipMarkerNewline(carry)
		st.outBuf = append(st.outBuf, carry...)

		mpos := bytes.Index(st.outBuf, st.endMarker)
		if mpos < 0 {
			carry = nil
			break
		}

		tail := mpos + len(st.endMarker)
		tail = skipCRLF(st.outBuf, tail)
		nextCarry := append([]byte(nil), st.outBuf[tail:]...)
		st.outBuf = st.outBuf[:mpos]

		delete(s.table, id)
		s.order = s.order[1:]

		// Complete outside the lock so a completion callback can safely
		// call back into the engine.
		s.stateMu.Unlock()
		s.finish(st, true)
		s.stateMu.Lock()

		carry = nextCarry
	}

	s.stateMu.Unlock()
}

// onStderrChunk strips any forced-timeout sentinel and attributes the rest
// to the FIFO head. The child does not tag stderr with a command id; when
// several commands are in flight interleaved stderr can be misattributed.
// That is an accepted property of a strictly serial child.
func (s *Shell) onStderrChunk(chunk []byte) {
	s.stateMu.Lock()

	var st *cmdState
	var stID uint64
	if len(s.order) > 0 {
		stID = s.order[0]
		st = s.table[stID]
	}

	sentinel := []byte(timeoutSentinel)
	completeFromSentinel := false
	for len(chunk) > 0 {
		pos := bytes.Index(chunk, sentinel)
		if pos < 0 {
			break
		}
		eraseEnd := skipCRLF(chunk, pos+len(sentinel))
		rest := append([]byte(nil), chunk[:pos]...)
		chunk = append(rest, chunk[eraseEnd:]...)

		// A positive count means the watchdog already completed a timed-out
		// command and this echo is its acknowledgment.
		if s.pendingSentinels.Load() > 0 {
			s.pendingSentinels.Add(-1)
			continue
		}

		// Unsolicited sentinel: force-complete the head as timed out now,
		// without waiting for the watchdog.
		if st != nil {
			st.timedOut.Store(true)
			completeFromSentinel = true
		}
		break
	}

	if st != nil && len(chunk) > 0 {
		st.errBuf = append(st.errBuf, chunk...)
	}

	if completeFromSentinel && st != nil {
		delete(s.table, stID)
		if len(s.order) > 0 && s.order[0] == stID {
			s.order = s.order[1:]
		} else {
			s.order = removeID(s.order, stID)
		}
		s.stateMu.Unlock()
		s.fulfillTimeout(st, false)
		return
	}

	s.stateMu.Unlock()
}

// skipCRLF advances past one optional CR and one optional LF.
func skipCRLF(b []byte, i int) int {
	if i < len(b) && b[i] == '\r' {
		i++
	}
	if i < len(b) && b[i] == '\n' {
		i++
	}
	return i
}

func removeID(order []uint64, id uint64) []uint64 {
	for i, v := range order {
		if v == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

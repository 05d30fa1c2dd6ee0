package shell

import "time"

// watchdogInterval is the expiry scan period. Timeout latency is bounded by
// roughly one interval past the deadline.
const watchdogInterval = 10 * time.Millisecond

// watchdogLoop periodically expires overdue commands. Each tick collects
// every overdue id under the table lock, then expires them outside it.
func (s *Shell) watchdogLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		now := time.Now()
		var expired []uint64

		s.stateMu.Lock()
		for _, id := range s.order {
			st, ok := s.table[id]
			if !ok {
				continue
			}
			if !st.deadline.IsZero() && !now.Before(st.deadline) {
				expired = append(expired, id)
			}
		}
		s.stateMu.Unlock()

		for _, id := range expired {
			s.timeoutOne(id)
		}
	}
}

// timeoutOne removes the command from the correlation table and completes it
// with a timeout error. It is a no-op if the demultiplexer already owns the
// completion.
func (s *Shell) timeoutOne(id uint64) {
	s.stateMu.Lock()
	st, ok := s.table[id]
	if !ok {
		s.stateMu.Unlock()
		return
	}
	st.timedOut.Store(true)
	delete(s.table, id)
	if len(s.order) > 0 && s.order[0] == id {
		s.order = s.order[1:]
	} else {
		s.order = removeID(s.order, id)
	}
	s.stateMu.Unlock()

	s.fulfillTimeout(st, true)
}

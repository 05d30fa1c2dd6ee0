package shell

import "github.com/Chamoswor/virtualshell/proc"

// writerLoop is the single consumer of the outbound queue. It writes each
// packet in full, which together with the FIFO queue guarantees commands
// reach the child in submission order. On a write failure it stops and marks
// I/O inactive; the queue itself is only cleared by the lifecycle controller.
func (s *Shell) writerLoop(h proc.Handle) {
	defer s.ioWG.Done()
	log := s.log.Named("writer")

	for {
		s.writeMu.Lock()
		for len(s.writeQ) == 0 && s.ioActive.Load() {
			s.writeCond.Wait()
		}
		if !s.ioActive.Load() {
			s.writeMu.Unlock()
			return
		}
		pkt := s.writeQ[0]
		s.writeQ = s.writeQ[1:]
		s.writeMu.Unlock()

		if err := h.Write(pkt); err != nil {
			log.Debugf("write failed, stopping: %s", err)
			s.ioActive.Store(false)
			return
		}
	}
}

// readerLoop blocks on the channel for the next chunk and hands it to the
// demultiplexer. The correlation-table lock is held only for the parse step,
// never across the blocking read.
func (s *Shell) readerLoop(h proc.Handle, stderr bool) {
	defer s.ioWG.Done()
	name := "stdout_reader"
	read := h.ReadStdout
	if stderr {
		name = "stderr_reader"
		read = h.ReadStderr
	}
	log := s.log.Named(name)

	for s.ioActive.Load() {
		chunk, err := read()
		if len(chunk) > 0 {
			s.onChunk(stderr, chunk)
		}
		if err != nil {
			log.Debugf("read finished: %s", err)
			return
		}
	}
}

package shell

import "time"

// ExecuteBatch joins the commands into one unit, each on its own line, and
// executes it as a single command.
func (s *Shell) ExecuteBatch(commands []string, timeout time.Duration) ExecutionResult {
	return s.Execute(joinCommands(commands), timeout)
}

// ExecuteBatchAsync runs the commands sequentially on a separate goroutine,
// invoking progress after each command and once more at the end. Panics from
// the progress callback are swallowed. When stopOnFirstError is set, the
// batch stops after the first unsuccessful command. The returned channel
// delivers the collected results exactly once.
func (s *Shell) ExecuteBatchAsync(commands []string, progress func(BatchProgress), stopOnFirstError bool, perCommandTimeout time.Duration) <-chan []ExecutionResult {
	out := make(chan []ExecutionResult, 1)

	go func() {
		prog := BatchProgress{Total: len(commands)}

		notify := func() {
			if progress == nil {
				return
			}
			defer func() {
				if p := recover(); p != nil {
					s.log.Debugf("batch progress callback panicked: %v", p)
				}
			}()
			progress(prog)
		}

		if len(commands) == 0 {
			prog.Complete = true
			notify()
			out <- nil
			return
		}

		for _, cmd := range commands {
			prog.Current++

			fut := s.Submit(cmd, perCommandTimeout, nil)

			var r ExecutionResult
			if perCommandTimeout > 0 {
				var ok bool
				if r, ok = fut.WaitTimeout(perCommandTimeout); !ok {
					r = failedResult(ExitFailed, errTimeout)
				}
			} else {
				r = fut.Wait()
			}

			prog.LastResult = r
			prog.AllResults = append(prog.AllResults, r)
			notify()

			if stopOnFirstError && !r.Success {
				break
			}
		}

		prog.Complete = true
		notify()
		out <- prog.AllResults
	}()

	return out
}

package shell

// Exit indicators reported through ExecutionResult. The child's own exit
// codes are not observable per command; these describe the engine's verdict.
const (
	ExitOK         = 0
	ExitFailed     = -1
	ExitRestarting = -2
	ExitNotRunning = -3
)

// Error texts reported through ExecutionResult.Stderr for engine-side
// failures.
const (
	errTimeout    = "timeout"
	errRestarting = "shell is restarting"
	errNotRunning = "shell is not running"
	errStopped    = "process stopped"
)

// ExecutionResult is the outcome of a single submitted command.
type ExecutionResult struct {
	// Stdout holds the bytes the command wrote between its markers.
	Stdout []byte
	// Stderr holds the bytes attributed to the command, or a descriptive
	// error text for engine-side failures.
	Stderr []byte
	// ExitCode is 0 on success and one of the Exit* indicators otherwise.
	ExitCode int
	// Success is true only if both markers were seen and the command did
	// not time out.
	Success bool
	// Elapsed is the wall time in seconds from submission to completion.
	Elapsed float64
}

// BatchProgress is handed to the progress callback of ExecuteBatchAsync after
// each command and once more when the batch finishes.
type BatchProgress struct {
	// Current is the 1-based index of the most recently finished command.
	Current int
	// Total is the number of commands in the batch.
	Total int
	// LastResult is the result of the most recently finished command.
	LastResult ExecutionResult
	// Complete is true on the final notification.
	Complete bool
	// AllResults holds the results collected so far, in submission order.
	AllResults []ExecutionResult
}

func failedResult(exitCode int, errText string) ExecutionResult {
	return ExecutionResult{
		Stderr:   []byte(errText),
		ExitCode: exitCode,
		Success:  false,
	}
}

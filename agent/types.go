package agent

// requestMessage is a client->server message. Only the first message of a
// connection carries Start; subsequent messages carry a Command or a Batch.
type requestMessage struct {
	Start *startRequest `json:",omitempty"`

	Command   string   `json:",omitempty"`
	Batch     []string `json:",omitempty"`
	TimeoutMS int64    `json:",omitempty"`
}

// startRequest describes the shell the server should spawn for this
// connection.
type startRequest struct {
	Shell            string            `json:",omitempty"`
	WorkingDir       string            `json:",omitempty"`
	Env              map[string]string `json:",omitempty"`
	DefaultTimeoutMS int64             `json:",omitempty"`
	AutoRestart      bool              `json:",omitempty"`
	InitialCommands  []string          `json:",omitempty"`
}

// responseMessage is a server->client message. The first response of a
// connection reports Started or Err; later responses carry one Result per
// Command request or Results per Batch request.
type responseMessage struct {
	Started bool   `json:",omitempty"`
	Err     string `json:",omitempty"`

	Result  *resultMessage  `json:",omitempty"`
	Results []resultMessage `json:",omitempty"`
}

// resultMessage mirrors shell.ExecutionResult on the wire.
type resultMessage struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Success  bool
	Elapsed  float64
}

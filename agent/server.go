package agent

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/Chamoswor/virtualshell/shell"
)

const readLimit = 1 << 20

// Server serves shell engines over HTTP+WebSocket.
type Server struct {
	log        *zap.SugaredLogger
	listenAddr string

	httpServer *http.Server
	listener   net.Listener
}

// ServerOption customizes a Server.
type ServerOption func(s *Server)

// WithServerLogger replaces the server's logger.
func WithServerLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		s.log = l.Named("shellagent").Sugar()
	}
}

// NewServer creates a server listening on listenAddr once Run is called.
func NewServer(listenAddr string, opts ...ServerOption) (*Server, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	s := &Server{
		log:        logger.Named("shellagent").Sugar(),
		listenAddr: listenAddr,
	}
	for _, opt := range opts {
		opt(s)
	}

	router := httprouter.New()
	router.HandlerFunc(http.MethodGet, "/health", s.handleHealth)
	router.HandlerFunc(http.MethodGet, "/shell", s.handleShell)
	s.httpServer = &http.Server{Handler: router}

	return s, nil
}

// Run listens and serves until Stop is called.
func (s *Server) Run() error {
	l, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.listenAddr, err)
	}
	s.listener = l
	s.log.Infof("listening on %s", l.Addr())
	err = s.httpServer.Serve(l)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Addr returns the bound listen address, once Run has started listening.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the HTTP server down, which also tears down every connection
// and its shell.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleShell(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.log.Debugf("error accepting WebSocket conn: %s", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	wsConn.SetReadLimit(readLimit)

	connID := uuid.NewString()[:8]
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	runner := &connRunner{
		log:    s.log.Named("conn").With("ConnID", connID),
		conn:   wsConn,
		ctx:    ctx,
		cancel: cancel,
	}
	runner.run()
}

type connRunner struct {
	log    *zap.SugaredLogger
	conn   *websocket.Conn
	ctx    context.Context
	cancel func()

	sh *shell.Shell
}

func (r *connRunner) run() {
	defer func() {
		if r.sh != nil {
			r.sh.Close()
		}
	}()

	if err := r.readFirstMessageAndStart(); err != nil {
		r.log.Debugf("error starting shell for conn: %s", err)
		_ = wsjson.Write(r.ctx, r.conn, responseMessage{Err: err.Error()})
		r.conn.Close(websocket.StatusInternalError, "starting shell")
		return
	}
	r.log.Debug("shell started")

	if err := wsjson.Write(r.ctx, r.conn, responseMessage{Started: true}); err != nil {
		r.log.Debugf("error sending started message: %s", err)
		return
	}

	for {
		var msg requestMessage
		err := wsjson.Read(r.ctx, r.conn, &msg)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			r.log.Debug("got normal closure from client, wrapping up")
			return
		}
		if err != nil {
			r.log.Debugf("message reader got error: %s", err)
			return
		}

		timeout := time.Duration(msg.TimeoutMS) * time.Millisecond

		var resp responseMessage
		switch {
		case msg.Command != "":
			res := r.sh.Execute(msg.Command, timeout)
			rm := toResultMessage(res)
			resp.Result = &rm
		case len(msg.Batch) > 0:
			results := <-r.sh.ExecuteBatchAsync(msg.Batch, nil, false, timeout)
			for _, res := range results {
				resp.Results = append(resp.Results, toResultMessage(res))
			}
		default:
			resp.Err = "message carries neither a command nor a batch"
		}

		if err := wsjson.Write(r.ctx, r.conn, resp); err != nil {
			r.log.Debugf("error sending response: %s", err)
			return
		}
	}
}

func (r *connRunner) readFirstMessageAndStart() error {
	var msg requestMessage
	if err := wsjson.Read(r.ctx, r.conn, &msg); err != nil {
		return fmt.Errorf("reading first message: %w", err)
	}
	if msg.Start == nil {
		return fmt.Errorf("first message must carry a start request")
	}
	req := msg.Start

	cfg := shell.Config{
		ShellPath:            req.Shell,
		WorkingDir:           req.WorkingDir,
		Env:                  req.Env,
		DefaultTimeout:       time.Duration(req.DefaultTimeoutMS) * time.Millisecond,
		AutoRestartOnTimeout: req.AutoRestart,
		InitialCommands:      req.InitialCommands,
	}
	sh := shell.New(cfg, shell.WithLogger(r.log.Desugar()))
	if err := sh.Start(); err != nil {
		return err
	}
	r.sh = sh
	return nil
}

func toResultMessage(r shell.ExecutionResult) resultMessage {
	return resultMessage{
		Stdout:   r.Stdout,
		Stderr:   r.Stderr,
		ExitCode: r.ExitCode,
		Success:  r.Success,
		Elapsed:  r.Elapsed,
	}
}

/*
Package agent exposes a shell engine over HTTP and WebSockets, so a remote
caller can drive an interactive shell without owning the child process.

The server routes GET /health for liveness polling and GET /shell for the
command protocol. /shell upgrades to a WebSocket carrying JSON messages:

 1. The client opens the WebSocket and sends a request whose Start field
    describes the shell to spawn (executable, working directory, environment,
    default timeout, auto-restart, initialization commands).
 2. The server starts an engine for the connection and replies Started=true,
    or an Err text if the spawn failed.
 3. The client sends requests carrying either a single Command or a Batch of
    commands; the server replies with the ExecutionResult(s) in order.
 4. Closing the WebSocket stops the engine and the child process.

Engines are scoped to the connection: if the connection dies for any reason,
the shell is stopped.
*/
package agent

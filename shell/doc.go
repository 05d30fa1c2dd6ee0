/*
Package shell drives a single long-lived interactive shell child process as an
RPC-style target: submit a text command, get back its captured stdout, stderr,
exit indicator and timing, exactly once.

The child has no built-in message framing, so every command is wrapped in a
packet that makes the shell echo a unique begin marker line before the command
body and a unique end marker line after it:

	[Console]::Out.WriteLine('<<<SS_BEG_7>>>')
	<command body, newline-terminated>
	[Console]::Out.WriteLine('<<<SS_END_7>>>')

Markers embed a monotonically increasing sequence number, so legitimate output
cannot plausibly collide with them.

A single writer goroutine drains an ordered queue onto the child's stdin, which
guarantees commands reach the child in submission order. One reader goroutine
per output stream feeds raw chunks to the demultiplexer, which attributes
stdout bytes to the oldest in-flight command, scans for its markers across
arbitrary chunk boundaries, and completes commands in submission order. A
single chunk may complete several commands. Stderr carries no markers and is
attributed to the oldest in-flight command as a heuristic.

A watchdog goroutine expires overdue commands on a short fixed interval, and
the lifecycle controller coordinates stop, start and the optional automatic
restart after a timeout. Whichever of the demultiplexer or the watchdog
removes a command from the correlation table first owns its completion;
completion is idempotent and delivered exactly once.
*/
package shell

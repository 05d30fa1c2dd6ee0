package shell

import (
	"strconv"
	"strings"
)

// Marker scheme. The counter makes each marker unique for the engine's
// lifetime; the bracket noise keeps it implausible in legitimate output.
const (
	beginMarkerPrefix = "<<<SS_BEG_"
	endMarkerPrefix   = "<<<SS_END_"
	markerSuffix      = ">>>"
)

// timeoutSentinel is an internal marker the lifecycle controller can cause
// the child to emit on stderr, used to force-complete the oldest in-flight
// command as timed out without waiting for the watchdog.
const timeoutSentinel = "__VS_INTERNAL_TIMEOUT__"

func beginMarker(id uint64) string {
	return beginMarkerPrefix + strconv.FormatUint(id, 10) + markerSuffix
}

func endMarker(id uint64) string {
	return endMarkerPrefix + strconv.FormatUint(id, 10) + markerSuffix
}

// PSQuote quotes s as a PowerShell single-quoted literal: surrounding quotes
// added, internal single quotes doubled.
func PSQuote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			b.WriteString("''")
		} else {
			b.WriteByte(s[i])
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// buildPacket frames a command for the child: a line that echoes the begin
// marker, the newline-terminated command body, and a line that echoes the
// end marker. Pure transformation, no validation.
func buildPacket(id uint64, command string) []byte {
	beg := beginMarker(id)
	end := endMarker(id)

	var b strings.Builder
	b.Grow(len(command) + len(beg) + len(end) + 96)

	b.WriteString("[Console]::Out.WriteLine(")
	b.WriteString(PSQuote(beg))
	b.WriteString(")\n")

	b.WriteString(command)
	if len(command) == 0 || command[len(command)-1] != '\n' {
		b.WriteByte('\n')
	}

	b.WriteString("[Console]::Out.WriteLine(")
	b.WriteString(PSQuote(end))
	b.WriteString(")\n")

	return []byte(b.String())
}

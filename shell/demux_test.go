package shell

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestChunkBoundariesDoNotChangeResults delivers one logical output stream
// split at every possible granularity, including splits inside a marker, and
// expects results identical to single-chunk delivery.
func TestChunkBoundariesDoNotChangeResults(t *testing.T) {
	const wantOut = "hello world\nsecond line\n"

	for _, split := range []int{1, 2, 3, 5, 7, 64, 1 << 20} {
		t.Run("split_"+strconv.Itoa(split), func(t *testing.T) {
			h := newFakeHandle()
			sh := newTestShell(t, Config{}, h)

			h.setHandler(nil)
			fut := sh.Submit("produce", 5*time.Second, nil)
			id := firstSubmittedID(sh, t)

			full := beginMarker(id) + "\r\n" + wantOut + endMarker(id) + "\r\n"
			for i := 0; i < len(full); i += split {
				end := i + split
				if end > len(full) {
					end = len(full)
				}
				h.emitStdout(full[i:end])
			}

			r := mustWait(t, fut)
			require.True(t, r.Success)
			assert.Equal(t, wantOut, string(r.Stdout))
		})
	}
}

// TestSingleChunkCompletesMultipleCommands covers END_A data BEGIN_B data
// END_B arriving in one read.
func TestSingleChunkCompletesMultipleCommands(t *testing.T) {
	h := newFakeHandle()
	sh := newTestShell(t, Config{}, h)

	h.setHandler(nil)
	futA := sh.Submit("a", 5*time.Second, nil)
	futB := sh.Submit("b", 5*time.Second, nil)
	idA := firstSubmittedID(sh, t)
	idB := idA + 1

	chunk := beginMarker(idA) + "\nA-out\n" + endMarker(idA) + "\n" +
		beginMarker(idB) + "\nB-out\n" + endMarker(idB) + "\n"
	h.emitStdout(chunk)

	rA := mustWait(t, futA)
	rB := mustWait(t, futB)
	require.True(t, rA.Success)
	require.True(t, rB.Success)
	assert.Equal(t, "A-out\n", string(rA.Stdout))
	assert.Equal(t, "B-out\n", string(rB.Stdout))
}

// TestPreBeginNoiseIsDiscarded: bytes before the begin marker are not part
// of the command's output.
func TestPreBeginNoiseIsDiscarded(t *testing.T) {
	h := newFakeHandle()
	sh := newTestShell(t, Config{}, h)

	h.setHandler(nil)
	fut := sh.Submit("noisy", 5*time.Second, nil)
	id := firstSubmittedID(sh, t)

	h.emitStdout("leftover banner noise\n")
	h.emitStdout(beginMarker(id) + "\nreal\n" + endMarker(id) + "\n")

	r := mustWait(t, fut)
	require.True(t, r.Success)
	assert.Equal(t, "real\n", string(r.Stdout))
}

// TestPreBufBounded: a flood of markerless noise does not grow the pre-begin
// buffer without bound, and the command still completes when the marker
// finally arrives.
func TestPreBufBounded(t *testing.T) {
	h := newFakeHandle()
	sh := newTestShell(t, Config{}, h)

	h.setHandler(nil)
	fut := sh.Submit("flooded", 30*time.Second, nil)
	id := firstSubmittedID(sh, t)

	noise := strings.Repeat("x", 64*1024)
	for i := 0; i < 6; i++ { // ~384 KiB, past the cap
		h.emitStdout(noise)
	}

	require.Eventually(t, func() bool {
		sh.stateMu.Lock()
		defer sh.stateMu.Unlock()
		st, ok := sh.table[id]
		return ok && len(st.preBuf) > 0 && len(st.preBuf) <= preBufCap
	}, 5*time.Second, 10*time.Millisecond)

	h.emitStdout(beginMarker(id) + "\nok\n" + endMarker(id) + "\n")
	r := mustWait(t, fut)
	require.True(t, r.Success)
	assert.Equal(t, "ok\n", string(r.Stdout))
}

// TestLateOutputForExpiredCommandIsIgnored: output for a watchdog-expired id
// must never be attributed to a different command.
func TestLateOutputForExpiredCommandIsIgnored(t *testing.T) {
	h := newFakeHandle()
	sh := newTestShell(t, Config{}, h)

	h.setHandler(nil)
	futStuck := sh.Submit("stuck", 30*time.Millisecond, nil)
	idStuck := firstSubmittedID(sh, t)

	r := mustWait(t, futStuck)
	require.False(t, r.Success)

	futNext := sh.Submit("next", 5*time.Second, nil)
	idNext := idStuck + 1

	// The child finally answers the expired command, then the live one.
	h.emitStdout(beginMarker(idStuck) + "\nstale\n" + endMarker(idStuck) + "\n" +
		beginMarker(idNext) + "\nfresh\n" + endMarker(idNext) + "\n")

	rNext := mustWait(t, futNext)
	require.True(t, rNext.Success)
	assert.Equal(t, "fresh\n", string(rNext.Stdout))
	assert.NotContains(t, string(rNext.Stdout), "stale")
}

// TestForcedTimeoutSentinelCompletesHead: an unsolicited sentinel on stderr
// force-completes the FIFO head as timed out, bypassing the watchdog.
func TestForcedTimeoutSentinelCompletesHead(t *testing.T) {
	h := newFakeHandle()
	sh := newTestShell(t, Config{}, h)

	h.setHandler(nil)
	fut := sh.Submit("will be forced", 0, nil)
	firstSubmittedID(sh, t)

	h.emitStderr("junk " + timeoutSentinel + "\r\n tail")

	r := mustWait(t, fut)
	assert.False(t, r.Success)
	assert.Equal(t, ExitFailed, r.ExitCode)
	// The sentinel itself is stripped; surrounding bytes are kept.
	assert.NotContains(t, string(r.Stderr), timeoutSentinel)
	assert.Contains(t, string(r.Stderr), "junk")
	assert.Contains(t, string(r.Stderr), "tail")

	sh.stateMu.Lock()
	assert.Empty(t, sh.table)
	sh.stateMu.Unlock()
}

// TestExpectedSentinelIsSwallowed: after a watchdog timeout the child's
// late sentinel echo is an acknowledgment, not a new forced timeout.
func TestExpectedSentinelIsSwallowed(t *testing.T) {
	h := newFakeHandle()
	sh := newTestShell(t, Config{}, h)

	h.setHandler(nil)
	futExpired := sh.Submit("expires", 30*time.Millisecond, nil)
	r := mustWait(t, futExpired)
	require.False(t, r.Success)
	require.Eventually(t, func() bool {
		return sh.pendingSentinels.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	fut := sh.Submit("healthy", 5*time.Second, nil)
	id := firstSubmittedID(sh, t)

	// Late acknowledgment arrives; it must not kill the healthy command.
	h.emitStderr(timeoutSentinel + "\r\nsome stderr\n")
	require.Eventually(t, func() bool {
		return sh.pendingSentinels.Load() == 0
	}, 2*time.Second, 5*time.Millisecond)

	h.emitStdout(beginMarker(id) + "\ndone\n" + endMarker(id) + "\n")
	r = mustWait(t, fut)
	require.True(t, r.Success)
	assert.Equal(t, "done\n", string(r.Stdout))
	assert.Contains(t, string(r.Stderr), "some stderr")
}

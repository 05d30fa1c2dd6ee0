package agent

import (
	"context"
	"fmt"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	internalnet "github.com/Chamoswor/virtualshell/internal/net"
)

// startTestServer runs a server on an ephemeral port and returns its address
// along with a client that has already seen the server healthy.
func startTestServer(t *testing.T) (string, *Client) {
	t.Helper()

	port, err := internalnet.EphemeralTCPPort()
	require.NoError(t, err)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	logger := zaptest.NewLogger(t)
	server, err := NewServer(addr, WithServerLogger(logger))
	require.NoError(t, err)

	group := errgroup.Group{}
	group.Go(server.Run)
	t.Cleanup(func() {
		require.NoError(t, server.Stop())
		require.NoError(t, group.Wait())
	})

	client := NewClient(logger.Sugar(), addr, WithClientWaitInterval(20*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, client.WaitForServer(ctx))
	return addr, client
}

func TestWaitForServer(t *testing.T) {
	startTestServer(t)
}

func TestOpenFailsForMissingShell(t *testing.T) {
	_, client := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := client.Open(ctx, StartOptions{Shell: "/no/such/shell-binary"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote shell failed to start")
}

func TestExecuteWithoutOpen(t *testing.T) {
	_, client := startTestServer(t)

	_, err := client.Execute(context.Background(), "Get-Date", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not open")
}

func TestRemoteExecuteRoundTrip(t *testing.T) {
	if _, err := exec.LookPath("pwsh"); err != nil {
		t.Skip("pwsh not installed")
	}

	_, client := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	require.NoError(t, client.Open(ctx, StartOptions{DefaultTimeout: 30 * time.Second}))
	defer client.Close()

	r, err := client.Execute(ctx, "Write-Output 'remote hello'", 30*time.Second)
	require.NoError(t, err)
	require.True(t, r.Success)
	assert.Contains(t, string(r.Stdout), "remote hello")

	results, err := client.ExecuteBatch(ctx, []string{
		"$x = 2 + 2",
		"Write-Output $x",
	}, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)
	assert.Contains(t, string(results[1].Stdout), "4")
}

// Package anvil runs a local Anvil node for integration tests.
package anvil

import (
	"fmt"
	"math/big"
	"net"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/goran-ethernal/ChainStream/pkg/blockchain"
	"github.com/stretchr/testify/require"
)

// Instance is a running Anvil node. Blocks are only mined on request.
type Instance struct {
	cmd    *exec.Cmd
	URL    string
	Client *ethclient.Client
}

// SkipIfNotAvailable skips the test if anvil is not on the PATH.
func SkipIfNotAvailable(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("anvil"); err != nil {
		t.Skip("anvil not found in PATH, skipping integration test")
	}
}

func freePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "failed to get free port")

	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close(), "failed to close port listener")

	return port
}

// Start starts an Anvil node that is stopped when the test ends.
func Start(t *testing.T) *Instance {
	t.Helper()

	port := freePort(t)
	url := fmt.Sprintf("http://127.0.0.1:%d", port)

	cmd := exec.Command("anvil", "--port", fmt.Sprintf("%d", port), "--silent")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	require.NoError(t, cmd.Start(), "failed to start anvil")

	a := &Instance{cmd: cmd, URL: url}
	t.Cleanup(a.Stop)

	client, err := ethclient.Dial(url)
	require.NoError(t, err, "failed to connect to anvil")
	a.Client = client

	require.Eventually(t, func() bool {
		_, err := client.BlockNumber(t.Context())
		return err == nil
	}, 10*time.Second, 50*time.Millisecond, "anvil did not become ready")

	return a
}

// Stop stops the node.
func (a *Instance) Stop() {
	if a.Client != nil {
		a.Client.Close()
	}
	if a.cmd != nil && a.cmd.Process != nil {
		_ = a.cmd.Process.Kill()
		_ = a.cmd.Wait()
	}
}

// Snapshot records the current chain state.
func (a *Instance) Snapshot(t *testing.T) string {
	t.Helper()

	var id string
	require.NoError(t, a.Client.Client().Call(&id, "evm_snapshot"), "failed to create snapshot")
	return id
}

// Fork reverts the chain to snapshot and moves the clock forward, so blocks mined
// afterwards replace the reverted ones with different hashes.
func (a *Instance) Fork(t *testing.T, snapshot string) {
	t.Helper()

	var ok bool
	require.NoError(t, a.Client.Client().Call(&ok, "evm_revert", snapshot), "failed to revert to snapshot")
	require.True(t, ok, "snapshot revert returned false")

	var offset any
	require.NoError(t, a.Client.Client().Call(&offset, "evm_increaseTime", 60), "failed to increase time")
}

// Mine mines n empty blocks.
func (a *Instance) Mine(t *testing.T, n int) {
	t.Helper()

	for range n {
		var res any
		require.NoError(t, a.Client.Client().Call(&res, "evm_mine"), "failed to mine block")
	}
}

// Ptr returns the pointer of the canonical block at number.
func (a *Instance) Ptr(t *testing.T, number blockchain.BlockNumber) blockchain.BlockPtr {
	t.Helper()

	header, err := a.Client.HeaderByNumber(t.Context(), big.NewInt(int64(number)))
	require.NoError(t, err, "failed to get block %d", number)
	return blockchain.NewBlockPtr(header.Hash(), number)
}

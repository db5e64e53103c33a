package installer

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForExitNoPID(t *testing.T) {
	start := time.Now()
	assert.True(t, WaitForExit(context.Background(), 0, 5*time.Second))
	assert.True(t, WaitForExit(context.Background(), -1, 5*time.Second))
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitForExitTimeout(t *testing.T) {
	// our own process will not exit while we watch it
	exited := WaitForExit(context.Background(), int32(os.Getpid()), 1200*time.Millisecond)
	assert.False(t, exited)
}

func TestWaitForExitChildExits(t *testing.T) {
	cmd := exec.Command(os.Args[0], "-test.run=^$")
	require.NoError(t, cmd.Start())
	pid := int32(cmd.Process.Pid)

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	start := time.Now()
	exited := WaitForExit(context.Background(), pid, 20*time.Second)
	assert.True(t, exited)
	assert.Less(t, time.Since(start), 15*time.Second)

	<-done
}

func TestWaitForExitContextCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 700*time.Millisecond)
	defer cancel()

	exited := WaitForExit(ctx, int32(os.Getpid()), time.Minute)
	assert.False(t, exited)
}

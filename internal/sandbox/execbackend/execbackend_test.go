package execbackend

import (
	"context"
	"testing"
	"time"

	"github.com/devflow-ai/devflow/internal/sandbox"
	"github.com/devflow-ai/devflow/internal/transport"
	"github.com/stretchr/testify/require"
)

func TestRunSpawnStreamsStdoutAndExit(t *testing.T) {
	backend := NewBackend(t.TempDir())
	handle, err := backend.Create(context.Background(), sandbox.CreateOptions{})
	require.NoError(t, err)

	conn, err := handle.Connect(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SendSpawn(transport.SpawnRequest{Cmd: "echo", Args: []string{"hello"}}))

	var stdout []byte
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
loop:
	for {
		select {
		case <-ctx.Done():
			t.Fatal("timed out waiting for exit frame")
		case f, ok := <-conn.Recv():
			if !ok {
				t.Fatal("connection closed before exit frame")
			}
			switch f.Stream {
			case transport.StreamStdout:
				stdout = append(stdout, f.Payload...)
			case transport.StreamExit:
				code, err := transport.DecodeExitCode(f.Payload)
				require.NoError(t, err)
				require.Equal(t, int32(0), code)
				break loop
			}
		}
	}
	require.Contains(t, string(stdout), "hello")
}

func TestRunSpawnForwardsStdin(t *testing.T) {
	backend := NewBackend(t.TempDir())
	handle, err := backend.Create(context.Background(), sandbox.CreateOptions{})
	require.NoError(t, err)

	conn, err := handle.Connect(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SendSpawn(transport.SpawnRequest{Cmd: "cat"}))
	require.NoError(t, conn.SendStdin([]byte("ping\n")))
	require.NoError(t, conn.SendStdinEOF())

	var stdout []byte
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
loop:
	for {
		select {
		case <-ctx.Done():
			t.Fatal("timed out waiting for exit frame")
		case f, ok := <-conn.Recv():
			if !ok {
				t.Fatal("connection closed before exit frame")
			}
			switch f.Stream {
			case transport.StreamStdout:
				stdout = append(stdout, f.Payload...)
			case transport.StreamExit:
				break loop
			}
		}
	}
	require.Equal(t, "ping\n", string(stdout))
}

func TestTeardownRemovesWorkDir(t *testing.T) {
	backend := NewBackend(t.TempDir())
	handle, err := backend.Create(context.Background(), sandbox.CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, handle.Teardown(context.Background()))
}

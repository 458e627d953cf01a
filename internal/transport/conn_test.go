package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnSendRecvAndExit(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	client := NewConn(clientSide)
	server := NewConn(serverSide)
	defer client.Close()
	defer server.Close()

	require.NoError(t, client.SendSpawn(SpawnRequest{Cmd: "echo", Args: []string{"hi"}}))
	spawnFrame := <-server.Recv()
	require.Equal(t, StreamSpawnRequest, spawnFrame.Stream)
	req, err := DecodeSpawnRequest(spawnFrame.Payload)
	require.NoError(t, err)
	require.Equal(t, "echo", req.Cmd)

	require.NoError(t, server.Send(Frame{Stream: StreamStdout, Payload: []byte("hi\n")}))
	out := <-client.Recv()
	require.Equal(t, StreamStdout, out.Stream)
	require.Equal(t, "hi\n", string(out.Payload))

	require.NoError(t, server.SendExit(0))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, err := WaitExit(ctx, client)
	require.NoError(t, err)
	require.Equal(t, int32(0), code)
}

func TestConnSendExitOnlyOnce(t *testing.T) {
	_, serverSide := net.Pipe()
	server := NewConn(serverSide)
	defer server.Close()

	require.NoError(t, server.SendExit(0))
	require.Error(t, server.SendExit(1))
}

func TestConnRejectsStdinAfterEOF(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	client := NewConn(clientSide)
	server := NewConn(serverSide)
	defer client.Close()
	defer server.Close()

	go func() {
		<-server.Recv()
	}()

	require.NoError(t, client.SendStdinEOF())
	require.Error(t, client.SendStdin([]byte("too late")))
}

func TestConnRejectsDisallowedSignal(t *testing.T) {
	_, serverSide := net.Pipe()
	server := NewConn(serverSide)
	defer server.Close()

	require.Error(t, server.SendSignal("SIGUSR1"))
}

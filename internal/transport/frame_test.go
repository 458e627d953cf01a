package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Frame{Stream: StreamStdout, Payload: []byte("hello world")}
	require.NoError(t, WriteFrame(&buf, in))

	out, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, in.Stream, out.Stream)
	require.Equal(t, in.Payload, out.Payload)
}

func TestWriteReadFrameZeroPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Frame{Stream: StreamStdinEOF}))

	out, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, StreamStdinEOF, out.Stream)
	require.Empty(t, out.Payload)
}

func TestExitCodeRoundTrip(t *testing.T) {
	payload := EncodeExitCode(-1)
	code, err := DecodeExitCode(payload)
	require.NoError(t, err)
	require.Equal(t, int32(-1), code)
}

func TestDecodeExitCodeRejectsWrongLength(t *testing.T) {
	_, err := DecodeExitCode([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestSpawnRequestRoundTrip(t *testing.T) {
	req := SpawnRequest{Cmd: "bash", Args: []string{"-c", "echo hi"}, Env: map[string]string{"FOO": "bar"}, Cwd: "/workspace"}
	payload, err := EncodeSpawnRequest(req)
	require.NoError(t, err)

	decoded, err := DecodeSpawnRequest(payload)
	require.NoError(t, err)
	require.Equal(t, req, decoded)
}

func TestDecodeSpawnRequestRejectsMissingCmd(t *testing.T) {
	_, err := DecodeSpawnRequest([]byte(`{"args":["-c"]}`))
	require.Error(t, err)
}

func TestExitCodeForSignal(t *testing.T) {
	cases := map[string]int32{"SIGINT": 130, "SIGTERM": 143, "SIGKILL": 137, "SIGHUP": 129}
	for sig, want := range cases {
		got, ok := ExitCodeForSignal(sig)
		require.True(t, ok)
		require.Equal(t, want, got)
	}

	_, ok := ExitCodeForSignal("SIGUSR1")
	require.False(t, ok)
}

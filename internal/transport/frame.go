// Package transport implements the framed stdio wire protocol that
// drives one sandbox process from a client: a single byte stream ID
// followed by an opaque payload per frame. No example repo ships a
// matching framed multiplexer, so this package is built directly from
// the protocol's byte-exact contract using encoding/binary and plain
// io.Reader/io.Writer, the idiomatic stdlib choice for a narrow framing
// format — the closest corpus kin is the teacher's cursor.Client, whose
// lifecycle idiom (launch/poll/follow-up/stop) internal/sandbox borrows
// instead.
package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// StreamID identifies the logical channel a frame belongs to.
type StreamID byte

const (
	StreamStdout       StreamID = 1
	StreamStderr       StreamID = 2
	StreamStdin        StreamID = 3
	StreamStdinEOF     StreamID = 4
	StreamSignal       StreamID = 5
	StreamExit         StreamID = 6
	StreamSpawnRequest StreamID = 7
)

// Frame is one unit of the wire protocol: a stream ID and its payload.
// Length-prefixing is the caller's responsibility via WriteFrame/ReadFrame.
type Frame struct {
	Stream  StreamID
	Payload []byte
}

// SpawnRequest is the JSON body carried by a StreamSpawnRequest frame.
type SpawnRequest struct {
	Cmd  string            `json:"cmd"`
	Args []string          `json:"args,omitempty"`
	Env  map[string]string `json:"env,omitempty"`
	Cwd  string            `json:"cwd,omitempty"`
}

// maxFrameBytes bounds a single frame payload to guard against a
// malformed length prefix exhausting memory.
const maxFrameBytes = 16 << 20

// WriteFrame packs and writes one frame: [stream_id: u8][len: u32 BE][payload].
func WriteFrame(w io.Writer, f Frame) error {
	if len(f.Payload) > maxFrameBytes {
		return fmt.Errorf("transport: frame payload too large (%d bytes)", len(f.Payload))
	}
	header := make([]byte, 5)
	header[0] = byte(f.Stream)
	binary.BigEndian.PutUint32(header[1:], uint32(len(f.Payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(f.Payload) == 0 {
		return nil
	}
	if _, err := w.Write(f.Payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame unpacks one frame, the inverse of WriteFrame.
func ReadFrame(r io.Reader) (Frame, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(header[1:])
	if n > maxFrameBytes {
		return Frame{}, fmt.Errorf("transport: frame payload too large (%d bytes)", n)
	}
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, fmt.Errorf("read frame payload: %w", err)
		}
	}
	return Frame{Stream: StreamID(header[0]), Payload: payload}, nil
}

// EncodeExitCode packs an exit code as a little-endian signed 32-bit
// payload for a StreamExit frame.
func EncodeExitCode(code int32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(code))
	return buf
}

// DecodeExitCode unpacks a StreamExit frame payload.
func DecodeExitCode(payload []byte) (int32, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("transport: exit payload must be 4 bytes, got %d", len(payload))
	}
	return int32(binary.LittleEndian.Uint32(payload)), nil
}

// EncodeSpawnRequest marshals a spawn request to its JSON wire form.
func EncodeSpawnRequest(req SpawnRequest) ([]byte, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode spawn request: %w", err)
	}
	return b, nil
}

// DecodeSpawnRequest unmarshals a StreamSpawnRequest frame payload.
func DecodeSpawnRequest(payload []byte) (SpawnRequest, error) {
	var req SpawnRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return SpawnRequest{}, fmt.Errorf("decode spawn request: %w", err)
	}
	if req.Cmd == "" {
		return SpawnRequest{}, fmt.Errorf("decode spawn request: missing cmd")
	}
	return req, nil
}

// AllowedSignals is the set of signal names the protocol accepts on a
// StreamSignal frame; anything else is rejected.
var AllowedSignals = map[string]bool{
	"SIGINT":  true,
	"SIGTERM": true,
	"SIGKILL": true,
	"SIGHUP":  true,
}

// ExitCodeForSignal maps a delivered signal to the exit-code contract:
// natural exit preserves the child's code, while these four map to
// 128+signal-number.
func ExitCodeForSignal(name string) (int32, bool) {
	switch name {
	case "SIGHUP":
		return 129, true
	case "SIGINT":
		return 130, true
	case "SIGTERM":
		return 143, true
	case "SIGKILL":
		return 137, true
	default:
		return 0, false
	}
}

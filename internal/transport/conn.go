package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Conn multiplexes frames over one underlying connection (typically a
// sandbox process's stdio pipes bridged to a network socket). Reads are
// owned by a single background goroutine and writes are serialized by a
// mutex; callers use the API below instead of touching the raw stream.
type Conn struct {
	rw io.ReadWriteCloser

	incoming chan Frame
	readErr  chan error

	writeMu sync.Mutex

	exitedMu sync.Mutex
	exited   bool
	eof      bool
}

// NewConn wraps rw and starts its background read loop.
func NewConn(rw io.ReadWriteCloser) *Conn {
	c := &Conn{
		rw:       rw,
		incoming: make(chan Frame, 64),
		readErr:  make(chan error, 1),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	defer close(c.incoming)
	for {
		f, err := ReadFrame(c.rw)
		if err != nil {
			c.readErr <- err
			return
		}
		c.incoming <- f
	}
}

// Recv returns the channel of frames read from the peer. The channel is
// closed when the connection's read side ends; call Err afterward to
// distinguish a clean close from a read failure.
func (c *Conn) Recv() <-chan Frame { return c.incoming }

// Err returns the error that ended the read loop, or nil if it ended
// because the peer closed cleanly (io.EOF).
func (c *Conn) Err() error {
	select {
	case err := <-c.readErr:
		if err == io.EOF {
			return nil
		}
		return err
	default:
		return nil
	}
}

// Send writes one frame, serializing concurrent writers.
func (c *Conn) Send(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteFrame(c.rw, f)
}

// SendStdin writes a stdin-data frame, rejecting the write once EOF has
// already been sent on this connection.
func (c *Conn) SendStdin(data []byte) error {
	c.exitedMu.Lock()
	eof := c.eof
	c.exitedMu.Unlock()
	if eof {
		return fmt.Errorf("transport: stdin write after EOF")
	}
	return c.Send(Frame{Stream: StreamStdin, Payload: data})
}

// SendStdinEOF marks stdin closed; subsequent SendStdin calls fail.
func (c *Conn) SendStdinEOF() error {
	c.exitedMu.Lock()
	c.eof = true
	c.exitedMu.Unlock()
	return c.Send(Frame{Stream: StreamStdinEOF})
}

// SendSignal delivers a signal by name, rejecting names outside
// AllowedSignals.
func (c *Conn) SendSignal(name string) error {
	if !AllowedSignals[name] {
		return fmt.Errorf("transport: signal %q not permitted", name)
	}
	return c.Send(Frame{Stream: StreamSignal, Payload: []byte(name)})
}

// SendSpawn requests a new process be started on this connection.
func (c *Conn) SendSpawn(req SpawnRequest) error {
	payload, err := EncodeSpawnRequest(req)
	if err != nil {
		return err
	}
	return c.Send(Frame{Stream: StreamSpawnRequest, Payload: payload})
}

// SendExit emits the exit frame for the process driven by this
// connection. Callers must ensure this is sent at most once and only
// after all pending stdout/stderr frames have been written, per the
// protocol's ordering contract.
func (c *Conn) SendExit(code int32) error {
	c.exitedMu.Lock()
	if c.exited {
		c.exitedMu.Unlock()
		return fmt.Errorf("transport: exit already sent")
	}
	c.exited = true
	c.exitedMu.Unlock()
	return c.Send(Frame{Stream: StreamExit, Payload: EncodeExitCode(code)})
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.rw.Close() }

// WaitExit blocks until an exit frame arrives, the connection closes, or
// ctx is cancelled, returning the decoded exit code.
func WaitExit(ctx context.Context, c *Conn) (int32, error) {
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case f, ok := <-c.Recv():
			if !ok {
				if err := c.Err(); err != nil {
					return 0, err
				}
				return 0, fmt.Errorf("transport: connection closed before exit frame")
			}
			if f.Stream == StreamExit {
				return DecodeExitCode(f.Payload)
			}
		}
	}
}

package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

const maxLineSize = 1 << 20

type readResult struct {
	line []byte
	err  error
}

// StreamConn exchanges newline-delimited JSON messages over a reader and a
// writer, such as a child process's stdin and stdout.
type StreamConn struct {
	w       io.Writer
	closers []io.Closer

	writeMu sync.Mutex
	lines   chan readResult
	done    chan struct{}
	once    sync.Once
}

// NewStreamConn starts reading r in the background. Any of r and w that are
// io.Closers are closed by Close.
func NewStreamConn(r io.Reader, w io.Writer) *StreamConn {
	c := &StreamConn{
		w:     w,
		lines: make(chan readResult),
		done:  make(chan struct{}),
	}
	for _, v := range []interface{}{r, w} {
		if closer, ok := v.(io.Closer); ok {
			c.closers = append(c.closers, closer)
		}
	}
	go c.readLoop(r)
	return c
}

func (c *StreamConn) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}
		select {
		case c.lines <- readResult{line: line}:
		case <-c.done:
			return
		}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case c.lines <- readResult{err: err}:
	case <-c.done:
	}
}

// Send writes one message line
func (c *StreamConn) Send(ctx context.Context, method string, params interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	msg, err := NewMessage(method, params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", method, err)
	}
	return nil
}

// Receive returns the next message
func (c *StreamConn) Receive(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-c.done:
		return Message{}, ErrClosed
	case res, ok := <-c.lines:
		if !ok {
			return Message{}, io.EOF
		}
		if res.err != nil {
			close(c.lines)
			return Message{}, res.err
		}
		var msg Message
		if err := json.Unmarshal(res.line, &msg); err != nil || msg.Method == "" {
			return Message{}, fmt.Errorf("%w: %q", ErrMalformedMessage, truncate(res.line, 120))
		}
		return msg, nil
	}
}

// Close stops reading and closes the underlying streams
func (c *StreamConn) Close() error {
	var firstErr error
	c.once.Do(func() {
		close(c.done)
		for _, closer := range c.closers {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

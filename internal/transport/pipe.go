package transport

import (
	"context"
	"io"
	"sync"
)

const pipeBuffer = 64

// pipeEnd is one side of an in-process connection
type pipeEnd struct {
	in       <-chan Message
	out      chan<- Message
	done     chan struct{}
	peerDone <-chan struct{}
	once     sync.Once
}

// Pipe returns two connected in-process connections
func Pipe() (Conn, Conn) {
	aToB := make(chan Message, pipeBuffer)
	bToA := make(chan Message, pipeBuffer)
	aDone := make(chan struct{})
	bDone := make(chan struct{})

	a := &pipeEnd{in: bToA, out: aToB, done: aDone, peerDone: bDone}
	b := &pipeEnd{in: aToB, out: bToA, done: bDone, peerDone: aDone}
	return a, b
}

func (p *pipeEnd) Send(ctx context.Context, method string, params interface{}) error {
	select {
	case <-p.done:
		return ErrClosed
	case <-p.peerDone:
		return ErrClosed
	default:
	}

	msg, err := NewMessage(method, params)
	if err != nil {
		return err
	}
	select {
	case p.out <- msg:
		return nil
	case <-p.done:
		return ErrClosed
	case <-p.peerDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.done:
		return Message{}, ErrClosed
	case <-p.peerDone:
		// deliver whatever the peer sent before closing
		select {
		case msg := <-p.in:
			return msg, nil
		default:
			return Message{}, io.EOF
		}
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

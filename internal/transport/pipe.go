package transport

import (
	"context"
	"sync"
)

const pipeBuffer = 256

type pipeState struct {
	once     sync.Once
	done     chan struct{}
	closeErr *CloseError
}

func (s *pipeState) close(ce *CloseError) {
	s.once.Do(func() {
		s.closeErr = ce
		close(s.done)
	})
}

// PipeConn is one end of an in-memory Conn pair. Messages sent on one end are
// received on the other in order.
type PipeConn struct {
	in    chan Message
	out   chan Message
	state *pipeState
}

func NewPipe() (*PipeConn, *PipeConn) {
	a2b := make(chan Message, pipeBuffer)
	b2a := make(chan Message, pipeBuffer)
	state := &pipeState{done: make(chan struct{})}
	return &PipeConn{in: b2a, out: a2b, state: state},
		&PipeConn{in: a2b, out: b2a, state: state}
}

func (p *PipeConn) Send(ctx context.Context, msg Message) error {
	select {
	case <-p.state.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- msg:
		return nil
	case <-p.state.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PipeConn) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.state.done:
		select {
		case msg := <-p.in:
			return msg, nil
		default:
			return Message{}, p.state.closeErr
		}
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (p *PipeConn) Close(code int, reason string) error {
	p.state.close(&CloseError{Code: code, Reason: reason, Clean: IsCleanCode(code)})
	return nil
}

// Abort ends the pair as an abrupt disconnect.
func (p *PipeConn) Abort(reason string) {
	p.state.close(&CloseError{Code: CloseAbnormal, Reason: reason})
}

func (p *PipeConn) Done() <-chan struct{} {
	return p.state.done
}

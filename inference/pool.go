package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Pool hands out ONNX sessions for concurrent detection. Each session runs
// one image at a time, so the pool size bounds detector parallelism.
type Pool struct {
	sessions  chan *Session
	modelPath string
	inputSize int
	size      int
	mu        sync.Mutex
	closed    bool
}

// NewPool creates size sessions of the model at modelPath.
func NewPool(modelPath string, size, inputSize int) (*Pool, error) {
	if size <= 0 {
		size = 1
	}
	if inputSize <= 0 {
		inputSize = DefaultInputSize
	}

	pool := &Pool{
		sessions:  make(chan *Session, size),
		modelPath: modelPath,
		inputSize: inputSize,
		size:      size,
	}

	for i := 0; i < size; i++ {
		session, err := NewSession(modelPath, inputSize)
		if err != nil {
			_ = pool.Close() // original error takes precedence
			return nil, fmt.Errorf("creating session %d: %w", i, err)
		}
		pool.sessions <- session
	}

	return pool, nil
}

// Acquire takes a session, blocking until one is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	select {
	case session, ok := <-p.sessions:
		if !ok {
			return nil, ErrPoolClosed
		}
		return session, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a session to the pool.
func (p *Pool) Release(s *Session) {
	if s == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Sending under the lock keeps Close from closing the channel mid-send.
	if p.closed {
		_ = s.Close()
		return
	}
	select {
	case p.sessions <- s:
	default:
		_ = s.Close() // pool full
	}
}

// Infer runs input on the next free session.
func (p *Pool) Infer(ctx context.Context, input []float32) (Output, error) {
	session, err := p.Acquire(ctx)
	if err != nil {
		return Output{}, err
	}
	defer p.Release(session)
	return session.Infer(ctx, input)
}

// InputSize returns the square input edge shared by every session.
func (p *Pool) InputSize() int {
	return p.inputSize
}

// Close closes all idle sessions. Sessions still checked out are closed on
// Release.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.sessions)

	var errs []error
	for session := range p.sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Size returns the pool size.
func (p *Pool) Size() int {
	return p.size
}

package comm

import (
	"io"
	"sync"
	"time"
)

// Pool is a communication pool which holds one or more connections to a device
// that will be closed if they are not in use, and re-opened as needed.
// it is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	maxSize int                     // maximum number of connections, == cap(conns)
	onLease int                     // number of connections given out, <= maxSize
	timeout time.Duration           // idle time after every conn is returned before all are freed
	conns   chan io.ReadWriteCloser // idle connections
	timer   *time.Timer             // fires reclaim after the pool goes idle
	maker   CreationFunc

	mu   sync.Mutex
	cond *sync.Cond // signalled whenever a conn is returned or a lease is freed
}

// NewPool creates a new pool of at most maxSize connections made by maker
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	if maxSize < 1 {
		maxSize = 1
	}
	p := &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		maker:   maker,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Get retrieves a communicator from the pool, blocking until one is
// available if all are in use.  It is guaranteed that there is no contention
// for the ReadWriter.  The consumer should not attempt to cast it to its
// concrete type and use it outside this interface.
//
// When done with the communicator, return it with Put(), or discard it with
// Destroy() if it has become no good (e.g., all calls error).
// ReturnWithError chooses between the two.
//
// If the error from Get is not nil, you must not return it to the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
	}
	for {
		select {
		case c := <-p.conns:
			p.onLease++
			p.mu.Unlock()
			return c, nil
		default:
		}
		if p.onLease < p.maxSize {
			break
		}
		// all are given out, wait for one to come back or be destroyed
		p.cond.Wait()
	}

	// reserve the slot before dialing so concurrent Gets cannot overshoot
	p.onLease++
	p.mu.Unlock()
	c, err := p.maker()
	if err != nil {
		p.release()
		return nil, err
	}
	return c, nil
}

// Put restores a communicator to the pool.  It may be reused, or will be
// automatically freed after all connections are returned and the timeout
// has elapsed.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLease--
	p.conns <- rwc
	if p.onLease == 0 {
		p.startReclaim()
	}
	p.cond.Signal()
}

// Destroy immediately frees a communicator from the pool.  This should be used
// instead of Put if the communicator has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	if rwc, ok := rw.(io.Closer); ok {
		rwc.Close()
	}
	p.release()
}

// release gives up a lease without returning a connection, letting a waiting
// Get dial a fresh one
func (p *Pool) release() {
	p.mu.Lock()
	p.onLease--
	p.cond.Signal()
	p.mu.Unlock()
}

// ReturnWithError returns rw to the pool with Put if err is nil, otherwise it
// is destroyed.  A connection that saw an error (a timeout, a half-read
// response) may be out of step with the device and is not reused.
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if err != nil {
		p.Destroy(rw)
		return
	}
	p.Put(rw)
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns) + p.onLease
}

// Active returns the number of connections owned by the pool that are currently
// given out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

// Close frees every idle connection now
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.drain()
}

// startReclaim arms the idle timer; p.mu must be held
func (p *Pool) startReclaim() {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.timeout, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.onLease == 0 {
			p.drain()
		}
	})
}

// drain closes every idle connection; p.mu must be held
func (p *Pool) drain() {
	for {
		select {
		case c := <-p.conns:
			c.Close()
		default:
			return
		}
	}
}

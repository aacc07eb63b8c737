package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrPoolExhausted is returned by Acquire when every handle is checked out.
	ErrPoolExhausted = errors.New("connection pool exhausted")
	// ErrPoolClosed is returned once the pool has been closed.
	ErrPoolClosed = errors.New("connection pool closed")
	// ErrNotCheckedOut is returned when releasing a handle the pool did not hand out.
	ErrNotCheckedOut = errors.New("connection not checked out from pool")
)

// Opener opens one dedicated database connection.
type Opener func(ctx context.Context) (*sql.Conn, error)

// SQLOpener checks dedicated connections out of db.
func SQLOpener(db *sql.DB) Opener {
	return func(ctx context.Context) (*sql.Conn, error) {
		return db.Conn(ctx)
	}
}

// PoolStats is a point-in-time snapshot of the pool.
type PoolStats struct {
	Capacity  int
	Idle      int
	InUse     int
	Exhausted uint64
}

// ConnPool is a fixed-size set of live connections. Acquire never blocks:
// an empty idle set is reported as ErrPoolExhausted.
type ConnPool struct {
	mu        sync.Mutex
	capacity  int
	idle      []*sql.Conn
	inUse     map[*sql.Conn]struct{}
	exhausted uint64
	closed    bool
}

// NewConnPool eagerly opens capacity connections. If any of them fails the
// already opened ones are closed and the error is returned.
func NewConnPool(ctx context.Context, capacity int, open Opener) (*ConnPool, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("pool capacity must be positive, got %d", capacity)
	}
	if open == nil {
		return nil, errors.New("pool opener is required")
	}

	idle := make([]*sql.Conn, 0, capacity)
	for i := 0; i < capacity; i++ {
		conn, err := open(ctx)
		if err == nil && conn == nil {
			err = errors.New("opener returned nil connection")
		}
		if err != nil {
			for _, c := range idle {
				_ = c.Close()
			}
			return nil, fmt.Errorf("open connection %d/%d: %w", i+1, capacity, err)
		}
		idle = append(idle, conn)
	}

	return &ConnPool{
		capacity: capacity,
		idle:     idle,
		inUse:    make(map[*sql.Conn]struct{}, capacity),
	}, nil
}

// Acquire removes one handle from the idle set.
func (p *ConnPool) Acquire() (*sql.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	n := len(p.idle)
	if n == 0 {
		p.exhausted++
		return nil, ErrPoolExhausted
	}
	conn := p.idle[n-1]
	p.idle[n-1] = nil
	p.idle = p.idle[:n-1]
	p.inUse[conn] = struct{}{}
	return conn, nil
}

// Release hands a checked-out connection back to the idle set. After Close
// the connection is closed instead.
func (p *ConnPool) Release(conn *sql.Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.inUse[conn]; !ok {
		return ErrNotCheckedOut
	}
	delete(p.inUse, conn)
	if p.closed {
		return conn.Close()
	}
	p.idle = append(p.idle, conn)
	return nil
}

// Stats reports the current pool occupancy.
func (p *ConnPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Capacity:  p.capacity,
		Idle:      len(p.idle),
		InUse:     len(p.inUse),
		Exhausted: p.exhausted,
	}
}

// Ping checks one idle connection for liveness.
func (p *ConnPool) Ping(ctx context.Context) error {
	if p == nil {
		return errors.New("connection pool not configured")
	}
	conn, err := p.Acquire()
	if err != nil {
		return err
	}
	defer p.Release(conn) //nolint:errcheck
	return conn.PingContext(ctx)
}

// Close closes idle connections; outstanding ones are closed on Release.
func (p *ConnPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for _, conn := range p.idle {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.idle = nil
	return errors.Join(errs...)
}

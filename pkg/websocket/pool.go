package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Pool errors
var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrPoolClosed         = errors.New("pool closed")
)

// Pool tracks open connections by id.
type Pool struct {
	// connections is a map of connection IDs to connections.
	connections map[string]*Connection

	// closed indicates whether the pool is closed.
	closed bool

	mutex sync.RWMutex
}

// NewPool creates a new connection pool.
func NewPool() *Pool {
	return &Pool{
		connections: make(map[string]*Connection),
	}
}

// Add adds a connection to the pool.
func (p *Pool) Add(id string, conn *Connection) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.closed {
		return ErrPoolClosed
	}

	p.connections[id] = conn
	return nil
}

// Remove removes a connection from the pool.
func (p *Pool) Remove(id string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if _, ok := p.connections[id]; !ok {
		return ErrConnectionNotFound
	}

	delete(p.connections, id)
	return nil
}

// Count returns the number of tracked connections.
func (p *Pool) Count() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return len(p.connections)
}

// Close sends a going-away close frame to every connection, closes them and
// refuses further additions.
func (p *Pool) Close() error {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return nil
	}
	p.closed = true
	conns := p.connections
	p.connections = make(map[string]*Connection)
	p.mutex.Unlock()

	var errs []error
	for _, conn := range conns {
		if err := conn.CloseWithReason(websocket.CloseGoingAway, "server shutting down", time.Second); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

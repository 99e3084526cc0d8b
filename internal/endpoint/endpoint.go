// Package endpoint implements the named attachment point through which
// connections reach a bus: a bus always owns a default "bus" endpoint,
// which carries its own policy flag and access mode. The bus package
// creates no endpoints other than that default one.
package endpoint

import (
	"sync"

	"github.com/amigadave/kdbus/internal/connection"
	"github.com/amigadave/kdbus/internal/lifecycle"
)

// Endpoint is one access point into a bus.
type Endpoint struct {
	state *lifecycle.State

	mu sync.RWMutex

	name       string
	mode       uint32
	uid        uint32
	gid        uint32
	policyOpen bool

	conns map[uint64]*connection.Connection
}

// New creates an endpoint. policyOpen disables per-connection policy
// enforcement, matching the bus's KDBUS_POLICY_OPEN flag.
func New(name string, mode, uid, gid uint32, policyOpen bool) *Endpoint {
	return &Endpoint{
		state:      lifecycle.New(),
		name:       name,
		mode:       mode,
		uid:        uid,
		gid:        gid,
		policyOpen: policyOpen,
		conns:      make(map[uint64]*connection.Connection),
	}
}

// Name returns the endpoint's name ("bus" for a bus's default endpoint).
func (e *Endpoint) Name() string { return e.name }

// PolicyOpen reports whether this endpoint skips per-connection policy
// checks.
func (e *Endpoint) PolicyOpen() bool { return e.policyOpen }

// Mode returns the socket-file access mode for this endpoint.
func (e *Endpoint) Mode() uint32 { return e.mode }

// Disconnected reports whether the endpoint has already begun teardown.
func (e *Endpoint) Disconnected() bool { return e.state.Disconnected() }

// Acquire takes a reference on the endpoint.
func (e *Endpoint) Acquire() { e.state.Acquire() }

// Attach registers a connection as reachable through this endpoint.
func (e *Endpoint) Attach(conn *connection.Connection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conns[conn.ID()] = conn
}

// Detach removes a connection from this endpoint's set.
func (e *Endpoint) Detach(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.conns, id)
}

// Connections returns a snapshot of the connections currently attached
// through this endpoint.
func (e *Endpoint) Connections() []*connection.Connection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*connection.Connection, 0, len(e.conns))
	for _, c := range e.conns {
		out = append(out, c)
	}
	return out
}

// Disconnect tears down every connection still attached to this endpoint,
// then marks it torn down itself. It is idempotent.
func (e *Endpoint) Disconnect(releaseNames func(conn *connection.Connection, owned []string)) {
	lifecycle.Disconnect(e.state, nil, func() {
		for _, c := range e.Connections() {
			c.Disconnect(func(owned []string) {
				if releaseNames != nil {
					releaseNames(c, owned)
				}
			})
		}
	})
}

// Release drops a reference to e, disconnecting it once the refcount
// reaches zero.
func (e *Endpoint) Release(releaseNames func(conn *connection.Connection, owned []string)) {
	lifecycle.Release(e.state, func() {
		e.Disconnect(releaseNames)
	}, nil)
}

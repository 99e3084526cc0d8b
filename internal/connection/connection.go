// Package connection implements the per-client handle a process holds on a
// bus: an id, an optional set of owned well-known names, and the attach-mask
// it requested for metadata.
package connection

import (
	"sync"

	"github.com/amigadave/kdbus/internal/lifecycle"
)

// Connection is one client's attachment to a bus.
type Connection struct {
	state *lifecycle.State

	mu sync.RWMutex

	id   uint64
	name string // optional unique connection name, e.g. for activators

	ownedNames []string

	// attachFlags is the attach-mask the connection requested for
	// metadata delivered on messages it receives.
	attachFlags uint64
}

// New returns a connection with the given bus-scoped id.
func New(id uint64, attachFlags uint64) *Connection {
	return &Connection{
		state:       lifecycle.New(),
		id:          id,
		attachFlags: attachFlags,
	}
}

// ID returns the connection's bus-scoped id. Id 0 is reserved for the bus
// itself and is never assigned to a client connection.
func (c *Connection) ID() uint64 { return c.id }

// Name returns the connection's optional debug/monitor label.
func (c *Connection) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// SetName sets the connection's optional debug/monitor label.
func (c *Connection) SetName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
}

// AttachFlags returns the attach-mask this connection requested.
func (c *Connection) AttachFlags() uint64 { return c.attachFlags }

// Disconnected reports whether the connection has already begun teardown.
func (c *Connection) Disconnected() bool { return c.state.Disconnected() }

// Acquire takes a reference on the connection.
func (c *Connection) Acquire() { c.state.Acquire() }

// AddOwnedName records that this connection owns name, used so that
// disconnect can release every name the connection still holds.
func (c *Connection) AddOwnedName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ownedNames = append(c.ownedNames, name)
}

// RemoveOwnedName removes name from the connection's owned-name list.
func (c *Connection) RemoveOwnedName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, n := range c.ownedNames {
		if n == name {
			c.ownedNames = append(c.ownedNames[:i], c.ownedNames[i+1:]...)
			return
		}
	}
}

// OwnedNames returns a snapshot of the names this connection currently
// owns.
func (c *Connection) OwnedNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.ownedNames))
	copy(out, c.ownedNames)
	return out
}

// Disconnect marks the connection as torn down. releaseNames is called
// exactly once, with no lock of the connection held, to let the caller
// release every owned name from the bus's name registry.
func (c *Connection) Disconnect(releaseNames func(owned []string)) {
	lifecycle.Disconnect(c.state, nil, func() {
		if releaseNames != nil {
			releaseNames(c.OwnedNames())
		}
	})
}

// Release drops a reference to c, disconnecting it once the refcount
// reaches zero.
func (c *Connection) Release(releaseNames func(owned []string)) {
	lifecycle.Release(c.state, func() {
		c.Disconnect(releaseNames)
	}, nil)
}

// Package bus implements the bus object: a named message-routing domain
// owned by exactly one namespace, with its own connection table, endpoint
// list and well-known name registry.
package bus

import (
	"fmt"
	"strconv"
	"sync"

	cerrors "github.com/amigadave/kdbus/errors"
	"github.com/amigadave/kdbus/internal/connection"
	"github.com/amigadave/kdbus/internal/endpoint"
	"github.com/amigadave/kdbus/internal/lifecycle"
	"github.com/amigadave/kdbus/internal/registry"
	"github.com/amigadave/kdbus/logging"
)

const (
	// MinBloomSize and MaxBloomSize bound a bus's bloom filter size, used
	// for coarse message-match filtering.
	MinBloomSize = 8
	MaxBloomSize = 16 * 1024

	// PolicyOpen disables per-connection policy checks on the bus's
	// default endpoint, mirroring the KDBUS_POLICY_OPEN make-bus flag.
	PolicyOpen uint64 = 1 << 0
)

// Bus is one message-routing domain.
type Bus struct {
	state *lifecycle.State

	mu sync.RWMutex

	id        uint64
	name      string
	namespace string // owning namespace devpath, for logging only
	flags     uint64
	bloomSize uint64
	cgroupID  uint64

	nextConnID uint64
	conns      map[uint64]*connection.Connection

	endpoints []*endpoint.Endpoint
	names     *registry.NameRegistry

	unlink func() // removes this bus from its namespace's list
}

// MakeRequest is the validated payload of a make-bus command, produced by
// the command package's TLV parser.
type MakeRequest struct {
	Name      string
	Flags     uint64
	BloomSize uint64
	CgroupID  uint64
}

// New creates a bus named req.Name under a namespace whose devpath is
// nsDevpath, enforcing that the name is prefixed with the creating user's
// uid. unlink is invoked exactly once, during disconnect, to remove the
// bus from the owning namespace's list.
func New(nsDevpath string, uid uint32, req MakeRequest, mode uint32, gid uint32, unlink func()) (*Bus, error) {
	prefix := strconv.FormatUint(uint64(uid), 10) + "-"
	if len(req.Name) < len(prefix) || req.Name[:len(prefix)] != prefix {
		return nil, cerrors.ErrBusNamePrefix
	}

	if req.BloomSize < MinBloomSize || req.BloomSize > MaxBloomSize || req.BloomSize%8 != 0 {
		return nil, cerrors.ErrBloomSize
	}

	b := &Bus{
		state:      lifecycle.New(),
		name:       req.Name,
		namespace:  nsDevpath,
		flags:      req.Flags,
		bloomSize:  req.BloomSize,
		cgroupID:   req.CgroupID,
		nextConnID: 1, // connection 0 is reserved for the bus itself
		conns:      make(map[uint64]*connection.Connection),
		names:      registry.New(),
		unlink:     unlink,
	}

	defaultEP := endpoint.New("bus", mode, uid, gid, b.flags&PolicyOpen != 0)
	b.endpoints = append(b.endpoints, defaultEP)

	logging.WithBus(logging.Default(), b.name).Info(
		"created bus", "id", b.id, "bloom_size", b.bloomSize)

	return b, nil
}

// Name returns the bus's full "<uid>-..." name.
func (b *Bus) Name() string { return b.name }

// ID returns the bus's namespace-scoped sequence id.
func (b *Bus) ID() uint64 { return b.id }

// SetID assigns the namespace-scoped id. The broker calls it once, after
// the bus has been registered in its namespace; b's own lock is not taken.
func (b *Bus) SetID(id uint64) { b.id = id }

// BloomSize returns the bus's configured bloom filter size in bytes.
func (b *Bus) BloomSize() uint64 { return b.bloomSize }

// Flags returns the make-bus flags the bus was created with.
func (b *Bus) Flags() uint64 { return b.flags }

// NameRegistry returns the bus's well-known name registry.
func (b *Bus) NameRegistry() *registry.NameRegistry { return b.names }

// Endpoints returns a snapshot of the bus's endpoints.
func (b *Bus) Endpoints() []*endpoint.Endpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*endpoint.Endpoint, len(b.endpoints))
	copy(out, b.endpoints)
	return out
}

// Disconnected reports whether the bus has already begun teardown.
func (b *Bus) Disconnected() bool { return b.state.Disconnected() }

// Acquire takes a reference on the bus.
func (b *Bus) Acquire() { b.state.Acquire() }

// NewConnection allocates a connection with the next monotonic id on this
// bus and registers it in the bus's connection table and default
// endpoint.
func (b *Bus) NewConnection(attachFlags uint64) *connection.Connection {
	b.mu.Lock()
	id := b.nextConnID
	b.nextConnID++
	conn := connection.New(id, attachFlags)
	b.conns[id] = conn
	ep := b.endpoints[0]
	b.mu.Unlock()

	ep.Attach(conn)
	return conn
}

// FindConnByID returns the connection with the given id, or nil.
func (b *Bus) FindConnByID(id uint64) *connection.Connection {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conns[id]
}

// unlinkConn removes a connection from the bus's table, called from the
// connection's own disconnect path.
func (b *Bus) unlinkConn(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, id)
}

// DisconnectConn tears down the connection identified by id, releasing
// every well-known name it owns and removing it from the bus's table.
func (b *Bus) DisconnectConn(id uint64) {
	conn := b.FindConnByID(id)
	if conn == nil {
		return
	}
	conn.Disconnect(func(owned []string) {
		for _, n := range owned {
			b.names.Release(n, id)
		}
		b.unlinkConn(id)
	})
}

// Disconnect tears down the bus: every endpoint (and through it, every
// connection) is disconnected, the bus is unlinked from its namespace,
// and the bus is marked as failing further operations. It is idempotent.
func (b *Bus) Disconnect() {
	lifecycle.Disconnect(b.state, b.unlink, func() {
		for _, ep := range b.Endpoints() {
			ep.Disconnect(func(conn *connection.Connection, owned []string) {
				for _, n := range owned {
					b.names.Release(n, conn.ID())
				}
			})
		}
		logging.WithBus(logging.Default(), b.name).Info("closing bus")
	})
}

// Release drops a reference to b, disconnecting and freeing it once the
// refcount reaches zero.
func (b *Bus) Release() {
	lifecycle.Release(b.state, b.Disconnect, func() {
		logging.WithBus(logging.Default(), b.name).Info("released bus")
	})
}

// String implements fmt.Stringer for log-friendly identification.
func (b *Bus) String() string {
	return fmt.Sprintf("%s/%s", b.namespace, b.name)
}

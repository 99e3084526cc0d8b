// Package namespace implements the top-level isolation container in the bus
// object graph. A namespace owns a list of buses and a control-socket path;
// namespaces nest under a parent to give callers in different containers or
// network namespaces their own private bus directories.
package namespace

import (
	"fmt"
	"sync"

	cerrors "github.com/amigadave/kdbus/errors"
	"github.com/amigadave/kdbus/internal/lifecycle"
	"github.com/amigadave/kdbus/logging"
)

// rootDevpath is the control-socket directory for the initial namespace.
const rootDevpath = "kdbus"

// Namespace is one node in the namespace tree. The root namespace has
// Parent == nil and Name == "". Every other namespace has both set.
type Namespace struct {
	state *lifecycle.State

	// mu guards busList, busNames and nextBusID. It is acquired inside
	// the subsystem lock and outside any Bus's own lock.
	mu sync.RWMutex

	id       uint64
	name     string
	devpath  string
	parent   *Namespace
	busList  []*BusRef
	busNames map[string]struct{}
	nextBusID uint64

	// controlPath is the path of this namespace's control socket,
	// registered at mode 0666 (world-accessible) matching the control
	// device node in the kernel implementation this is descended from.
	controlPath string
}

// BusRef is the narrow view the namespace keeps of a bus it owns, so that
// this package does not import the bus package: the bus package stores only
// its owning namespace's devpath, and this package only needs to be able to
// disconnect a bus and ask whether it is already disconnected.
// Unlink is the bus's own disconnect entry point (which in turn removes the
// bus from this namespace's list via UnlinkBus), not a direct list removal.
type BusRef struct {
	Name         string
	Disconnected func() bool
	Unlink       func()
}

// Manager owns the global namespace list and the id sequence, mirroring the
// single subsystem-wide lock guarding namespace creation and lookup.
type Manager struct {
	mu         sync.Mutex
	namespaces []*Namespace
	nextNsID   uint64
	majorIndex majorIndex
}

// majorIndex allocates the bus-minor-number-equivalent space each namespace
// needs reserved for its control socket. The kernel implementation this is
// descended from multiplexes (major, minor) device numbers across a global
// idr; this Go broker instead reserves a unique integer per namespace from a
// monotonic counter, which is all the userspace control-socket scheme needs.
type majorIndex struct {
	next uint64
}

func (m *majorIndex) allocate() uint64 {
	m.next++
	return m.next
}

// NewManager returns an empty namespace manager with no root namespace yet.
func NewManager() *Manager {
	return &Manager{}
}

// New creates a namespace. Parent and name must be supplied together or not
// at all: a nil parent and empty name creates the root namespace; a non-nil
// parent requires a non-empty name and creates a child namespace nested
// under it.
func (m *Manager) New(parent *Namespace, name string) (*Namespace, error) {
	if (parent != nil) == (name == "") {
		return nil, cerrors.ErrNamespaceArgs
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.findLocked(parent, name); existing != nil {
		return nil, cerrors.ErrNamespaceExists
	}

	ns := &Namespace{
		state:    lifecycle.New(),
		name:     name,
		parent:   parent,
		busNames: make(map[string]struct{}),
	}

	if parent == nil {
		ns.devpath = rootDevpath
	} else {
		ns.devpath = fmt.Sprintf("%s/ns/%s/%s", rootDevpath, parent.devpath, name)
	}

	ns.id = m.nextNsID
	m.nextNsID++

	minor := m.majorIndex.allocate()
	ns.controlPath = fmt.Sprintf("%s/%d/control", ns.devpath, minor)

	m.namespaces = append(m.namespaces, ns)

	logging.WithNamespace(logging.Default(), ns.devpath).Info(
		"created namespace", "id", ns.id, "control", ns.controlPath)

	return ns, nil
}

// find returns the live namespace matching (parent, name) without taking a
// reference, or nil. find takes m.mu itself; New, which already holds m.mu,
// calls findLocked instead to avoid self-deadlock.
func (m *Manager) find(parent *Namespace, name string) *Namespace {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(parent, name)
}

func (m *Manager) findLocked(parent *Namespace, name string) *Namespace {
	for _, n := range m.namespaces {
		if n.parent != parent {
			continue
		}
		if n.name != name {
			continue
		}
		if n.Disconnected() {
			continue
		}
		return n
	}
	return nil
}

// Find looks up a namespace by (parent, name). It returns nil if no live
// namespace matches.
func (m *Manager) Find(parent *Namespace, name string) *Namespace {
	return m.find(parent, name)
}

// ID returns the namespace's sequence id.
func (ns *Namespace) ID() uint64 { return ns.id }

// Name returns the namespace's leaf name ("" for the root namespace).
func (ns *Namespace) Name() string { return ns.name }

// Devpath returns the control-socket directory for this namespace.
func (ns *Namespace) Devpath() string { return ns.devpath }

// ControlPath returns the path of this namespace's control socket.
func (ns *Namespace) ControlPath() string { return ns.controlPath }

// Parent returns the owning namespace, or nil for the root.
func (ns *Namespace) Parent() *Namespace { return ns.parent }

// Disconnected reports whether this namespace has already begun teardown.
func (ns *Namespace) Disconnected() bool { return ns.state.Disconnected() }

// Acquire takes a reference on the namespace.
func (ns *Namespace) Acquire() { ns.state.Acquire() }

// NextBusID returns the next id to assign to a bus created under this
// namespace. Ids start at 1 and are strictly monotonic: 0 is reserved and
// never reused, matching the reserved broker-address id in the wire
// protocol this namespace's buses speak.
func (ns *Namespace) NextBusID() uint64 {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.nextBusID++
	return ns.nextBusID
}

// RegisterBus adds a bus to this namespace's list and reserves its name.
// It returns ErrBusExists if the name is already taken by a live bus.
func (ns *Namespace) RegisterBus(ref *BusRef) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if _, taken := ns.busNames[ref.Name]; taken {
		return cerrors.ErrBusExists
	}

	ns.busNames[ref.Name] = struct{}{}
	ns.busList = append(ns.busList, ref)
	return nil
}

// UnlinkBus removes a bus from this namespace's list and frees its name,
// called from the bus's own disconnect path with no bus lock held.
func (ns *Namespace) UnlinkBus(name string) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	delete(ns.busNames, name)
	for i, b := range ns.busList {
		if b.Name == name {
			ns.busList = append(ns.busList[:i], ns.busList[i+1:]...)
			break
		}
	}
}

// Buses returns a snapshot of the currently registered bus references.
func (ns *Namespace) Buses() []*BusRef {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	out := make([]*BusRef, len(ns.busList))
	copy(out, ns.busList)
	return out
}

// Disconnect tears down the namespace: it removes the namespace from its
// manager's list, disconnects every bus still registered, and marks every
// namespace operation on it as failing from this point on. It is
// idempotent. It does not unregister a control socket (the namespace holds
// only the socket's path; the socket belongs to whoever registered it), and
// it does not return the namespace's number to the majorIndex counter.
func (m *Manager) Disconnect(ns *Namespace) {
	lifecycle.Disconnect(ns.state, func() {
		m.mu.Lock()
		for i, n := range m.namespaces {
			if n == ns {
				m.namespaces = append(m.namespaces[:i], m.namespaces[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
	}, func() {
		// Disconnect every bus still registered, from a local snapshot
		// so concurrent lookups against the live list are unaffected.
		for _, busRef := range ns.Buses() {
			if busRef.Unlink != nil {
				busRef.Unlink()
			}
		}
		logging.WithNamespace(logging.Default(), ns.devpath).Info("closing namespace")
	})
}

// Release drops a reference to ns, disconnecting and freeing it once the
// refcount reaches zero.
func (m *Manager) Release(ns *Namespace) {
	lifecycle.Release(ns.state, func() {
		m.Disconnect(ns)
	}, func() {
		logging.WithNamespace(logging.Default(), ns.devpath).Info("released namespace")
	})
}

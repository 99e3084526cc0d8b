// Package broker wires the namespace, bus, and command-parsing packages
// together into the single entry point a control-socket listener or CLI
// calls: "take this TLV frame from this caller and either produce a new
// bus or an errno."
package broker

import (
	"path/filepath"
	"sync"

	"github.com/amigadave/kdbus/internal/bus"
	"github.com/amigadave/kdbus/internal/command"
	"github.com/amigadave/kdbus/internal/device"
	"github.com/amigadave/kdbus/internal/namespace"
)

// busKey identifies a bus uniquely across the whole broker: its owning
// namespace plus its name (unique only within that namespace).
type busKey struct {
	nsID uint64
	name string
}

// Broker owns the root namespace tree and dispatches make-bus commands. It
// keeps its own name index of live buses because Namespace only stores the
// narrow BusRef view of its children, to avoid an import cycle between the
// namespace and bus packages.
type Broker struct {
	namespaces *namespace.Manager
	root       *namespace.Namespace

	mu   sync.RWMutex
	byID map[busKey]*bus.Bus
}

// New creates a broker with its root namespace initialized.
func New() (*Broker, error) {
	mgr := namespace.NewManager()
	root, err := mgr.New(nil, "")
	if err != nil {
		return nil, err
	}
	return &Broker{
		namespaces: mgr,
		root:       root,
		byID:       make(map[busKey]*bus.Bus),
	}, nil
}

// Namespaces returns the broker's namespace manager.
func (b *Broker) Namespaces() *namespace.Manager { return b.namespaces }

// Root returns the broker's root namespace.
func (b *Broker) Root() *namespace.Namespace { return b.root }

// NewNamespace creates a child namespace nested under parent.
func (b *Broker) NewNamespace(parent *namespace.Namespace, name string) (*namespace.Namespace, error) {
	if parent == nil {
		parent = b.root
	}
	return b.namespaces.New(parent, name)
}

// MakeBus parses frame as a make-bus command and, if valid, creates a bus
// in ns owned by the caller identified by uid/gid, exposed through a
// default endpoint with the given mode.
func (b *Broker) MakeBus(ns *namespace.Namespace, frame []byte, mode, uid, gid uint32) (*bus.Bus, error) {
	req, err := command.ParseMakeBus(frame)
	if err != nil {
		return nil, err
	}

	key := busKey{nsID: ns.ID(), name: req.Name}

	// rejected is set when the namespace refuses the name; the new bus is
	// then released without unlinking the existing bus of the same name.
	rejected := false
	unlink := func() {
		if rejected {
			return
		}
		ns.UnlinkBus(req.Name)
		b.mu.Lock()
		delete(b.byID, key)
		b.mu.Unlock()
	}

	newBus, err := bus.New(ns.Devpath(), uid, bus.MakeRequest{
		Name:      req.Name,
		Flags:     req.Flags,
		BloomSize: req.BloomSize,
		CgroupID:  req.CgroupID,
	}, mode, gid, unlink)
	if err != nil {
		return nil, err
	}

	if regErr := ns.RegisterBus(&namespace.BusRef{
		Name:         newBus.Name(),
		Disconnected: newBus.Disconnected,
		Unlink:       newBus.Disconnect,
	}); regErr != nil {
		rejected = true
		newBus.Release()
		return nil, regErr
	}

	newBus.SetID(ns.NextBusID())

	b.mu.Lock()
	b.byID[key] = newBus
	b.mu.Unlock()

	return newBus, nil
}

// RegisterControl registers ns's control socket node under baseDir, at
// world-accessible mode 0666. The caller owns the returned ControlSocket
// and must Unregister it; the broker does not track it, since only some
// deployments run a listening control-socket server at all (others drive
// MakeBus directly in-process).
func (b *Broker) RegisterControl(ns *namespace.Namespace, baseDir string) (*device.ControlSocket, error) {
	return device.Register(filepath.Join(baseDir, ns.ControlPath()), 0666)
}

// FindBus looks up a live bus by name within ns.
func (b *Broker) FindBus(ns *namespace.Namespace, name string) *bus.Bus {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bb, ok := b.byID[busKey{nsID: ns.ID(), name: name}]
	if !ok || bb.Disconnected() {
		return nil
	}
	return bb
}

// Buses returns a snapshot of every live bus registered in ns.
func (b *Broker) Buses(ns *namespace.Namespace) []*bus.Bus {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*bus.Bus, 0)
	for k, bb := range b.byID {
		if k.nsID == ns.ID() && !bb.Disconnected() {
			out = append(out, bb)
		}
	}
	return out
}

// Package metadata implements the append-only, self-describing snapshot of
// caller-process state attached to outgoing messages: credentials, groups,
// capabilities, cgroup membership, audit identity, security label, and the
// owned names and executable identity of the capturing connection.
package metadata

import (
	"encoding/binary"
	"sync"
	"time"

	cerrors "github.com/amigadave/kdbus/errors"
	"github.com/amigadave/kdbus/internal/connection"
)

// Attach-bit flags selecting which records Append collects.
const (
	AttachTimestamp uint64 = 1 << iota
	AttachCreds
	AttachAuxGroups
	AttachNames
	AttachComm
	AttachExe
	AttachCmdline
	AttachCaps
	AttachCgroup
	AttachAudit
	AttachSeclabel
	AttachConnName
)

// Item types written to the metadata buffer.
const (
	itemTimestamp uint64 = iota + 1
	itemCreds
	itemAuxGroups
	itemName
	itemTidComm
	itemPidComm
	itemExe
	itemCmdline
	itemCaps
	itemCgroup
	itemAudit
	itemSeclabel
	itemConnName
)

// itemHeaderSize is the size of one item's { size, type } prefix; item.size
// itself does not include alignment padding, matching the command frame's
// item layout.
const itemHeaderSize = 16

// initialAlloc is the minimum buffer size reserved on first append, before
// rounding up to a power of two.
const initialAlloc = 256

// Metadata is a growing, self-describing item buffer captured for one
// connection or command at a point in time.
type Metadata struct {
	mu sync.Mutex

	pidNS  nsIdentity
	userNS nsIdentity

	data      []byte
	size      uint64
	allocated uint64
	attached  uint64
}

// New captures the calling process's PID-namespace and user-namespace
// identity and returns an empty metadata object pinned to them.
func New() (*Metadata, error) {
	pidNS, err := statNamespace("/proc/self/ns/pid")
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrFault, "meta_new")
	}
	userNS, err := statNamespace("/proc/self/ns/user")
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrFault, "meta_new")
	}
	return &Metadata{pidNS: pidNS, userNS: userNS}, nil
}

// NSEqual reports whether m and other were captured in the same PID and
// user namespace. Callers use this to refuse reusing metadata across
// isolation domains.
func (m *Metadata) NSEqual(other *Metadata) bool {
	return m.pidNS == other.pidNS && m.userNS == other.userNS
}

// Bytes returns the current contents of the metadata buffer: a
// concatenation of self-describing items, each 8-byte aligned.
func (m *Metadata) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, m.size)
	copy(out, m.data[:m.size])
	return out
}

// Attached returns the bitmask of attach-bits already collected.
func (m *Metadata) Attached() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attached
}

// alignUp8 rounds n up to the next multiple of 8.
func alignUp8(n uint64) uint64 {
	return (n + 7) &^ 7
}

// roundupPow2 rounds n up to the next power of two.
func roundupPow2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// appendItem grows the buffer as needed and writes one item. Callers must
// hold m.mu.
func (m *Metadata) appendItem(itemType uint64, payload []byte) {
	extra := alignUp8(itemHeaderSize + uint64(len(payload)))

	if m.data == nil {
		alloc := roundupPow2(initialAlloc + extra)
		m.data = make([]byte, alloc)
		m.allocated = alloc
	}

	needed := m.size + extra
	if needed > m.allocated {
		alloc := roundupPow2(needed)
		grown := make([]byte, alloc)
		copy(grown, m.data[:m.size])
		m.data = grown
		m.allocated = alloc
	}

	header := m.data[m.size : m.size+itemHeaderSize]
	binary.LittleEndian.PutUint64(header[0:8], itemHeaderSize+uint64(len(payload)))
	binary.LittleEndian.PutUint64(header[8:16], itemType)
	copy(m.data[m.size+itemHeaderSize:], payload)

	m.size += extra
}

// Append collects every attach-bit in which that has not already been
// captured, dispatching one helper per record kind. Idempotent per bit:
// requesting the same bit twice is a no-op. Any per-item failure returns
// immediately; items already appended before the failure remain valid.
func (m *Metadata) Append(conn *connection.Connection, seq uint64, which uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mask := which &^ m.attached
	if mask == 0 {
		return nil
	}

	if mask&AttachTimestamp != 0 {
		m.appendTimestamp(seq)
	}
	if mask&AttachCreds != 0 {
		if err := m.appendCreds(); err != nil {
			return err
		}
	}
	if mask&AttachAuxGroups != 0 {
		if err := m.appendAuxGroups(); err != nil {
			return err
		}
	}
	if mask&AttachNames != 0 && conn != nil {
		m.appendNames(conn)
	}
	if mask&AttachComm != 0 {
		if err := m.appendComm(); err != nil {
			return err
		}
	}
	if mask&AttachExe != 0 {
		if err := m.appendExe(); err != nil {
			return err
		}
	}
	if mask&AttachCmdline != 0 {
		if err := m.appendCmdline(); err != nil {
			return err
		}
	}
	if mask&AttachCaps != 0 {
		if err := m.appendCaps(); err != nil {
			return err
		}
	}
	if mask&AttachCgroup != 0 {
		if err := m.appendCgroup(); err != nil {
			return err
		}
	}
	if mask&AttachAudit != 0 {
		if err := m.appendAudit(); err != nil {
			return err
		}
	}
	if mask&AttachSeclabel != 0 {
		if err := m.appendSeclabel(); err != nil {
			return err
		}
	}
	if mask&AttachConnName != 0 && conn != nil && conn.Name() != "" {
		m.appendItem(itemConnName, nulString(conn.Name()))
	}

	m.attached |= mask
	return nil
}

func (m *Metadata) appendTimestamp(seq uint64) {
	var payload [24]byte
	if seq > 0 {
		binary.LittleEndian.PutUint64(payload[0:8], seq)
	}
	binary.LittleEndian.PutUint64(payload[8:16], uint64(monotonicNow()))
	binary.LittleEndian.PutUint64(payload[16:24], uint64(time.Now().UnixNano()))
	m.appendItem(itemTimestamp, payload[:])
}

func (m *Metadata) appendNames(conn *connection.Connection) {
	for _, name := range conn.OwnedNames() {
		m.appendItem(itemName, nulString(name))
	}
}

func nulString(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}

var processStart = time.Now()

func monotonicNow() int64 {
	return int64(time.Since(processStart))
}

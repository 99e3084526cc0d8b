// Package command implements the TLV parser for the untrusted "make-bus"
// control-command frame a caller submits on a namespace's control socket.
package command

import (
	"encoding/binary"

	cerrors "github.com/amigadave/kdbus/errors"
)

// Item types recognized in a make-bus frame.
const (
	itemMakeName   = 1
	itemMakeCgroup = 2
)

const (
	// headerSize is the size of the fixed make-bus header:
	// { size, flags, bloom_size }, each a little-endian u64.
	headerSize = 24

	// itemHeaderSize is the size of one item's { size, type } prefix.
	itemHeaderSize = 16

	// maxFrameSize is the upper bound on an entire make-bus frame.
	maxFrameSize = 0xffff

	// minNamePayload/maxNamePayload bound a MAKE_NAME item's payload,
	// including the trailing NUL.
	minNamePayload = 2
	maxNamePayload = 64

	// paddingTolerance is how far from the declared header.size, on
	// either side, the item cursor may land before it is treated as a
	// framing error.
	paddingTolerance = 8
)

// MakeBusRequest is the validated, extracted view over a make-bus frame.
type MakeBusRequest struct {
	Flags     uint64
	BloomSize uint64
	Name      string
	CgroupID  uint64
	HasCgroup bool
}

// ParseMakeBus validates buf as a complete make-bus command frame and
// extracts its fields. It never returns a partially-valid request: any
// validation failure returns a nil request and the corresponding errno.
//
// Every declared item is validated even after one is accepted, so a
// malformed trailing item is still reported.
func ParseMakeBus(buf []byte) (*MakeBusRequest, error) {
	if len(buf) < headerSize {
		return nil, cerrors.ErrCommandTooSmall
	}

	size := binary.LittleEndian.Uint64(buf[0:8])
	if size < headerSize {
		return nil, cerrors.ErrCommandTooSmall
	}
	if size > maxFrameSize {
		return nil, cerrors.ErrCommandTooLarge
	}
	if uint64(len(buf)) < size {
		return nil, cerrors.ErrCommandFault
	}

	req := &MakeBusRequest{
		Flags:     binary.LittleEndian.Uint64(buf[8:16]),
		BloomSize: binary.LittleEndian.Uint64(buf[16:24]),
	}

	cursor := uint64(headerSize)
	nameSeen := false
	cgroupSeen := false

	for cursor+itemHeaderSize <= size {
		itemSize := binary.LittleEndian.Uint64(buf[cursor : cursor+8])
		itemType := binary.LittleEndian.Uint64(buf[cursor+8 : cursor+16])

		if itemSize <= itemHeaderSize {
			return nil, cerrors.ErrItemEmpty
		}
		if itemSize > size-cursor {
			return nil, cerrors.ErrCommandFault
		}

		payload := buf[cursor+itemHeaderSize : cursor+itemSize]

		switch itemType {
		case itemMakeName:
			if nameSeen {
				return nil, cerrors.ErrNameItemDuplicate
			}
			if len(payload) < minNamePayload {
				return nil, cerrors.ErrNameTooShort
			}
			if len(payload) > maxNamePayload {
				return nil, cerrors.ErrBusNameTooLong
			}
			if payload[len(payload)-1] != 0 {
				return nil, cerrors.ErrNameNotTerminated
			}
			for _, b := range payload[:len(payload)-1] {
				if b == 0 {
					return nil, cerrors.ErrNameNotTerminated
				}
			}
			req.Name = string(payload[:len(payload)-1])
			nameSeen = true

		case itemMakeCgroup:
			if cgroupSeen {
				return nil, cerrors.ErrCgroupItemDuplicate
			}
			if len(payload) < 8 {
				return nil, cerrors.ErrItemEmpty
			}
			req.CgroupID = binary.LittleEndian.Uint64(payload[0:8])
			req.HasCgroup = true
			cgroupSeen = true

		default:
			return nil, cerrors.ErrItemUnsupported
		}

		// Items are 8-byte aligned; round the advance up.
		cursor += (itemSize + 7) &^ 7
	}

	// The last item's alignment padding can carry the cursor past size.
	gap := size - cursor
	if cursor > size {
		gap = cursor - size
	}
	if gap >= paddingTolerance {
		return nil, cerrors.ErrFramePadding
	}

	if !nameSeen {
		return nil, cerrors.ErrNameMissing
	}

	if req.BloomSize%8 != 0 {
		return nil, cerrors.ErrBloomSize
	}
	if req.BloomSize < 8 || req.BloomSize > 16*1024 {
		return nil, cerrors.ErrBloomSize
	}

	return req, nil
}

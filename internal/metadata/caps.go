package metadata

import (
	"encoding/binary"

	cerrors "github.com/amigadave/kdbus/errors"
	"github.com/moby/sys/capability"
)

// appendCaps writes the four capability sets (inheritable, permitted,
// effective, bounding) of the calling process as 64-bit bitmasks, replacing
// the kernel's direct read of current_cred()'s cap_* fields.
func (m *Metadata) appendCaps() error {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrFault, "meta_append_caps")
	}
	if err := caps.Load(); err != nil {
		return cerrors.Wrap(err, cerrors.ErrFault, "meta_append_caps")
	}

	var inheritable, permitted, effective, bounding uint64
	for _, c := range capability.List() {
		if c > 63 {
			// Tail bits beyond the last known capability are masked
			// off, matching the kernel's CAP_TO_MASK(CAP_LAST_CAP+1)
			// truncation.
			continue
		}
		bit := uint64(1) << uint(c)
		if caps.Get(capability.INHERITABLE, c) {
			inheritable |= bit
		}
		if caps.Get(capability.PERMITTED, c) {
			permitted |= bit
		}
		if caps.Get(capability.EFFECTIVE, c) {
			effective |= bit
		}
		if caps.Get(capability.BOUNDING, c) {
			bounding |= bit
		}
	}

	var payload [32]byte
	binary.LittleEndian.PutUint64(payload[0:8], inheritable)
	binary.LittleEndian.PutUint64(payload[8:16], permitted)
	binary.LittleEndian.PutUint64(payload[16:24], effective)
	binary.LittleEndian.PutUint64(payload[24:32], bounding)
	m.appendItem(itemCaps, payload[:])
	return nil
}

package metadata

import (
	"github.com/opencontainers/selinux/go-selinux"

	cerrors "github.com/amigadave/kdbus/errors"
)

// appendSeclabel writes the calling process's current security label.
// Absence of a security module (SELinux disabled or not compiled in)
// yields "skip without error", matching the kernel's -EOPNOTSUPP handling.
func (m *Metadata) appendSeclabel() error {
	if !selinux.GetEnabled() {
		return nil
	}

	label, err := selinux.CurrentLabel()
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrFault, "meta_append_seclabel")
	}
	if label == "" {
		return nil
	}

	m.appendItem(itemSeclabel, []byte(label))
	return nil
}

package metadata

import "golang.org/x/sys/unix"

// nsIdentity is the (device, inode) pair that uniquely identifies a Linux
// namespace inode under /proc/self/ns, standing in for the kernel's
// pid_namespace/user_namespace pointer identity.
type nsIdentity struct {
	dev uint64
	ino uint64
}

func statNamespace(path string) (nsIdentity, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return nsIdentity{}, err
	}
	return nsIdentity{dev: uint64(st.Dev), ino: st.Ino}, nil
}

package metadata

import (
	"github.com/containerd/cgroups/v3/cgroup1"

	cerrors "github.com/amigadave/kdbus/errors"
)

// appendCgroup writes the NUL-terminated cgroup path of the calling
// process, replacing the kernel's task_cgroup_path() with a parse of
// /proc/self/cgroup. It writes the unified-hierarchy path if there is one,
// otherwise the path of an arbitrary controller; no hierarchy is selected
// by the bus.
func (m *Metadata) appendCgroup() error {
	paths, err := cgroup1.ParseCgroupFile("/proc/self/cgroup")
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrNameTooLong, "meta_append_cgroup")
	}

	path, ok := paths[""]
	if !ok {
		// Fall back to any single controller's path on a non-unified
		// hierarchy host.
		for _, p := range paths {
			path = p
			ok = true
			break
		}
	}
	if !ok {
		return cerrors.New(cerrors.ErrNameTooLong, "meta_append_cgroup", "no cgroup path resolved")
	}

	m.appendItem(itemCgroup, nulString(path))
	return nil
}

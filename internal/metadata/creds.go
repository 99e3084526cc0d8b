package metadata

import (
	"encoding/binary"
	"os"
	"strconv"
	"strings"

	cerrors "github.com/amigadave/kdbus/errors"
	"golang.org/x/sys/unix"
)

// appendCreds captures { uid, gid, pid, tid, starttime } for the calling
// process. Ids are already expressed in the namespace captured by New,
// since this broker reads them directly from the running process rather
// than translating a remote peer's credentials through a foreign
// namespace.
func (m *Metadata) appendCreds() error {
	var payload [40]byte
	binary.LittleEndian.PutUint64(payload[0:8], uint64(os.Getuid()))
	binary.LittleEndian.PutUint64(payload[8:16], uint64(os.Getgid()))
	binary.LittleEndian.PutUint64(payload[16:24], uint64(os.Getpid()))
	binary.LittleEndian.PutUint64(payload[24:32], uint64(unix.Gettid()))

	starttime, err := processStarttime(os.Getpid())
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrFault, "meta_append_cred")
	}
	binary.LittleEndian.PutUint64(payload[32:40], starttime)

	m.appendItem(itemCreds, payload[:])
	return nil
}

// appendAuxGroups captures the calling process's supplementary group ids.
func (m *Metadata) appendAuxGroups() error {
	groups, err := os.Getgroups()
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrFault, "meta_append_auxgroups")
	}

	payload := make([]byte, len(groups)*8)
	for i, g := range groups {
		binary.LittleEndian.PutUint64(payload[i*8:i*8+8], uint64(g))
	}
	m.appendItem(itemAuxGroups, payload)
	return nil
}

// appendComm writes two fixed-length-equivalent string items: the
// thread-group (process) command name and the calling thread's command
// name. This broker has no separate thread/process comm split, so both
// items carry the executable's base name.
func (m *Metadata) appendComm() error {
	comm, err := os.Readlink("/proc/self/exe")
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrFault, "meta_append_comm")
	}
	name := comm
	if idx := strings.LastIndexByte(comm, '/'); idx >= 0 {
		name = comm[idx+1:]
	}

	m.appendItem(itemTidComm, nulString(name))
	m.appendItem(itemPidComm, nulString(name))
	return nil
}

// appendExe writes the NUL-terminated path of the calling process's
// executable.
func (m *Metadata) appendExe() error {
	exe, err := os.Readlink("/proc/self/exe")
	if err != nil {
		return cerrors.ErrMetadataNoExe
	}
	m.appendItem(itemExe, nulString(exe))
	return nil
}

// appendCmdline writes the calling process's argv, bounded to one page.
func (m *Metadata) appendCmdline() error {
	raw, err := os.ReadFile("/proc/self/cmdline")
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrFault, "meta_append_cmdline")
	}
	const pageSize = 4096
	if len(raw) > pageSize {
		raw = raw[:pageSize]
	}
	m.appendItem(itemCmdline, raw)
	return nil
}

// appendAudit writes { loginuid, sessionid } read from /proc/self/loginuid
// and /proc/self/sessionid, the userspace-readable equivalents of the
// kernel's audit context.
func (m *Metadata) appendAudit() error {
	loginuid, err := readProcUint("/proc/self/loginuid")
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrFault, "meta_append_audit")
	}
	sessionid, err := readProcUint("/proc/self/sessionid")
	if err != nil {
		return cerrors.Wrap(err, cerrors.ErrFault, "meta_append_audit")
	}

	var payload [16]byte
	binary.LittleEndian.PutUint64(payload[0:8], loginuid)
	binary.LittleEndian.PutUint64(payload[8:16], sessionid)
	m.appendItem(itemAudit, payload[:])
	return nil
}

func readProcUint(path string) (uint64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
}

// processStarttime reads the 22nd field of /proc/<pid>/stat, the process
// start time in clock ticks since boot.
func processStarttime(pid int) (uint64, error) {
	raw, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0, err
	}
	// The comm field (2nd field) is parenthesized and may itself contain
	// spaces or parens, so split on the last ')' rather than by field
	// index from the start.
	s := string(raw)
	idx := strings.LastIndexByte(s, ')')
	if idx < 0 {
		return 0, cerrors.New(cerrors.ErrFault, "meta_append_cred", "malformed /proc/pid/stat")
	}
	fields := strings.Fields(s[idx+1:])
	const starttimeFieldFromCommEnd = 20 // field 22 overall, 1-indexed after comm
	if len(fields) < starttimeFieldFromCommEnd {
		return 0, cerrors.New(cerrors.ErrFault, "meta_append_cred", "short /proc/pid/stat")
	}
	return strconv.ParseUint(fields[starttimeFieldFromCommEnd-1], 10, 64)
}

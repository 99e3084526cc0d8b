// Package device registers a namespace's control channel as a Unix-domain
// socket node, standing in for the character-device node the kernel
// implementation this broker is descended from creates under /dev. It also
// reads a connecting peer's credentials off that socket, standing in for
// the kernel's struct task_struct snapshot.
package device

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ControlSocket is a registered control-channel listener for one namespace.
type ControlSocket struct {
	path     string
	listener *net.UnixListener
}

// Register binds a Unix-domain socket at path with the given mode,
// replacing any stale socket node left behind at that path by a prior,
// uncleanly terminated run. mode 0666 matches the world-accessible
// control-node permission every namespace's control channel carries.
func Register(path string, mode os.FileMode) (*ControlSocket, error) {
	if path == "" {
		return nil, fmt.Errorf("register control socket: empty path")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("register control socket: %w", err)
	}

	if info, err := os.Stat(absPath); err == nil {
		if info.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("register control socket: %q exists and is not a socket", absPath)
		}
		if err := os.Remove(absPath); err != nil {
			return nil, fmt.Errorf("register control socket: remove stale node: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("register control socket: stat %q: %w", absPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return nil, fmt.Errorf("register control socket: %w", err)
	}

	addr, err := net.ResolveUnixAddr("unix", absPath)
	if err != nil {
		return nil, fmt.Errorf("register control socket: %w", err)
	}

	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("register control socket: %w", err)
	}

	if err := os.Chmod(absPath, mode); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register control socket: chmod: %w", err)
	}

	return &ControlSocket{path: absPath, listener: listener}, nil
}

// Path returns the socket's filesystem path.
func (c *ControlSocket) Path() string { return c.path }

// Listener returns the underlying listener for Accept loops.
func (c *ControlSocket) Listener() *net.UnixListener { return c.listener }

// Unregister closes the listener and removes the socket node. It is safe
// to call on an already-unregistered socket.
func (c *ControlSocket) Unregister() {
	if c == nil {
		return
	}
	if c.listener != nil {
		c.listener.Close()
	}
	if c.path != "" {
		os.Remove(c.path)
	}
}

// Credentials is the caller identity pulled off a control-socket peer,
// the userspace equivalent of the struct task_struct the kernel
// implementation reads credentials from directly.
type Credentials struct {
	PID int32
	UID uint32
	GID uint32
}

// PeerCredentials reads the connecting process's (pid, uid, gid) off an
// accepted control-socket connection via SO_PEERCRED.
func PeerCredentials(conn *net.UnixConn) (Credentials, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return Credentials{}, fmt.Errorf("peer credentials: %w", err)
	}

	var ucred *unix.Ucred
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		ucred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("peer credentials: %w", err)
	}
	if sockErr != nil {
		return Credentials{}, fmt.Errorf("peer credentials: %w", sockErr)
	}

	return Credentials{PID: ucred.Pid, UID: ucred.Uid, GID: ucred.Gid}, nil
}

package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/spf13/cobra"

	"github.com/amigadave/kdbus/internal/broker"
	"github.com/amigadave/kdbus/internal/bus"
	"github.com/amigadave/kdbus/internal/device"
	"github.com/amigadave/kdbus/internal/namespace"
	"github.com/amigadave/kdbus/logging"
)

var (
	serveNamespace string
	serveSocketDir string
	serveMode      uint32
)

// serveCmd runs a control-socket listener for one namespace: every
// accepted connection is expected to write exactly one make-bus frame and
// then shut down its write side. The connecting peer's uid/gid are read
// off the socket via SO_PEERCRED and used as the creating identity,
// standing in for the kernel's struct task_struct credential snapshot.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Listen on a namespace's control socket and service make-bus frames",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := broker.New()
		if err != nil {
			return fmt.Errorf("initialize broker: %w", err)
		}

		ns, err := resolveNamespace(b, serveNamespace)
		if err != nil {
			return fmt.Errorf("resolve namespace: %w", err)
		}

		cs, err := b.RegisterControl(ns, serveSocketDir)
		if err != nil {
			return fmt.Errorf("register control socket: %w", err)
		}
		defer cs.Unregister()

		log := logging.WithNamespace(logging.Default(), ns.Devpath())
		log.Info("listening", "socket", cs.Path())

		ctx := GetContext()
		go func() {
			<-ctx.Done()
			cs.Listener().Close()
		}()

		for {
			conn, err := cs.Listener().AcceptUnix()
			if err != nil {
				if ctx.Err() != nil {
					log.Info("shutting down")
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			go serveConn(b, ns, conn, log)
		}
	},
}

// serveConn reads one make-bus frame off conn, submits it to the broker
// under the connecting peer's uid/gid, and writes back a one-line result.
func serveConn(b *broker.Broker, ns *namespace.Namespace, conn *net.UnixConn, log *slog.Logger) {
	defer conn.Close()

	creds, err := device.PeerCredentials(conn)
	if err != nil {
		log.Error("peer credentials", "error", err)
		return
	}

	frame, err := io.ReadAll(bufio.NewReader(conn))
	if err != nil {
		log.Error("read frame", "error", err)
		return
	}

	newBus, err := b.MakeBus(ns, frame, serveMode, creds.UID, creds.GID)
	if err != nil {
		log.Info("make-bus rejected", "pid", creds.PID, "uid", creds.UID, "error", err)
		fmt.Fprintf(conn, "error: %v\n", err)
		return
	}

	log.Info("make-bus accepted", "pid", creds.PID, "uid", creds.UID, "bus", newBus.Name())
	writeResult(conn, newBus)
}

func writeResult(conn *net.UnixConn, b *bus.Bus) {
	fmt.Fprintf(conn, "ok: bus=%s id=%d\n", b.Name(), b.ID())
}

func init() {
	serveCmd.Flags().StringVar(&serveNamespace, "namespace", "", "slash-separated namespace path to serve")
	serveCmd.Flags().StringVar(&serveSocketDir, "socket-dir", "", "base directory the control socket tree is rooted under")
	serveCmd.Flags().Uint32Var(&serveMode, "endpoint-mode", 0666, "default endpoint file mode for buses created through this socket")
	rootCmd.AddCommand(serveCmd)
}

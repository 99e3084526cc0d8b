package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amigadave/kdbus/internal/broker"
)

var (
	makeBusNamespace string
	makeBusName      string
	makeBusFlags     uint64
	makeBusBloomSize uint64
	makeBusCgroup    uint64
	makeBusHasCgroup bool
	makeBusMode      uint32
	makeBusUID       uint32
	makeBusGID       uint32
)

var makeBusCmd = &cobra.Command{
	Use:   "make-bus",
	Short: "Submit a make-bus command and print the resulting bus",
	Long: `make-bus builds a make-bus TLV frame from the given flags, submits it to
a freshly initialized broker, and prints the bus that results. The bus
name must be prefixed with "<uid>-".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := broker.New()
		if err != nil {
			return fmt.Errorf("initialize broker: %w", err)
		}

		ns, err := resolveNamespace(b, makeBusNamespace)
		if err != nil {
			return fmt.Errorf("resolve namespace: %w", err)
		}

		frame := buildMakeBusFrame(makeBusName, makeBusFlags, makeBusBloomSize, makeBusCgroup, makeBusHasCgroup)

		newBus, err := b.MakeBus(ns, frame, makeBusMode, makeBusUID, makeBusGID)
		if err != nil {
			return fmt.Errorf("make-bus: %w", err)
		}

		fmt.Printf("bus:        %s\n", newBus.Name())
		fmt.Printf("id:         %d\n", newBus.ID())
		fmt.Printf("namespace:  %s\n", ns.Devpath())
		fmt.Printf("bloom_size: %d\n", newBus.BloomSize())
		fmt.Printf("flags:      0x%x\n", newBus.Flags())
		return nil
	},
}

func init() {
	makeBusCmd.Flags().StringVar(&makeBusNamespace, "namespace", "", "slash-separated namespace path to create the bus in")
	makeBusCmd.Flags().StringVar(&makeBusName, "name", "", `bus name, must be prefixed "<uid>-" (required)`)
	makeBusCmd.Flags().Uint64Var(&makeBusFlags, "flags", 0, "make-bus flags bitmask")
	makeBusCmd.Flags().Uint64Var(&makeBusBloomSize, "bloom-size", 64, "bloom filter size in bytes, 8..16384, multiple of 8")
	makeBusCmd.Flags().Uint64Var(&makeBusCgroup, "cgroup", 0, "cgroup id to attach to the bus")
	makeBusCmd.Flags().BoolVar(&makeBusHasCgroup, "with-cgroup", false, "include the cgroup item in the make-bus frame")
	makeBusCmd.Flags().Uint32Var(&makeBusMode, "mode", 0666, "default endpoint file mode")
	makeBusCmd.Flags().Uint32Var(&makeBusUID, "uid", 1000, "creating user id")
	makeBusCmd.Flags().Uint32Var(&makeBusGID, "gid", 1000, "creating group id")
	_ = makeBusCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(makeBusCmd)
}

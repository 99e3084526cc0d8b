package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amigadave/kdbus/internal/broker"
)

var nsNewPath string

var nsNewCmd = &cobra.Command{
	Use:   "ns-new",
	Short: "Create a namespace (and any missing parents) and print its control path",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := broker.New()
		if err != nil {
			return fmt.Errorf("initialize broker: %w", err)
		}

		ns, err := resolveNamespace(b, nsNewPath)
		if err != nil {
			return fmt.Errorf("create namespace: %w", err)
		}

		fmt.Printf("id:      %d\n", ns.ID())
		fmt.Printf("devpath: %s\n", ns.Devpath())
		fmt.Printf("control: %s\n", ns.ControlPath())
		return nil
	},
}

func init() {
	nsNewCmd.Flags().StringVar(&nsNewPath, "path", "", "slash-separated namespace path to create under root (e.g. \"net/container1\")")
	rootCmd.AddCommand(nsNewCmd)
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/amigadave/kdbus/internal/broker"
)

var (
	listNamespace string
	listCreate    []string
	listJSON      bool
)

type busListing struct {
	Name      string `json:"name"`
	ID        uint64 `json:"id"`
	BloomSize uint64 `json:"bloom_size"`
	Flags     uint64 `json:"flags"`
}

// listCmd creates any buses named with --create "name:bloomsize" in the
// target namespace and lists every live bus there. There is no daemon to
// list against across separate invocations, so --create exists to make a
// single run self-contained.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List (and optionally first create) buses in a namespace",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := broker.New()
		if err != nil {
			return fmt.Errorf("initialize broker: %w", err)
		}

		ns, err := resolveNamespace(b, listNamespace)
		if err != nil {
			return fmt.Errorf("resolve namespace: %w", err)
		}

		for _, spec := range listCreate {
			name, bloomSize, err := parseBusSpec(spec)
			if err != nil {
				return err
			}
			uid, err := busUID(name)
			if err != nil {
				return fmt.Errorf("create %q: %w", name, err)
			}
			frame := buildMakeBusFrame(name, 0, bloomSize, 0, false)
			if _, err := b.MakeBus(ns, frame, 0666, uid, uid); err != nil {
				return fmt.Errorf("create %q: %w", name, err)
			}
		}

		buses := b.Buses(ns)
		listings := make([]busListing, 0, len(buses))
		for _, bb := range buses {
			listings = append(listings, busListing{
				Name:      bb.Name(),
				ID:        bb.ID(),
				BloomSize: bb.BloomSize(),
				Flags:     bb.Flags(),
			})
		}

		if listJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(listings)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tID\tBLOOM_SIZE\tFLAGS")
		for _, l := range listings {
			fmt.Fprintf(w, "%s\t%d\t%d\t0x%x\n", l.Name, l.ID, l.BloomSize, l.Flags)
		}
		return w.Flush()
	},
}

// parseBusSpec parses "name:bloomsize" or a bare "name" (bloom size
// defaulting to 64).
func parseBusSpec(spec string) (name string, bloomSize uint64, err error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) == 1 {
		return parts[0], 64, nil
	}
	n, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid bloom size in %q: %w", spec, err)
	}
	return parts[0], n, nil
}

// busUID extracts the leading "<uid>-" component of a bus name so --create
// entries can be built from plain "1000-foo" style names without a
// separate --uid flag per entry.
func busUID(name string) (uint32, error) {
	idx := strings.IndexByte(name, '-')
	if idx <= 0 {
		return 0, fmt.Errorf(`name %q must be prefixed "<uid>-"`, name)
	}
	uid, err := strconv.ParseUint(name[:idx], 10, 32)
	if err != nil {
		return 0, fmt.Errorf(`name %q must be prefixed "<uid>-": %w`, name, err)
	}
	return uint32(uid), nil
}

func init() {
	listCmd.Flags().StringVar(&listNamespace, "namespace", "", "slash-separated namespace path to list")
	listCmd.Flags().StringArrayVar(&listCreate, "create", nil, `bus to create first, as "<uid>-name" or "<uid>-name:bloomsize" (repeatable)`)
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(listCmd)
}

// Command symwalk is the CLI entry point that exercises the memory and
// solver core end to end. It does not implement the zero-return search
// driver, the bitcode interpreter, or demangling; those are out of
// scope, and are represented here only by the narrow interface this
// command drives them through: a concrete memory image built from
// --write flags, inspected with --read.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/newhook/symex/memory"
	"github.com/newhook/symex/solver"
)

func parseAddrVal(spec string) (addr uint64, width uint32, value uint64, err error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("expected addr:width:value, got %q", spec)
	}
	addr, err = strconv.ParseUint(strings.TrimPrefix(parts[0], "0x"), 16, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("bad address in %q: %w", spec, err)
	}
	w, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("bad width in %q: %w", spec, err)
	}
	value, err = strconv.ParseUint(strings.TrimPrefix(parts[2], "0x"), 16, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("bad value in %q: %w", spec, err)
	}
	return addr, uint32(w), value, nil
}

func main() {
	var writes []string
	var reads []string
	var zeroInit bool
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "symwalk",
		Short: "Drive the symbolic memory core with a scripted sequence of writes and reads",
		RunE: func(cmd *cobra.Command, args []string) error {
			h := solver.NewHandle()
			var mem *memory.Memory
			if zeroInit {
				mem = memory.NewZeroInitialized(h)
			} else {
				mem = memory.NewUninitialized(h)
			}
			if verbose {
				mem.SetLogger(newStderrLogger())
			}

			for _, w := range writes {
				addr, width, value, err := parseAddrVal(w)
				if err != nil {
					return fmt.Errorf("--write: %w", err)
				}
				mem.Write(h.ConstU64(addr, memory.IndexBits), h.ConstU64(value, width))
				fmt.Printf("wrote %d bits = 0x%x at 0x%x\n", width, value, addr)
			}

			for _, r := range reads {
				fields := strings.Split(r, ":")
				if len(fields) != 2 {
					return fmt.Errorf("--read expects addr:width, got %q", r)
				}
				addr, err := strconv.ParseUint(strings.TrimPrefix(fields[0], "0x"), 16, 64)
				if err != nil {
					return fmt.Errorf("bad address in %q: %w", r, err)
				}
				width, err := strconv.ParseUint(fields[1], 10, 32)
				if err != nil {
					return fmt.Errorf("bad width in %q: %w", r, err)
				}
				result := mem.Read(h.ConstU64(addr, memory.IndexBits), uint32(width))
				if v, ok := result.AsU64(); ok {
					fmt.Printf("read %d bits at 0x%x = 0x%x\n", width, addr, v)
				} else {
					fmt.Printf("read %d bits at 0x%x = <symbolic>\n", width, addr)
				}
			}
			return nil
		},
	}

	rootCmd.Flags().StringSliceVar(&writes, "write", nil, "addr:width:value to write, e.g. 0x10000:64:0x12345678, repeatable")
	rootCmd.Flags().StringSliceVar(&reads, "read", nil, "addr:width to read back, e.g. 0x10000:64, repeatable")
	rootCmd.Flags().BoolVar(&zeroInit, "zero-init", false, "start from a zero-initialized memory instead of uninitialized")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "trace each memory primitive to stderr")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

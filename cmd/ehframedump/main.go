// Command ehframedump is an introspection tool over DWARF Call Frame
// Information, in the spirit of readelf --debug-dump=frames: it never
// raises an exception, walks a live call stack, or dispatches a
// personality routine, it only prints what the CFI core would see.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"
	"github.com/xyproto/env/v2"

	"github.com/Noratrieb/uwuwind"
)

func newLogger() log.Logger {
	base := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	base = log.With(base, "ts", log.DefaultTimestampUTC)

	lvl := env.Str("UWUWIND_LOG_LEVEL", "info")
	var filter level.Option
	switch lvl {
	case "debug":
		filter = level.AllowDebug()
	case "warn":
		filter = level.AllowWarn()
	case "error":
		filter = level.AllowError()
	default:
		filter = level.AllowInfo()
	}
	return level.NewFilter(base, filter)
}

func maxRuleStackDepthFromEnv() int {
	return env.Int("UWUWIND_MAX_RULE_STACK_DEPTH", 64)
}

func main() {
	root := &cobra.Command{
		Use:   "ehframedump",
		Short: "Inspect .eh_frame / .eh_frame_hdr data for an ELF object",
	}

	root.AddCommand(newRowCommand())
	root.AddCommand(newDumpCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRowCommand() *cobra.Command {
	var pid int
	cmd := &cobra.Command{
		Use:   "row <pc>",
		Short: "Print the unwind row covering a PC in a running process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			pcVal, err := strconv.ParseUint(args[0], 0, 64)
			if err != nil {
				return fmt.Errorf("parsing pc %q: %w", args[0], err)
			}
			pc := uwuwind.Address(pcVal)

			if pid == 0 {
				pid = os.Getpid()
			}
			locator := uwuwind.NewProcMapsLocator(pid)
			unwinder := uwuwind.NewUnwinder(
				locator,
				uwuwind.WithLogger(logger),
				uwuwind.WithMaxRuleStackDepth(maxRuleStackDepthFromEnv()),
			)

			row, err := unwinder.UnwindRowForPC(pc)
			if err != nil {
				level.Error(logger).Log("msg", "unwind row lookup failed", "pc", pc.String(), "err", err)
				return err
			}

			symbol := "?"
			if obj, err := locator.Locate(pc); err == nil && obj != nil {
				if name, ok := locator.Symbolicate(obj.Path, pc); ok {
					symbol = name
				}
			}

			fmt.Printf("location=%s symbol=%s cfa=%+v\n", row.Location, symbol, row.CfaRule)
			for _, reg := range row.Registers() {
				fmt.Printf("  r%d: %+v\n", reg, row.Rule(reg))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&pid, "pid", 0, "process to inspect (default: self)")
	return cmd
}

func newDumpCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <path>",
		Short: "Dump the .eh_frame_hdr binary search table of an ELF file on disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			path := args[0]

			header, fdeCount, err := uwuwind.ParseEhFrameHeaderFile(path)
			if err != nil {
				level.Error(logger).Log("msg", "failed to parse eh_frame_hdr", "path", path, "err", err)
				return err
			}

			level.Info(logger).Log("msg", "parsed eh_frame_hdr", "path", path, "fde_count", fdeCount)
			if err := header.CheckTableSorted(); err != nil {
				return fmt.Errorf("binary search table of %s: %w", path, err)
			}
			for i := 0; i < fdeCount; i++ {
				loc, fdeAddr, err := header.DumpTableEntry(i)
				if err != nil {
					return fmt.Errorf("table entry %d: %w", i, err)
				}
				fmt.Printf("%4d  initial_location=%s  fde_address=%s\n", i, loc, fdeAddr)
			}
			return nil
		},
	}
	return cmd
}

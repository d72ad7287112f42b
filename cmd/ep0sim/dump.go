package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ardnew/usbcore/pkg/capture"
)

type dumpOptions struct {
	ops     []string
	summary bool
}

func newDumpCmd() *cobra.Command {
	var opts dumpOptions
	cmd := &cobra.Command{
		Use:   "dump <capture-file>",
		Short: "Print a capture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()
			return dump(file, cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.ops, "op", nil, "only print these operations (e.g. setup,in,out)")
	cmd.Flags().BoolVarP(&opts.summary, "summary", "s", false, "print operation counts instead of records")
	return cmd
}

func dump(r io.Reader, out io.Writer, o dumpOptions) error {
	keep := make(map[capture.Op]bool, len(o.ops))
	for _, name := range o.ops {
		op, err := capture.ParseOp(name)
		if err != nil {
			return err
		}
		keep[op] = true
	}

	cr, err := capture.NewReader(r)
	if err != nil {
		return err
	}
	h := cr.Header()
	fmt.Fprintf(out, "capture v%d %s\n", h.Version, h.Device)

	var counts [capture.OpFault + 1]int
	for {
		rec, err := cr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if len(keep) > 0 && !keep[rec.Op] {
			continue
		}
		if int(rec.Op) < len(counts) {
			counts[rec.Op]++
		}
		if !o.summary {
			fmt.Fprintln(out, rec.String())
		}
	}

	if o.summary {
		for op := capture.OpAttach; op <= capture.OpFault; op++ {
			if counts[op] > 0 {
				fmt.Fprintf(out, "%-15s %d\n", op, counts[op])
			}
		}
	}
	return nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/packd/pkg/store"
)

func newRepackCmd(a *app) *cobra.Command {
	var opts store.RepackOptions
	cmd := &cobra.Command{
		Use:   "repack",
		Short: "Pack loose objects into a delta-compressed pack file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.looseStore()
			if err != nil {
				return err
			}
			defer s.Close()

			summary, err := s.Repack(commandContext(cmd), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if summary.PackedObjects == 0 {
				fmt.Fprintln(out, "nothing to pack")
				return nil
			}
			fmt.Fprintf(
				out,
				"packed %d loose object(s) with %d delta(s) into %s (%s)\n",
				summary.PackedObjects,
				summary.Deltas,
				summary.PackFile,
				summary.IndexFile,
			)
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Prune, "prune", false, "remove loose objects once packed")
	cmd.Flags().IntVar(&opts.Window, "window", 0, "delta window size (negative disables deltas)")
	cmd.Flags().IntVar(&opts.MaxDepth, "depth", 0, "maximum delta chain depth")
	return cmd
}

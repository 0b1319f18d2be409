package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/packd/pkg/object"
	"github.com/odvcencio/packd/pkg/pack"
	"github.com/odvcencio/packd/pkg/store"
)

func newVerifyPackCmd(a *app) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "verify-pack <pack.idx>...",
		Short: "Check packs against their index files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			dec := a.decoder(nil)
			for _, arg := range args {
				idxPath := strings.TrimSuffix(arg, ".pack")
				if !strings.HasSuffix(idxPath, ".idx") {
					idxPath += ".idx"
				}

				objs := map[object.Hash]*object.Object{}
				var sink func(*object.Object) error
				if verbose {
					sink = func(o *object.Object) error {
						objs[o.Hash] = o
						return nil
					}
				}
				n, err := store.VerifyPack(commandContext(cmd), dec, idxPath, sink)
				if err != nil {
					return err
				}
				if verbose {
					printPackListing(cmd, dec.IndexEntries(), objs)
				}
				fmt.Fprintf(out, "%s: ok (%d objects)\n", idxPath, n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list every object")
	return cmd
}

func printPackListing(cmd *cobra.Command, entries []pack.IndexEntry, objs map[object.Hash]*object.Object) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Offset < entries[j].Offset })
	out := cmd.OutOrStdout()
	for _, e := range entries {
		o := objs[e.Hash]
		if o == nil {
			continue
		}
		fmt.Fprintf(out, "%s %-6s %d %d\n", e.Hash, o.Type, len(o.Data), e.Offset)
	}
}

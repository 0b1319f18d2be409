package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/odvcencio/packd/pkg/object"
	"github.com/odvcencio/packd/pkg/pack"
)

func newIndexPackCmd(a *app) *cobra.Command {
	var (
		url       string
		indexPath string
		noStore   bool
	)
	cmd := &cobra.Command{
		Use:   "index-pack [<pack-file> | -]",
		Short: "Verify a pack, resolve its deltas and store its objects",
		Long: "Reads a pack from a file, standard input or --url, checks every object\n" +
			"and the trailer, completes thin packs from the object store and writes\n" +
			"the objects to the store. Prints the pack checksum.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if url != "" && len(args) > 0 {
				return errors.New("index-pack: give a pack file or --url, not both")
			}
			ctx := commandContext(cmd)

			backing, err := a.openStore()
			if err != nil {
				return err
			}
			defer backing.Close()

			stored := 0
			sink := func(o *object.Object) error {
				if noStore {
					return nil
				}
				if err := backing.Put(o.Hash, o.Type, o.Data); err != nil {
					return err
				}
				stored++
				return nil
			}

			dec := a.decoder(backing)
			var p *pack.Pack
			switch {
			case url != "":
				p, err = a.fetcher().Fetch(ctx, url, dec, sink)
			case len(args) == 0 || args[0] == "-":
				p, err = dec.Decode(ctx, bufio.NewReader(cmd.InOrStdin()), sink)
			default:
				p, err = dec.DecodeFile(ctx, args[0], sink)
			}
			if err != nil {
				return fmt.Errorf("index-pack: %w", err)
			}

			if indexPath != "" {
				if err := writeIndexFile(indexPath, dec.IndexEntries(), p.Checksum); err != nil {
					return err
				}
			}
			a.log.WithFields(logrus.Fields{
				"objects": p.NumObjects,
				"stored":  stored,
				"bytes":   p.Size,
			}).Info("indexed pack")
			fmt.Fprintln(cmd.OutOrStdout(), p.Checksum)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "fetch the pack over HTTP")
	cmd.Flags().StringVarP(&indexPath, "index", "o", "", "write a pack index (idx v2) to this path")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "verify only; do not write objects")
	return cmd
}

func writeIndexFile(path string, entries []pack.IndexEntry, checksum object.Hash) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if _, err := pack.WriteIndex(f, entries, checksum); err != nil {
		f.Close()
		return fmt.Errorf("write index %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write index %s: %w", path, err)
	}
	return nil
}

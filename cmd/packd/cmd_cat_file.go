package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/packd/pkg/object"
)

func newCatFileCmd(a *app) *cobra.Command {
	var showType, showSize, pretty, exists bool
	cmd := &cobra.Command{
		Use:   "cat-file [-t | -s | -p | -e] <hash>",
		Short: "Print an object from the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := object.ParseHash(args[0])
			if err != nil {
				return err
			}
			backing, err := a.openStore()
			if err != nil {
				return err
			}
			defer backing.Close()

			o, err := backing.Get(h)
			if exists {
				if errors.Is(err, object.ErrNotFound) {
					return fmt.Errorf("object %s not found", h)
				}
				return err
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case showType:
				fmt.Fprintln(out, o.Type)
			case showSize:
				fmt.Fprintln(out, len(o.Data))
			case pretty && o.Type == object.TypeTree:
				tree, err := object.ParseTree(o.Data)
				if err != nil {
					return err
				}
				for _, e := range tree.Entries {
					kind := object.TypeBlob
					switch {
					case e.IsDir():
						kind = object.TypeTree
					case e.Mode == object.TreeModeSubmodule:
						kind = object.TypeCommit
					}
					fmt.Fprintf(out, "%s %s %s\t%s\n", padMode(e.Mode), kind, e.Hash, e.Name)
				}
			default:
				_, err = out.Write(o.Data)
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&showType, "type", "t", false, "print the object type")
	cmd.Flags().BoolVarP(&showSize, "size", "s", false, "print the object size")
	cmd.Flags().BoolVarP(&pretty, "pretty", "p", false, "pretty-print trees")
	cmd.Flags().BoolVarP(&exists, "exists", "e", false, "only check that the object exists")
	cmd.MarkFlagsMutuallyExclusive("type", "size", "pretty", "exists")
	return cmd
}

// padMode left-pads a tree mode to the six digits Git prints.
func padMode(mode string) string {
	if len(mode) >= 6 {
		return mode
	}
	return strings.Repeat("0", 6-len(mode)) + mode
}

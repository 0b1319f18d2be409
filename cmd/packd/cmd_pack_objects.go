package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/odvcencio/packd/pkg/object"
	"github.com/odvcencio/packd/pkg/pack"
)

func newPackObjectsCmd(a *app) *cobra.Command {
	var (
		outPath   string
		indexPath string
		thin      bool
		revs      bool
		window    int
		depth     int
	)
	cmd := &cobra.Command{
		Use:   "pack-objects",
		Short: "Write a pack of the objects named on standard input",
		Long: "Reads one object hash per line from standard input. Lines of the form\n" +
			"^<hash> name objects the receiver already has: they are left out and,\n" +
			"with --thin, may serve as delta bases. With --revs every object\n" +
			"reachable from the named hashes is included.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wants, haves, err := readObjectList(cmd.InOrStdin())
			if err != nil {
				return err
			}

			backing, err := a.openStore()
			if err != nil {
				return err
			}
			defer backing.Close()

			if revs {
				if wants, err = expandReachable(backing, wants, haves); err != nil {
					return err
				}
				if haves, err = reachableList(backing, haves); err != nil {
					return err
				}
			}

			exclude := make(map[object.Hash]struct{}, len(haves))
			for _, h := range haves {
				exclude[h] = struct{}{}
			}
			var objs []*object.Object
			for _, h := range wants {
				if _, ok := exclude[h]; ok {
					continue
				}
				o, err := backing.Get(h)
				if err != nil {
					return fmt.Errorf("pack-objects: %w", err)
				}
				objs = append(objs, o)
			}

			pack.SortForDeltas(objs)
			opts := pack.EncodeOptions{Window: window, MaxDepth: depth}
			if thin {
				for _, h := range haves {
					o, err := backing.Get(h)
					if err != nil {
						return fmt.Errorf("pack-objects: thin base: %w", err)
					}
					opts.ThinBases = append(opts.ThinBases, o)
				}
			}

			var w io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("pack-objects: %w", err)
				}
				defer f.Close()
				w = f
			}
			bw := bufio.NewWriter(w)
			res, err := pack.Encode(bw, objs, opts)
			if err != nil {
				return fmt.Errorf("pack-objects: %w", err)
			}
			if err := bw.Flush(); err != nil {
				return fmt.Errorf("pack-objects: %w", err)
			}
			if indexPath != "" {
				if thin && res.RefDeltas > 0 {
					return fmt.Errorf("pack-objects: a thin pack cannot be indexed on its own")
				}
				if err := writeIndexFile(indexPath, res.Entries, res.Checksum); err != nil {
					return err
				}
			}
			a.log.WithFields(logrus.Fields{
				"objects":    len(objs),
				"ofs_deltas": res.OfsDeltas,
				"ref_deltas": res.RefDeltas,
				"pack":       res.Checksum.String(),
			}).Info("wrote pack")
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the pack here instead of standard output")
	cmd.Flags().StringVar(&indexPath, "index", "", "also write a pack index to this path")
	cmd.Flags().BoolVar(&thin, "thin", false, "delta against ^ objects without sending them")
	cmd.Flags().BoolVar(&revs, "revs", false, "include every object reachable from the input")
	cmd.Flags().IntVar(&window, "window", 0, "delta window size (negative disables deltas)")
	cmd.Flags().IntVar(&depth, "depth", 0, "maximum delta chain depth")
	return cmd
}

// readObjectList parses hashes, one per line, with a leading ^ marking
// objects the receiver has.
func readObjectList(r io.Reader) (wants, haves []object.Hash, err error) {
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		have := strings.HasPrefix(text, "^")
		h, err := object.ParseHash(strings.TrimPrefix(text, "^"))
		if err != nil {
			return nil, nil, fmt.Errorf("object list line %d: %w", line, err)
		}
		if have {
			haves = append(haves, h)
		} else {
			wants = append(wants, h)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("read object list: %w", err)
	}
	return wants, haves, nil
}

// expandReachable returns every object reachable from wants that is not
// reachable from haves, in a stable order.
func expandReachable(s object.Store, wants, haves []object.Hash) ([]object.Hash, error) {
	want, missing, err := object.ReachableSet(s, wants)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pack-objects: %d reachable object(s) missing, first %s", len(missing), missing[0])
	}
	have, _, err := object.ReachableSet(s, haves)
	if err != nil {
		return nil, err
	}
	out := make([]object.Hash, 0, len(want))
	for h := range want {
		if _, ok := have[h]; !ok {
			out = append(out, h)
		}
	}
	object.SortHashes(out)
	return out, nil
}

func reachableList(s object.Store, roots []object.Hash) ([]object.Hash, error) {
	set, _, err := object.ReachableSet(s, roots)
	if err != nil {
		return nil, err
	}
	out := make([]object.Hash, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	object.SortHashes(out)
	return out, nil
}

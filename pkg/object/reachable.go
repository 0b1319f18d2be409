package object

import (
	"errors"
	"fmt"
)

// ReachableSet returns all object hashes reachable from roots by following
// object references. Missing objects are reported in the second result
// rather than failing the walk. Submodule entries (gitlinks) are not
// followed.
func ReachableSet(s Store, roots []Hash) (map[Hash]struct{}, []Hash, error) {
	out := make(map[Hash]struct{}, len(roots))
	var missing []Hash
	seenMissing := make(map[Hash]struct{})

	stack := make([]Hash, 0, len(roots))
	stack = append(stack, roots...)
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if h.IsZero() {
			continue
		}
		if _, ok := out[h]; ok {
			continue
		}

		obj, err := s.Get(h)
		if errors.Is(err, ErrNotFound) {
			if _, ok := seenMissing[h]; !ok {
				seenMissing[h] = struct{}{}
				missing = append(missing, h)
			}
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reachable set read %s: %w", h, err)
		}
		out[h] = struct{}{}

		refs, err := References(obj.Type, obj.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("reachable set parse %s (%s): %w", h, obj.Type, err)
		}
		stack = append(stack, refs...)
	}

	SortHashes(missing)
	return out, missing, nil
}

// References returns the hashes an object points at directly.
func References(objType ObjectType, data []byte) ([]Hash, error) {
	switch objType {
	case TypeBlob:
		return nil, nil
	case TypeTag:
		tag, err := ParseTag(data)
		if err != nil {
			return nil, err
		}
		return []Hash{tag.TargetHash}, nil
	case TypeCommit:
		commit, err := ParseCommit(data)
		if err != nil {
			return nil, err
		}
		refs := make([]Hash, 0, 1+len(commit.Parents))
		refs = append(refs, commit.TreeHash)
		refs = append(refs, commit.Parents...)
		return refs, nil
	case TypeTree:
		tree, err := ParseTree(data)
		if err != nil {
			return nil, err
		}
		refs := make([]Hash, 0, len(tree.Entries))
		for _, e := range tree.Entries {
			if e.Mode == TreeModeSubmodule {
				continue
			}
			refs = append(refs, e.Hash)
		}
		return refs, nil
	default:
		return nil, fmt.Errorf("unsupported object type %s", objType)
	}
}

package object

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// TreeObj
// ---------------------------------------------------------------------------

// MarshalTree serializes a TreeObj in Git's binary tree format. Each entry
// is:
//
//	mode SP name NUL hash(20 bytes)
//
// Entries are sorted the way Git sorts them: by name, with directories
// compared as if their name had a trailing slash.
func MarshalTree(tr *TreeObj) []byte {
	sorted := make([]TreeEntry, len(tr.Entries))
	copy(sorted, tr.Entries)
	sort.Slice(sorted, func(i, j int) bool {
		return treeSortKey(sorted[i]) < treeSortKey(sorted[j])
	})

	var buf bytes.Buffer
	for _, e := range sorted {
		buf.WriteString(treeModeOrDefault(e.Mode))
		buf.WriteByte(' ')
		buf.WriteString(e.Name)
		buf.WriteByte(0)
		buf.Write(e.Hash[:])
	}
	return buf.Bytes()
}

func treeSortKey(e TreeEntry) string {
	if e.IsDir() {
		return e.Name + "/"
	}
	return e.Name
}

func treeModeOrDefault(mode string) string {
	if strings.TrimSpace(mode) == "" {
		return TreeModeFile
	}
	return mode
}

// ParseTree parses a Git binary tree object.
func ParseTree(data []byte) (*TreeObj, error) {
	tr := &TreeObj{}
	for len(data) > 0 {
		sp := bytes.IndexByte(data, ' ')
		if sp <= 0 {
			return nil, fmt.Errorf("parse tree: malformed mode")
		}
		mode := string(data[:sp])
		if err := validateTreeMode(mode); err != nil {
			return nil, fmt.Errorf("parse tree: %w", err)
		}
		data = data[sp+1:]

		nul := bytes.IndexByte(data, 0)
		if nul <= 0 {
			return nil, fmt.Errorf("parse tree: malformed entry name")
		}
		name := string(data[:nul])
		data = data[nul+1:]

		if len(data) < HashSize {
			return nil, fmt.Errorf("parse tree: entry %q: truncated hash", name)
		}
		var h Hash
		copy(h[:], data[:HashSize])
		data = data[HashSize:]

		tr.Entries = append(tr.Entries, TreeEntry{Mode: mode, Name: name, Hash: h})
	}
	return tr, nil
}

func validateTreeMode(mode string) error {
	switch mode {
	case TreeModeDir, TreeModeFile, TreeModeExecutable, TreeModeSymlink, TreeModeSubmodule:
		return nil
	case "100664", "040000":
		// Written by some old Git versions.
		return nil
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

// ---------------------------------------------------------------------------
// CommitObj
// ---------------------------------------------------------------------------

// MarshalCommit serializes a CommitObj:
//
//	tree H
//	parent H     (zero or more)
//	author A
//	committer C
//
//	message
func MarshalCommit(c *CommitObj) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", c.TreeHash)
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", p)
	}
	fmt.Fprintf(&buf, "author %s\n", c.Author)
	committer := c.Committer
	if committer == "" {
		committer = c.Author
	}
	fmt.Fprintf(&buf, "committer %s\n", committer)
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}

// ParseCommit parses the headers and message of a Git commit. Headers it
// does not model (encoding, gpgsig, mergetag) are skipped along with their
// continuation lines.
func ParseCommit(data []byte) (*CommitObj, error) {
	header, message, err := splitHeaderBody(data)
	if err != nil {
		return nil, fmt.Errorf("parse commit: %w", err)
	}

	c := &CommitObj{Message: message}
	haveTree := false
	for _, line := range header {
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("parse commit: malformed header line %q", line)
		}
		switch key {
		case "tree":
			h, err := ParseHash(val)
			if err != nil {
				return nil, fmt.Errorf("parse commit: tree: %w", err)
			}
			c.TreeHash = h
			haveTree = true
		case "parent":
			h, err := ParseHash(val)
			if err != nil {
				return nil, fmt.Errorf("parse commit: parent: %w", err)
			}
			c.Parents = append(c.Parents, h)
		case "author":
			c.Author = val
		case "committer":
			c.Committer = val
		}
	}
	if !haveTree {
		return nil, fmt.Errorf("parse commit: missing tree header")
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// TagObj
// ---------------------------------------------------------------------------

// MarshalTag serializes an annotated tag.
func MarshalTag(t *TagObj) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "object %s\n", t.TargetHash)
	fmt.Fprintf(&buf, "type %s\n", t.TargetType)
	fmt.Fprintf(&buf, "tag %s\n", t.Name)
	if t.Tagger != "" {
		fmt.Fprintf(&buf, "tagger %s\n", t.Tagger)
	}
	buf.WriteByte('\n')
	buf.WriteString(t.Message)
	return buf.Bytes()
}

// ParseTag parses an annotated tag object.
func ParseTag(data []byte) (*TagObj, error) {
	header, message, err := splitHeaderBody(data)
	if err != nil {
		return nil, fmt.Errorf("parse tag: %w", err)
	}

	t := &TagObj{Message: message}
	haveObject := false
	for _, line := range header {
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("parse tag: malformed header line %q", line)
		}
		switch key {
		case "object":
			h, err := ParseHash(val)
			if err != nil {
				return nil, fmt.Errorf("parse tag: object: %w", err)
			}
			t.TargetHash = h
			haveObject = true
		case "type":
			typ, err := ParseObjectType(val)
			if err != nil {
				return nil, fmt.Errorf("parse tag: %w", err)
			}
			t.TargetType = typ
		case "tag":
			t.Name = val
		case "tagger":
			t.Tagger = val
		}
	}
	if !haveObject {
		return nil, fmt.Errorf("parse tag: missing object header")
	}
	return t, nil
}

// splitHeaderBody splits a commit or tag into header lines and the message.
// Continuation lines (leading space) are dropped.
func splitHeaderBody(data []byte) ([]string, string, error) {
	var headerBytes, message []byte
	if idx := bytes.Index(data, []byte("\n\n")); idx >= 0 {
		headerBytes = data[:idx]
		message = data[idx+2:]
	} else if len(data) > 0 && data[len(data)-1] == '\n' {
		headerBytes = data[:len(data)-1]
	} else {
		return nil, "", fmt.Errorf("missing header terminator")
	}

	var lines []string
	for _, line := range strings.Split(string(headerBytes), "\n") {
		if strings.HasPrefix(line, " ") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, string(message), nil
}

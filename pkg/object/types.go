package object

import "fmt"

// ObjectType identifies the kind of object. Numeric values match the Git
// pack entry type codes.
type ObjectType uint8

const (
	TypeCommit   ObjectType = 1
	TypeTree     ObjectType = 2
	TypeBlob     ObjectType = 3
	TypeTag      ObjectType = 4
	TypeOfsDelta ObjectType = 6
	TypeRefDelta ObjectType = 7
)

const (
	// Tree mode constants as written in Git tree objects.
	TreeModeDir        = "40000"
	TreeModeFile       = "100644"
	TreeModeExecutable = "100755"
	TreeModeSymlink    = "120000"
	TreeModeSubmodule  = "160000"
)

// String returns the canonical wire name used in object headers.
func (t ObjectType) String() string {
	switch t {
	case TypeCommit:
		return "commit"
	case TypeTree:
		return "tree"
	case TypeBlob:
		return "blob"
	case TypeTag:
		return "tag"
	case TypeOfsDelta:
		return "ofs-delta"
	case TypeRefDelta:
		return "ref-delta"
	default:
		return fmt.Sprintf("ObjectType(%d)", uint8(t))
	}
}

// IsBase reports whether t is one of the four storable object types.
func (t ObjectType) IsBase() bool {
	return t == TypeCommit || t == TypeTree || t == TypeBlob || t == TypeTag
}

// IsDelta reports whether t is a pack-only delta marker.
func (t ObjectType) IsDelta() bool {
	return t == TypeOfsDelta || t == TypeRefDelta
}

// IsValid reports whether t is any known type code.
func (t ObjectType) IsValid() bool {
	return t.IsBase() || t.IsDelta()
}

// ParseObjectType maps a wire name back to a base ObjectType.
func ParseObjectType(name string) (ObjectType, error) {
	switch name {
	case "commit":
		return TypeCommit, nil
	case "tree":
		return TypeTree, nil
	case "blob":
		return TypeBlob, nil
	case "tag":
		return TypeTag, nil
	default:
		return 0, fmt.Errorf("unknown object type %q", name)
	}
}

// Object is a fully resolved object: never a delta.
type Object struct {
	Hash Hash
	Type ObjectType
	Data []byte
}

// NewObject builds an Object and computes its hash.
func NewObject(objType ObjectType, data []byte) *Object {
	return &Object{
		Hash: HashObject(objType, data),
		Type: objType,
		Data: data,
	}
}

// TreeEntry is one entry in a tree object.
type TreeEntry struct {
	Mode string
	Name string
	Hash Hash
}

// IsDir reports whether the entry names a subtree.
func (e TreeEntry) IsDir() bool { return e.Mode == TreeModeDir }

// TreeObj holds the entries of a tree in Git order.
type TreeObj struct {
	Entries []TreeEntry
}

// CommitObj holds the parsed headers of a commit.
type CommitObj struct {
	TreeHash  Hash
	Parents   []Hash
	Author    string
	Committer string
	Message   string
}

// TagObj holds the parsed headers of an annotated tag.
type TagObj struct {
	TargetHash Hash
	TargetType ObjectType
	Name       string
	Tagger     string
	Message    string
}

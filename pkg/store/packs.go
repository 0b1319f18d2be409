package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/odvcencio/packd/pkg/object"
	"github.com/odvcencio/packd/pkg/pack"
)

// RepackOptions configures LooseStore.Repack.
type RepackOptions struct {
	// Window and MaxDepth are passed to pack.Encode.
	Window   int
	MaxDepth int
	// Prune removes loose objects once the new pack and index are in place.
	Prune bool
}

// RepackSummary reports the outcome of LooseStore.Repack.
type RepackSummary struct {
	PackedObjects int
	Deltas        int
	Pruned        int
	PackFile      string
	IndexFile     string
}

// VerifySummary reports the outcome of LooseStore.Verify.
type VerifySummary struct {
	LooseObjects int
	PackFiles    int
	PackObjects  int
}

// readFromPacks looks h up in every pack index.
func (s *LooseStore) readFromPacks(h object.Hash) (*object.Object, error) {
	packs, err := s.loadPacks()
	if err != nil {
		return nil, fmt.Errorf("object read %s: %w", h, err)
	}
	for _, p := range packs {
		if !p.Has(h) {
			continue
		}
		return p.Get(h)
	}
	return nil, fmt.Errorf("object read %s: %w", h, object.ErrNotFound)
}

// loadPacks opens every indexed pack once. Packs on disk must be
// self-contained, so REF_DELTA bases are never looked up outside them.
func (s *LooseStore) loadPacks() ([]*pack.Packfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.packs, nil
	}

	idxPaths, err := s.listPackIndexPaths()
	if err != nil {
		return nil, err
	}
	packs := make([]*pack.Packfile, 0, len(idxPaths))
	for _, idxPath := range idxPaths {
		idx, err := pack.ReadIndexFile(idxPath)
		if err != nil {
			closePacks(packs)
			return nil, fmt.Errorf("parse pack index %s: %w", filepath.Base(idxPath), err)
		}
		p, err := pack.OpenPackfile(packPathForIndex(idxPath), idx, nil)
		if err != nil {
			closePacks(packs)
			return nil, err
		}
		packs = append(packs, p)
	}
	s.packs, s.loaded = packs, true
	return packs, nil
}

// addPack makes a freshly written pack visible to Get.
func (s *LooseStore) addPack(idxPath string) error {
	idx, err := pack.ReadIndexFile(idxPath)
	if err != nil {
		return err
	}
	p, err := pack.OpenPackfile(packPathForIndex(idxPath), idx, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		// The next loadPacks reads it from disk.
		return p.Close()
	}
	s.packs = append(s.packs, p)
	return nil
}

func closePacks(packs []*pack.Packfile) {
	for _, p := range packs {
		_ = p.Close()
	}
}

func (s *LooseStore) packedHashSet() (map[object.Hash]struct{}, error) {
	packs, err := s.loadPacks()
	if err != nil {
		return nil, err
	}
	out := make(map[object.Hash]struct{})
	for _, p := range packs {
		for _, entry := range p.Index().Entries() {
			out[entry.Hash] = struct{}{}
		}
	}
	return out, nil
}

// Repack writes the loose objects that no pack indexes yet into a new
// delta-compressed pack with its idx.
func (s *LooseStore) Repack(ctx context.Context, opts RepackOptions) (*RepackSummary, error) {
	looseHashes, err := s.ListLoose()
	if err != nil {
		return nil, err
	}
	packed, err := s.packedHashSet()
	if err != nil {
		return nil, err
	}

	var objs []*object.Object
	for _, h := range looseHashes {
		if _, ok := packed[h]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("repack: %w", err)
		}
		obj, err := s.readLoose(h)
		if err != nil {
			return nil, fmt.Errorf("repack: read loose object %s: %w", h, err)
		}
		objs = append(objs, obj)
	}
	if len(objs) == 0 {
		return &RepackSummary{}, nil
	}
	if len(objs) > int(^uint32(0)) {
		return nil, fmt.Errorf("repack: too many objects to pack: %d", len(objs))
	}
	pack.SortForDeltas(objs)

	if err := os.MkdirAll(s.packDir(), 0o755); err != nil {
		return nil, fmt.Errorf("repack: mkdir pack dir: %w", err)
	}

	packTmp, err := os.CreateTemp(s.packDir(), ".tmp-pack-*.pack")
	if err != nil {
		return nil, fmt.Errorf("repack: create pack temp file: %w", err)
	}
	packTmpPath := packTmp.Name()
	packTmpRemoved := false
	defer func() {
		if !packTmpRemoved {
			_ = os.Remove(packTmpPath)
		}
	}()

	res, err := pack.Encode(packTmp, objs, pack.EncodeOptions{Window: opts.Window, MaxDepth: opts.MaxDepth})
	if err != nil {
		_ = packTmp.Close()
		return nil, fmt.Errorf("repack: %w", err)
	}
	if err := packTmp.Close(); err != nil {
		return nil, fmt.Errorf("repack: close pack temp file: %w", err)
	}

	packBase := "pack-" + res.Checksum.String()
	packPath := filepath.Join(s.packDir(), packBase+".pack")
	idxPath := filepath.Join(s.packDir(), packBase+".idx")
	if err := os.Rename(packTmpPath, packPath); err != nil {
		return nil, fmt.Errorf("repack: rename pack file: %w", err)
	}
	packTmpRemoved = true

	idxTmp, err := os.CreateTemp(s.packDir(), ".tmp-pack-*.idx")
	if err != nil {
		_ = os.Remove(packPath)
		return nil, fmt.Errorf("repack: create index temp file: %w", err)
	}
	idxTmpPath := idxTmp.Name()
	idxTmpRemoved := false
	defer func() {
		if !idxTmpRemoved {
			_ = os.Remove(idxTmpPath)
		}
	}()

	if _, err := pack.WriteIndex(idxTmp, res.Entries, res.Checksum); err != nil {
		_ = idxTmp.Close()
		_ = os.Remove(packPath)
		return nil, fmt.Errorf("repack: write pack index: %w", err)
	}
	if err := idxTmp.Close(); err != nil {
		_ = os.Remove(packPath)
		return nil, fmt.Errorf("repack: close index temp file: %w", err)
	}
	if err := os.Rename(idxTmpPath, idxPath); err != nil {
		_ = os.Remove(packPath)
		return nil, fmt.Errorf("repack: rename index file: %w", err)
	}
	idxTmpRemoved = true

	if err := s.addPack(idxPath); err != nil {
		return nil, fmt.Errorf("repack: %w", err)
	}

	summary := &RepackSummary{
		PackedObjects: len(objs),
		Deltas:        res.OfsDeltas + res.RefDeltas,
		PackFile:      filepath.Base(packPath),
		IndexFile:     filepath.Base(idxPath),
	}
	if opts.Prune {
		for _, obj := range objs {
			if err := os.Remove(s.objectPath(obj.Hash)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return summary, fmt.Errorf("repack: prune %s: %w", obj.Hash, err)
			}
			summary.Pruned++
		}
	}
	s.log.WithFields(logrus.Fields{
		"pack":    summary.PackFile,
		"objects": summary.PackedObjects,
		"deltas":  summary.Deltas,
		"pruned":  summary.Pruned,
	}).Info("repacked loose objects")
	return summary, nil
}

// Verify checks every loose object and every pack against its index.
func (s *LooseStore) Verify(ctx context.Context) (*VerifySummary, error) {
	report := &VerifySummary{}

	looseHashes, err := s.ListLoose()
	if err != nil {
		return nil, err
	}
	for _, h := range looseHashes {
		if _, err := s.readLoose(h); err != nil {
			return nil, fmt.Errorf("verify loose: %w", err)
		}
		report.LooseObjects++
	}

	idxPaths, err := s.listPackIndexPaths()
	if err != nil {
		return nil, err
	}
	dec := pack.NewDecoder(pack.Options{Logger: s.log})
	for _, idxPath := range idxPaths {
		n, err := VerifyPack(ctx, dec, idxPath, nil)
		if err != nil {
			return nil, err
		}
		report.PackObjects += n
		report.PackFiles++
	}
	return report, nil
}

// VerifyPack decodes the pack next to idxPath and checks that the index
// describes exactly its entries. sink, if not nil, receives every object once
// the pack has verified. It returns the number of entries.
func VerifyPack(ctx context.Context, dec *pack.Decoder, idxPath string, sink func(*object.Object) error) (int, error) {
	idx, err := pack.ReadIndexFile(idxPath)
	if err != nil {
		return 0, fmt.Errorf("verify pack index %s: %w", filepath.Base(idxPath), err)
	}
	packPath := packPathForIndex(idxPath)
	p, err := dec.DecodeFile(ctx, packPath, sink)
	if err != nil {
		return 0, fmt.Errorf("verify: %w", err)
	}
	if p.Checksum != idx.PackChecksum {
		return 0, fmt.Errorf("verify pack %s: checksum mismatch between idx (%s) and pack (%s)",
			filepath.Base(packPath), idx.PackChecksum, p.Checksum)
	}

	decoded := dec.IndexEntries()
	indexed := idx.Entries()
	if len(decoded) != len(indexed) {
		return 0, fmt.Errorf("verify pack %s: idx entry count %d does not match pack entry count %d",
			filepath.Base(packPath), len(indexed), len(decoded))
	}
	for _, entry := range decoded {
		want, ok := idx.Find(entry.Hash)
		if !ok {
			return 0, fmt.Errorf("verify pack %s: object %s at offset %d missing from idx",
				filepath.Base(packPath), entry.Hash, entry.Offset)
		}
		if want != entry {
			return 0, fmt.Errorf("verify pack %s: object %s: idx has offset %d crc %08x, pack has offset %d crc %08x",
				filepath.Base(packPath), entry.Hash, want.Offset, want.CRC32, entry.Offset, entry.CRC32)
		}
	}
	return len(decoded), nil
}

// ListLoose returns the hashes of all loose objects in sorted order.
func (s *LooseStore) ListLoose() ([]object.Hash, error) {
	fanoutDirs, err := os.ReadDir(s.objectsDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read objects dir: %w", err)
	}

	var hashes []object.Hash
	for _, fanoutDir := range fanoutDirs {
		if !fanoutDir.IsDir() {
			continue
		}
		prefix := fanoutDir.Name()
		if prefix == "pack" || !isHexHashComponent(prefix, 2) {
			continue
		}

		objectEntries, err := os.ReadDir(filepath.Join(s.objectsDir(), prefix))
		if err != nil {
			return nil, fmt.Errorf("read objects fanout %s: %w", prefix, err)
		}
		for _, objectEntry := range objectEntries {
			if objectEntry.IsDir() || !isHexHashComponent(objectEntry.Name(), 2*object.HashSize-2) {
				continue
			}
			h, err := object.ParseHash(prefix + objectEntry.Name())
			if err != nil {
				return nil, err
			}
			hashes = append(hashes, h)
		}
	}
	object.SortHashes(hashes)
	return hashes, nil
}

func (s *LooseStore) listPackIndexPaths() ([]string, error) {
	entries, err := os.ReadDir(s.packDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pack dir: %w", err)
	}

	idxPaths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".idx") || strings.HasPrefix(entry.Name(), ".tmp-") {
			continue
		}
		idxPaths = append(idxPaths, filepath.Join(s.packDir(), entry.Name()))
	}
	sort.Strings(idxPaths)
	return idxPaths, nil
}

func isHexHashComponent(s string, expectedLen int) bool {
	if len(s) != expectedLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func packPathForIndex(idxPath string) string {
	return strings.TrimSuffix(idxPath, ".idx") + ".pack"
}

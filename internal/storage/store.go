// Package storage implements the durable on-disk image of a namespace's
// graph: a small header, packed concept records, packed association
// records, and a variable-length blob region holding content bytes,
// embedding vectors, attribute maps, and semantic metadata.
//
// The crash-safety idiom is write-to-a-".tmp"-path, fsync, then os.Rename:
// the Store never performs a partial update in place.
//
// Go's standard library has no portable read-write mmap, so LoadLatest
// instead streams the packed records into a fully materialized in-memory
// Snapshot rather than memory-mapping the file, trading a fast whole-image
// load for no platform-specific syscall dependency. See SPEC_FULL.md.
package storage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"sutragraph/internal/graph"
	"sutragraph/internal/record"
	"sutragraph/internal/sutraerr"
	"sutragraph/internal/sutraid"
)

var magic = [8]byte{'S', 'U', 'T', 'R', 'A', 'D', 'A', 'T'}

// CurrentFormatVersion is the format version written by this build.
// MinReadableFormatVersion is the oldest version LoadLatest will still
// open read-only.
const (
	CurrentFormatVersion     = 1
	MinReadableFormatVersion = 1
)

type header struct {
	Magic         [8]byte
	FormatVersion uint32
	ConceptCount  uint64
	EdgeCount     uint64
	Sequence      uint64
}

const headerSize = 8 + 4 + 8 + 8 + 8

// Store is the durable, file-backed image of one namespace's graph.
type Store struct {
	dataDir string
	path    string
}

// New returns a Store rooted at dataDir/storage.dat.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}
	return &Store{
		dataDir: dataDir,
		path:    filepath.Join(dataDir, "storage.dat"),
	}, nil
}

// SnapshotToDisk writes a new image atomically: write-to-temp, fsync,
// rename. It never mutates the existing on-disk image in place.
func (s *Store) SnapshotToDisk(snap *graph.Snapshot) error {
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("storage: create temp image: %w", err)
	}

	if err := encodeSnapshot(f, snap); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("storage: encode snapshot: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return sutraerr.Wrap(sutraerr.KindTransient, "storage: fsync temp image", err)
	}
	if err := f.Close(); err != nil {
		return sutraerr.Wrap(sutraerr.KindTransient, "storage: close temp image", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("storage: rename temp image into place: %w", err)
	}
	return nil
}

func encodeSnapshot(w io.Writer, snap *graph.Snapshot) error {
	bw := bufio.NewWriter(w)

	hdr := header{
		Magic:         magic,
		FormatVersion: CurrentFormatVersion,
		ConceptCount:  uint64(len(snap.Concepts)),
		EdgeCount:     uint64(len(snap.Edges)),
		Sequence:      snap.Sequence,
	}
	if err := binary.Write(bw, binary.LittleEndian, hdr.Magic); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, hdr.FormatVersion); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, hdr.ConceptCount); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, hdr.EdgeCount); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, hdr.Sequence); err != nil {
		return err
	}

	// Build the blob region first so we know each concept's offsets.
	var blobs bytes.Buffer
	conceptRecs := make([]*record.ConceptRecord, 0, len(snap.Concepts))
	ids := make([]sutraid.ConceptId, 0, len(snap.Concepts))
	for id := range snap.Concepts {
		ids = append(ids, id)
	}
	sutraid.SortIDs(ids)

	for _, id := range ids {
		c := snap.Concepts[id]
		rec := &record.ConceptRecord{
			ID:             c.ID,
			Strength:       c.Strength,
			Confidence:     c.Confidence,
			AccessCount:    c.AccessCount,
			CreatedUs:      c.CreatedUs,
			LastAccessedUs: c.LastAccessedUs,
		}

		rec.ContentOffset = uint64(blobs.Len())
		blobs.Write(c.Content)
		rec.ContentLength = uint32(len(c.Content))

		rec.VectorOffset = uint64(blobs.Len())
		for _, f32 := range c.Vector {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(f32))
			blobs.Write(b[:])
		}
		rec.VectorDim = uint32(len(c.Vector))

		if len(c.Attributes) > 0 {
			ab, err := json.Marshal(c.Attributes)
			if err != nil {
				return fmt.Errorf("encode attributes for %s: %w", id.Hex(), err)
			}
			rec.AttributesOffset = uint64(blobs.Len())
			blobs.Write(ab)
			rec.AttributesLength = uint32(len(ab))
		}

		if c.Semantic != nil {
			sb, err := json.Marshal(c.Semantic)
			if err != nil {
				return fmt.Errorf("encode semantic for %s: %w", id.Hex(), err)
			}
			rec.SemanticOffset = uint64(blobs.Len())
			blobs.Write(sb)
			rec.SemanticLength = uint32(len(sb))
		}

		conceptRecs = append(conceptRecs, rec)
	}

	for _, rec := range conceptRecs {
		enc, err := rec.Encode()
		if err != nil {
			return err
		}
		if _, err := bw.Write(enc); err != nil {
			return err
		}
	}

	edgeKeys := make([]sutraid.EdgeKey, 0, len(snap.Edges))
	for k := range snap.Edges {
		edgeKeys = append(edgeKeys, k)
	}
	sutraid.SortEdgeKeys(edgeKeys)

	for _, k := range edgeKeys {
		a := snap.Edges[k]
		rec := &record.AssociationRecord{
			Source:     a.Source,
			Target:     a.Target,
			Type:       uint8(a.Type),
			Confidence: a.Confidence,
			Weight:     a.Weight,
			CreatedUs:  a.CreatedUs,
			LastUsedUs: a.LastUsedUs,
		}
		enc, err := rec.Encode()
		if err != nil {
			return err
		}
		if _, err := bw.Write(enc); err != nil {
			return err
		}
	}

	if _, err := bw.Write(blobs.Bytes()); err != nil {
		return err
	}

	return bw.Flush()
}

// LoadLatest validates the header and streams records into a fresh
// in-memory Snapshot. It is not an error for the image file not to exist
// yet (a brand-new namespace); an empty Snapshot is returned in that case.
// Unknown tail bytes after the declared record counts are tolerated for
// forward compatibility; a corrupted record short-circuits with a
// sutraerr.KindStorageCorrupt error.
func (s *Store) LoadLatest() (*graph.Snapshot, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return graph.Empty(), nil
		}
		return nil, fmt.Errorf("storage: open image: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var hdr header
	if err := binary.Read(r, binary.LittleEndian, &hdr.Magic); err != nil {
		return nil, sutraerr.Wrap(sutraerr.KindStorageCorrupt, "storage: read magic", err)
	}
	if hdr.Magic != magic {
		return nil, sutraerr.New(sutraerr.KindStorageCorrupt, "storage: bad magic bytes")
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.FormatVersion); err != nil {
		return nil, sutraerr.Wrap(sutraerr.KindStorageCorrupt, "storage: read format version", err)
	}
	if hdr.FormatVersion < MinReadableFormatVersion || hdr.FormatVersion > CurrentFormatVersion {
		return nil, sutraerr.New(sutraerr.KindStorageCorrupt,
			fmt.Sprintf("storage: unsupported format version %d", hdr.FormatVersion))
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.ConceptCount); err != nil {
		return nil, sutraerr.Wrap(sutraerr.KindStorageCorrupt, "storage: read concept count", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.EdgeCount); err != nil {
		return nil, sutraerr.Wrap(sutraerr.KindStorageCorrupt, "storage: read edge count", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr.Sequence); err != nil {
		return nil, sutraerr.Wrap(sutraerr.KindStorageCorrupt, "storage: read sequence", err)
	}

	conceptRecs := make([]*record.ConceptRecord, 0, hdr.ConceptCount)
	buf := make([]byte, record.ConceptSize)
	for i := uint64(0); i < hdr.ConceptCount; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, sutraerr.Wrap(sutraerr.KindStorageCorrupt, "storage: short concept record", err)
		}
		rec, err := record.DecodeConceptRecord(buf)
		if err != nil {
			return nil, sutraerr.Wrap(sutraerr.KindStorageCorrupt, "storage: decode concept record", err)
		}
		conceptRecs = append(conceptRecs, rec)
	}

	assocRecs := make([]*record.AssociationRecord, 0, hdr.EdgeCount)
	abuf := make([]byte, record.AssociationSize)
	for i := uint64(0); i < hdr.EdgeCount; i++ {
		if _, err := io.ReadFull(r, abuf); err != nil {
			return nil, sutraerr.Wrap(sutraerr.KindStorageCorrupt, "storage: short association record", err)
		}
		rec, err := record.DecodeAssociationRecord(abuf)
		if err != nil {
			return nil, sutraerr.Wrap(sutraerr.KindStorageCorrupt, "storage: decode association record", err)
		}
		assocRecs = append(assocRecs, rec)
	}

	blobs, err := io.ReadAll(r)
	if err != nil {
		return nil, sutraerr.Wrap(sutraerr.KindStorageCorrupt, "storage: read blob region", err)
	}

	snap := graph.Empty()
	snap.Sequence = hdr.Sequence
	for _, rec := range conceptRecs {
		c := &graph.Concept{
			ID:             rec.ID,
			Strength:       rec.Strength,
			Confidence:     rec.Confidence,
			AccessCount:    rec.AccessCount,
			CreatedUs:      rec.CreatedUs,
			LastAccessedUs: rec.LastAccessedUs,
			Neighbors:      make(map[sutraid.ConceptId]struct{}),
		}
		if rec.ContentLength > 0 {
			end := rec.ContentOffset + uint64(rec.ContentLength)
			if end > uint64(len(blobs)) {
				return nil, sutraerr.New(sutraerr.KindStorageCorrupt, "storage: content blob out of range")
			}
			c.Content = append([]byte(nil), blobs[rec.ContentOffset:end]...)
		}
		if rec.VectorDim > 0 {
			end := rec.VectorOffset + uint64(rec.VectorDim)*4
			if end > uint64(len(blobs)) {
				return nil, sutraerr.New(sutraerr.KindStorageCorrupt, "storage: vector blob out of range")
			}
			vec := make([]float32, rec.VectorDim)
			for i := range vec {
				off := rec.VectorOffset + uint64(i)*4
				vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blobs[off : off+4]))
			}
			c.Vector = vec
		}
		if rec.AttributesLength > 0 {
			end := rec.AttributesOffset + uint64(rec.AttributesLength)
			if end > uint64(len(blobs)) {
				return nil, sutraerr.New(sutraerr.KindStorageCorrupt, "storage: attributes blob out of range")
			}
			var attrs map[string]string
			if err := json.Unmarshal(blobs[rec.AttributesOffset:end], &attrs); err != nil {
				return nil, sutraerr.Wrap(sutraerr.KindStorageCorrupt, "storage: decode attributes", err)
			}
			c.Attributes = attrs
		}
		if rec.SemanticLength > 0 {
			end := rec.SemanticOffset + uint64(rec.SemanticLength)
			if end > uint64(len(blobs)) {
				return nil, sutraerr.New(sutraerr.KindStorageCorrupt, "storage: semantic blob out of range")
			}
			var sem graph.Semantic
			if err := json.Unmarshal(blobs[rec.SemanticOffset:end], &sem); err != nil {
				return nil, sutraerr.Wrap(sutraerr.KindStorageCorrupt, "storage: decode semantic", err)
			}
			c.Semantic = &sem
		}
		snap.Concepts[c.ID] = c
	}

	for _, rec := range assocRecs {
		a := &graph.Association{
			Source:     rec.Source,
			Target:     rec.Target,
			Type:       graph.AssociationType(rec.Type),
			Confidence: rec.Confidence,
			Weight:     rec.Weight,
			CreatedUs:  rec.CreatedUs,
			LastUsedUs: rec.LastUsedUs,
		}
		key := sutraid.EdgeKey{Source: a.Source, Target: a.Target}
		snap.Edges[key] = a
		if c, ok := snap.Concepts[a.Source]; ok {
			c.Neighbors[a.Target] = struct{}{}
		}
	}

	return snap, nil
}

// Path returns the on-disk image path, for manifest/ops reporting.
func (s *Store) Path() string { return s.path }

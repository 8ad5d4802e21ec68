// Package record defines the fixed-width on-disk layout for a single
// concept or association, as packed by internal/storage. Each record is a
// constant-size header of scalar fields; variable-length data (content
// bytes, embedding vectors, attribute maps, semantic metadata) lives in a
// separate blob region and is addressed here by offset/length pairs.
//
// Each field is written with explicit binary.Write/Read calls rather than a
// generic serialization library, so internal/storage can stream records
// without first decoding every blob.
package record

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"sutragraph/internal/sutraid"
)

// ConceptSize is the fixed on-disk width of an encoded ConceptRecord.
const ConceptSize = sutraid.Size + 4 + 4 + 4 + 8 + 8 + 8 + 4 + 8 + 4 + 8 + 4 + 8 + 4

// AssociationSize is the fixed on-disk width of an encoded AssociationRecord.
const AssociationSize = sutraid.Size*2 + 1 + 4 + 4 + 8 + 8

// ConceptRecord is the fixed-width header for one concept. Offsets are
// relative to the start of the blob region that follows every packed
// concept and association record in the image file.
type ConceptRecord struct {
	ID             sutraid.ConceptId
	Strength       float32
	Confidence     float32
	AccessCount    uint32
	CreatedUs      int64
	LastAccessedUs int64

	ContentOffset uint64
	ContentLength uint32

	VectorOffset uint64
	VectorDim    uint32

	AttributesOffset uint64
	AttributesLength uint32

	SemanticOffset uint64
	SemanticLength uint32
}

// Encode packs the record into its fixed-width binary form.
func (r *ConceptRecord) Encode() ([]byte, error) {
	buf := make([]byte, 0, ConceptSize)
	w := bytes.NewBuffer(buf)

	fields := []interface{}{
		r.ID,
		r.Strength,
		r.Confidence,
		r.AccessCount,
		r.CreatedUs,
		r.LastAccessedUs,
		r.ContentOffset,
		r.ContentLength,
		r.VectorOffset,
		r.VectorDim,
		r.AttributesOffset,
		r.AttributesLength,
		r.SemanticOffset,
		r.SemanticLength,
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("record: encode concept field: %w", err)
		}
	}
	return w.Bytes(), nil
}

// DecodeConceptRecord unpacks a ConceptSize-byte buffer into a ConceptRecord.
func DecodeConceptRecord(buf []byte) (*ConceptRecord, error) {
	if len(buf) != ConceptSize {
		return nil, fmt.Errorf("record: concept buffer has wrong length %d, want %d", len(buf), ConceptSize)
	}
	r := &ConceptRecord{}
	br := bytes.NewReader(buf)

	fields := []interface{}{
		&r.ID,
		&r.Strength,
		&r.Confidence,
		&r.AccessCount,
		&r.CreatedUs,
		&r.LastAccessedUs,
		&r.ContentOffset,
		&r.ContentLength,
		&r.VectorOffset,
		&r.VectorDim,
		&r.AttributesOffset,
		&r.AttributesLength,
		&r.SemanticOffset,
		&r.SemanticLength,
	}
	for _, f := range fields {
		if err := binary.Read(br, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("record: decode concept field: %w", err)
		}
	}
	return r, nil
}

// AssociationRecord is the fixed-width header for one directed edge.
type AssociationRecord struct {
	Source     sutraid.ConceptId
	Target     sutraid.ConceptId
	Type       uint8
	Confidence float32
	Weight     float32
	CreatedUs  int64
	LastUsedUs int64
}

// Encode packs the record into its fixed-width binary form.
func (r *AssociationRecord) Encode() ([]byte, error) {
	buf := make([]byte, 0, AssociationSize)
	w := bytes.NewBuffer(buf)

	fields := []interface{}{
		r.Source,
		r.Target,
		r.Type,
		r.Confidence,
		r.Weight,
		r.CreatedUs,
		r.LastUsedUs,
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("record: encode association field: %w", err)
		}
	}
	return w.Bytes(), nil
}

// DecodeAssociationRecord unpacks an AssociationSize-byte buffer into an
// AssociationRecord.
func DecodeAssociationRecord(buf []byte) (*AssociationRecord, error) {
	if len(buf) != AssociationSize {
		return nil, fmt.Errorf("record: association buffer has wrong length %d, want %d", len(buf), AssociationSize)
	}
	r := &AssociationRecord{}
	br := bytes.NewReader(buf)

	fields := []interface{}{
		&r.Source,
		&r.Target,
		&r.Type,
		&r.Confidence,
		&r.Weight,
		&r.CreatedUs,
		&r.LastUsedUs,
	}
	for _, f := range fields {
		if err := binary.Read(br, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("record: decode association field: %w", err)
		}
	}
	return r, nil
}

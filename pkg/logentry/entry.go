// Package logentry defines the closed set of log-entry kinds the cleaner
// reasons about, and the binary header framing each entry carries. Grounded
// on the big-endian framing in the teacher's util/encode.go and the
// IndexEntrySize convention in pkg/types/index.go.
package logentry

import (
	"encoding/binary"
	"fmt"
)

// Type is the closed tagged variant of entry kinds spec.md §3 names.
type Type uint8

const (
	// Object is live user data; it dies when a newer write or a tombstone
	// supersedes it in the index.
	Object Type = iota
	// Tombstone marks an Object as deleted. It stays live until every
	// segment holding the target Object has been freed (I3).
	Tombstone
	// Opaque is any other entry kind (e.g. log metadata); it is always
	// live for relocation purposes.
	Opaque
)

func (t Type) String() string {
	switch t {
	case Object:
		return "OBJECT"
	case Tombstone:
		return "TOMBSTONE"
	case Opaque:
		return "OPAQUE"
	default:
		return "UNKNOWN"
	}
}

// HeaderSize is the fixed, on-the-wire size of a Header once encoded:
// type(1) + reserved(3) + length(4) + timestamp(4) + objectID(8) +
// targetSegment(8).
const HeaderSize = 28

// Header precedes every entry's opaque payload in a segment.
type Header struct {
	Type      Type
	Length    uint32 // length of the payload that follows the header
	Timestamp uint32 // seconds-granularity write time, cached for age sort

	// ObjectID identifies the object an OBJECT or TOMBSTONE entry refers
	// to. Zero for OPAQUE entries.
	ObjectID uint64

	// TargetSegment is, for a TOMBSTONE, the id of the segment that held
	// the object being deleted. The tombstone is freeable only once that
	// segment has been freed (I3). Zero for other entry kinds.
	TargetSegment uint64
}

// Encode serializes a header into a HeaderSize-byte buffer.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(h.Type)
	binary.BigEndian.PutUint32(buf[4:8], h.Length)
	binary.BigEndian.PutUint32(buf[8:12], h.Timestamp)
	binary.BigEndian.PutUint64(buf[12:20], h.ObjectID)
	binary.BigEndian.PutUint64(buf[20:28], h.TargetSegment)
	return buf
}

// Decode parses a Header from the front of buf.
func Decode(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("logentry: short header (%d bytes)", len(buf))
	}
	h := Header{
		Type:          Type(buf[0]),
		Length:        binary.BigEndian.Uint32(buf[4:8]),
		Timestamp:     binary.BigEndian.Uint32(buf[8:12]),
		ObjectID:      binary.BigEndian.Uint64(buf[12:20]),
		TargetSegment: binary.BigEndian.Uint64(buf[20:28]),
	}
	if h.Type > Opaque {
		return Header{}, fmt.Errorf("logentry: unknown entry type %d", buf[0])
	}
	return h, nil
}

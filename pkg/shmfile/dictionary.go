package shmfile

import (
	"encoding/binary"
	"sync/atomic"

	"google.golang.org/protobuf/encoding/protowire"
)

// dictionaryHeaderSize is the on-disk size of DictionaryHeader (spec.md
// §3.3): end (atomic i64), num_entries (atomic i64), plus 48 bytes of
// padding to round out to 64 bytes, matching the FileHeader convention.
const dictionaryHeaderSize = 64

const (
	offDictEnd        = 0
	offDictNumEntries = 8
)

// Dictionary is the append-only, offset-addressed interned store described
// in spec.md §3.3/§4.C. Entries are immutable once written; two records may
// legally reference the same offset.
type Dictionary struct {
	header []byte // dictionaryHeaderSize bytes
	region []byte // the full mapped region, header included
	base   int64  // absolute file offset of this region's first byte
}

func initDictionary(region []byte, base int64) *Dictionary {
	header := region[:dictionaryHeaderSize]
	atomic.StoreInt64(fieldPtr(header, offDictEnd), base+dictionaryHeaderSize)
	atomic.StoreInt64(fieldPtr(header, offDictNumEntries), 0)
	return &Dictionary{header: header, region: region, base: base}
}

func attachDictionary(region []byte, base int64) *Dictionary {
	return &Dictionary{header: region[:dictionaryHeaderSize], region: region, base: base}
}

// Base is the absolute file offset of the first byte after the dictionary
// header; every valid reference is >= Base.
func (d *Dictionary) Base() int64 { return d.base + dictionaryHeaderSize }

// End acquire-loads the next free byte offset.
func (d *Dictionary) End() int64 { return atomic.LoadInt64(fieldPtr(d.header, offDictEnd)) }

// NumEntries relaxed-loads the append counter. Observability only; never
// used to gate correctness.
func (d *Dictionary) NumEntries() int64 {
	return atomic.LoadInt64(fieldPtr(d.header, offDictNumEntries))
}

// Append reserves space for payload via a fetch-add on end, writes the
// varint length prefix and payload into the reserved range, and returns the
// absolute offset of the entry (where its length prefix begins). This is
// the producer-only, wait-free operation of spec.md §4.C: the fetch-add
// serializes only index assignment; payload writes to disjoint ranges
// proceed in parallel across writer threads.
func (d *Dictionary) Append(payload []byte) (int64, error) {
	lengthPrefixSize := protowire.SizeVarint(uint64(len(payload)))
	total := int64(lengthPrefixSize + len(payload))

	newEnd := atomic.AddInt64(fieldPtr(d.header, offDictEnd), total)
	entryEnd := newEnd - d.base
	entryStart := entryEnd - total
	if entryEnd > int64(len(d.region)) {
		// Overflow: region exhausted. Remapping-on-growth is an allowed
		// but unimplemented enhancement (spec.md §9, open question 1); the
		// caller must drop this item. end has already advanced past the
		// mapped region, so subsequent Append calls will also fail, which
		// is the documented behavior ("writer would eventually fail").
		return 0, ErrDictionaryFull
	}

	buf := d.region[entryStart:entryEnd]
	n := binary.PutUvarint(buf, uint64(len(payload)))
	copy(buf[n:], payload)

	atomic.AddInt64(fieldPtr(d.header, offDictNumEntries), 1)
	return entryStart + d.base, nil
}

// AppendString is a convenience wrapper for raw UTF-8 string entries (the
// payload has no further structure).
func (d *Dictionary) AppendString(s string) (int64, error) {
	return d.Append([]byte(s))
}

// readRaw decodes the length-delimited payload at the given absolute
// offset, without interpreting it further.
func (d *Dictionary) readRaw(offset int64) ([]byte, error) {
	if offset < d.Base() {
		return nil, ErrNotFoundInDictionary
	}
	// Acquire-load end (directly) before decoding, per spec.md §4.C
	// concurrency note: the reader must observe end >= offset's entry
	// bound before trusting the bytes at offset.
	end := d.End()
	if offset >= end {
		return nil, ErrNotFoundInDictionary
	}

	relOffset := offset - d.base
	if relOffset < 0 || relOffset >= int64(len(d.region)) {
		return nil, ErrNotFoundInDictionary
	}

	length, n := binary.Uvarint(d.region[relOffset:])
	if n <= 0 {
		return nil, ErrDecode
	}
	payloadStart := relOffset + int64(n)
	payloadEnd := payloadStart + int64(length)
	if payloadEnd > int64(len(d.region)) || d.base+payloadEnd > end {
		return nil, ErrNotFoundInDictionary
	}

	out := make([]byte, length)
	copy(out, d.region[payloadStart:payloadEnd])
	return out, nil
}

// ReadMessage decodes a length-delimited protobuf-style message at offset.
// Fails ErrNotFoundInDictionary if offset precedes the dictionary base or
// the decode would run past mapped/written bytes.
func (d *Dictionary) ReadMessage(offset int64) ([]byte, error) {
	return d.readRaw(offset)
}

// ReadString decodes a length-delimited raw UTF-8 payload at offset.
func (d *Dictionary) ReadString(offset int64) (string, error) {
	b, err := d.readRaw(offset)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

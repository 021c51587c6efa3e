package shmfile

import (
	"encoding/binary"
	"sync/atomic"

	"google.golang.org/protobuf/encoding/protowire"
)

// ringBufferHeaderSize is the on-disk size of RingBufferHeader (spec.md §3.2):
// num_buffers, buffer_size, reader_index, writer_index, each an 8-byte
// little-endian field.
const ringBufferHeaderSize = 32

const (
	offNumBuffers   = 0
	offBufferSize   = 8
	offReaderIndex  = 16
	offWriterIndex  = 24
)

// RingBuffer is a lock-free, fixed-slot MPSC ring buffer carrying
// variable-length, length-delimited records (spec.md §4.B).
//
// Capacity (num_buffers) must be a power of two; this is enforced at
// creation and relied upon everywhere a modulo is taken (index & (n-1)).
type RingBuffer struct {
	header   []byte // ringBufferHeaderSize bytes
	avail    []byte // 4*N bytes, N int32 cells
	slots    []byte // N*SLOT bytes
	capacity int64
	slotSize int64
	log2n    uint
}

func log2PowerOfTwo(n int64) uint {
	var shift uint
	for n > 1 {
		n >>= 1
		shift++
	}
	return shift
}

func initRingBuffer(region []byte, capacity, slotSize int64) *RingBuffer {
	header := region[:ringBufferHeaderSize]
	avail := region[ringBufferHeaderSize : ringBufferHeaderSize+4*capacity]
	slots := region[ringBufferHeaderSize+4*capacity:]

	*fieldPtr(header, offNumBuffers) = capacity
	*fieldPtr(header, offBufferSize) = slotSize
	atomic.StoreInt64(fieldPtr(header, offReaderIndex), -1)
	atomic.StoreInt64(fieldPtr(header, offWriterIndex), -1)

	for i := int64(0); i < capacity; i++ {
		avail32 := (*int32)(cell32(avail, i))
		atomic.StoreInt32(avail32, -1)
	}

	return &RingBuffer{
		header: header, avail: avail, slots: slots,
		capacity: capacity, slotSize: slotSize, log2n: log2PowerOfTwo(capacity),
	}
}

func attachRingBuffer(region []byte) *RingBuffer {
	header := region[:ringBufferHeaderSize]
	capacity := *fieldPtr(header, offNumBuffers)
	slotSize := *fieldPtr(header, offBufferSize)
	avail := region[ringBufferHeaderSize : ringBufferHeaderSize+4*capacity]
	slots := region[ringBufferHeaderSize+4*capacity:]
	return &RingBuffer{
		header: header, avail: avail, slots: slots,
		capacity: capacity, slotSize: slotSize, log2n: log2PowerOfTwo(capacity),
	}
}

// Capacity returns N, the (power-of-two) number of slots.
func (r *RingBuffer) Capacity() int64 { return r.capacity }

// SlotSize returns the fixed size of each slot in bytes.
func (r *RingBuffer) SlotSize() int64 { return r.slotSize }

func (r *RingBuffer) readerIndex() int64 { return atomic.LoadInt64(fieldPtr(r.header, offReaderIndex)) }
func (r *RingBuffer) writerIndex() int64 { return atomic.LoadInt64(fieldPtr(r.header, offWriterIndex)) }

// ReaderIndex and WriterIndex expose the cursors for observability (e.g. a
// fullness gauge in internal/health); both are acquire-loads.
func (r *RingBuffer) ReaderIndex() int64 { return r.readerIndex() }
func (r *RingBuffer) WriterIndex() int64 { return r.writerIndex() }

func cell32(avail []byte, idx int64) *int32 {
	return (*int32)(int32Ptr(avail, int(idx*4)))
}

// Publish writes payload (already encoded) into the ring, following the
// writer protocol of spec.md §4.B steps 1-5. Returns ErrWouldBlock if the
// ring is full, ErrRecordTooLarge if payload (plus its varint length
// prefix) does not fit in one slot.
func (r *RingBuffer) Publish(payload []byte) error {
	lengthPrefixSize := protowire.SizeVarint(uint64(len(payload)))
	if int64(lengthPrefixSize+len(payload)) > r.slotSize {
		return ErrRecordTooLarge
	}

	for {
		w := r.writerIndex()
		rdr := r.readerIndex()
		if w+1-r.capacity >= rdr {
			return ErrWouldBlock
		}
		if atomic.CompareAndSwapInt64(fieldPtr(r.header, offWriterIndex), w, w+1) {
			claimed := w + 1
			slotIdx := claimed & (r.capacity - 1)
			r.writeSlot(slotIdx, payload)
			generation := int32(claimed >> r.log2n)
			atomic.StoreInt32(cell32(r.avail, slotIdx), generation)
			return nil
		}
		// CAS lost the race; restart from step 1.
	}
}

func (r *RingBuffer) writeSlot(slotIdx int64, payload []byte) {
	start := slotIdx * r.slotSize
	buf := r.slots[start : start+r.slotSize]
	n := binary.PutUvarint(buf, uint64(len(payload)))
	copy(buf[n:], payload)
}

// TryRead attempts to read the next record following the reader protocol of
// spec.md §4.B. Returns ErrEmpty if the next slot has not been published
// yet. Single logical reader only (enforced by construction: callers must
// not share a RingBuffer's reader side across goroutines).
func (r *RingBuffer) TryRead() ([]byte, error) {
	rdr := r.readerIndex()
	target := rdr + 1
	slotIdx := target & (r.capacity - 1)
	expectedGeneration := int32(target >> r.log2n)

	generation := atomic.LoadInt32(cell32(r.avail, slotIdx))
	if generation != expectedGeneration {
		return nil, ErrEmpty
	}

	start := slotIdx * r.slotSize
	buf := r.slots[start : start+r.slotSize]
	length, n := binary.Uvarint(buf)
	if n <= 0 || int64(n)+int64(length) > r.slotSize {
		atomic.StoreInt64(fieldPtr(r.header, offReaderIndex), target)
		return nil, ErrDecode
	}
	record := make([]byte, length)
	copy(record, buf[n:int64(n)+int64(length)])

	atomic.StoreInt64(fieldPtr(r.header, offReaderIndex), target)
	return record, nil
}

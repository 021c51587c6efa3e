package shmfile

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// SupportedVersions is the set of file-format versions this build can open.
var SupportedVersions = map[int64]bool{1: true}

// CurrentVersion is the version stamped by Create.
const CurrentVersion int64 = 1

// headerSize is the on-disk size of FileHeader; only the first 48 bytes
// carry meaning, the rest is reserved padding (spec.md §3.1).
const headerSize = 64

// headerLayout mirrors the byte offsets of spec.md §3.1's FileHeader table.
// Each field is 8 bytes, little-endian, 8-byte aligned.
const (
	offVersion             = 0
	offEventsOffset        = 8
	offSpansOffset         = 16
	offMeasurementsOffset  = 24
	offDictionaryOffset    = 32
	offStartTimeUnixNano   = 40
)

// Header is a thin, type-punned view over the first 64 bytes of the mapped
// file. Every field that can change after creation (currently only
// start_time_unix_nano, used as a liveness/restart sentinel) must be
// accessed through atomic primitives on an 8-byte-aligned address obtained
// via unsafe.Pointer into the mapped slice -- never through a plain load or
// store. This is the file's one unavoidable type-punning, called out in
// spec.md §9 "Unsafe region".
//
// The technique is grounded on other_examples/AlephTX's shm seqlock (atomic
// reinterpretation of an mmap'd byte slice as a struct) and on
// other_examples/calvinalkan's slotcache (mmap + os.File header convention).
type Header struct {
	data []byte
}

func fieldPtr(data []byte, off int) *int64 {
	return (*int64)(unsafe.Pointer(&data[off]))
}

// Version returns the file format version. Written once at Create and never
// mutated, so a plain read is sufficient.
func (h *Header) Version() int64 { return *fieldPtr(h.data, offVersion) }

// EventsOffset returns the absolute byte offset of the events ring buffer.
func (h *Header) EventsOffset() int64 { return *fieldPtr(h.data, offEventsOffset) }

// SpansOffset returns the absolute byte offset of the span-events ring buffer.
func (h *Header) SpansOffset() int64 { return *fieldPtr(h.data, offSpansOffset) }

// MeasurementsOffset returns the absolute byte offset of the measurements ring.
func (h *Header) MeasurementsOffset() int64 { return *fieldPtr(h.data, offMeasurementsOffset) }

// DictionaryOffset returns the absolute byte offset of the dictionary.
func (h *Header) DictionaryOffset() int64 { return *fieldPtr(h.data, offDictionaryOffset) }

// StartTimeUnixNano acquire-loads the producer start-time stamp.
func (h *Header) StartTimeUnixNano() int64 {
	return atomic.LoadInt64(fieldPtr(h.data, offStartTimeUnixNano))
}

func (h *Header) setStartTimeUnixNano(v int64) {
	atomic.StoreInt64(fieldPtr(h.data, offStartTimeUnixNano), v)
}

// Sizing describes the capacity of the three rings and the initial
// dictionary footprint, used by Create to lay out a fresh file.
type Sizing struct {
	EventsCapacity       int64 // power of two; number of slots in the events ring
	EventsSlotSize       int64
	SpansCapacity        int64
	SpansSlotSize        int64
	MeasurementsCapacity int64
	MeasurementsSlotSize int64
	// DictionaryInitialSize is the dictionary's initial footprint in bytes.
	// Defaults to 1024 if zero (spec.md §6.1).
	DictionaryInitialSize int64
}

func (s Sizing) normalized() Sizing {
	if s.DictionaryInitialSize == 0 {
		s.DictionaryInitialSize = 1024
	}
	return s
}

func ringFootprint(capacity, slotSize int64) int64 {
	return ringBufferHeaderSize + 4*capacity + capacity*slotSize
}

// TotalSize computes the total file size implied by a Sizing, matching
// spec.md §6.1: header + three rings + dictionary.
func (s Sizing) TotalSize() int64 {
	s = s.normalized()
	return headerSize +
		ringFootprint(s.EventsCapacity, s.EventsSlotSize) +
		ringFootprint(s.SpansCapacity, s.SpansSlotSize) +
		ringFootprint(s.MeasurementsCapacity, s.MeasurementsSlotSize) +
		dictionaryHeaderSize + s.DictionaryInitialSize
}

func isPowerOfTwo(n int64) bool { return n > 0 && n&(n-1) == 0 }

func (s Sizing) validate() error {
	for name, cap := range map[string]int64{
		"events":       s.EventsCapacity,
		"spans":        s.SpansCapacity,
		"measurements": s.MeasurementsCapacity,
	} {
		if !isPowerOfTwo(cap) {
			return fmt.Errorf("shmfile: %s ring capacity %d is not a power of two", name, cap)
		}
	}
	return nil
}

// File is a memory-mapped shared-memory transport file, opened by either the
// producer (Create) or the collector (Open).
type File struct {
	f          *os.File
	data       []byte
	Header     *Header
	Events     *RingBuffer
	Spans      *RingBuffer
	Measurements *RingBuffer
	Dictionary *Dictionary

	startTimeAtOpen int64
}

// Create allocates a brand new shared-memory file at path, stamps the
// header and the three ring/dictionary skeletons, and opens it for shared
// read/write. Only the producer calls Create.
func Create(path string, sizing Sizing, startTimeUnixNano int64) (*File, error) {
	sizing = sizing.normalized()
	if err := sizing.validate(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("shmfile: create %q: %w", path, err)
	}

	total := sizing.TotalSize()
	if err := f.Truncate(total); err != nil {
		f.Close()
		return nil, fmt.Errorf("shmfile: truncate %q to %d: %w", path, total, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shmfile: mmap %q: %w", path, err)
	}

	eventsOff := int64(headerSize)
	spansOff := eventsOff + ringFootprint(sizing.EventsCapacity, sizing.EventsSlotSize)
	measOff := spansOff + ringFootprint(sizing.SpansCapacity, sizing.SpansSlotSize)
	dictOff := measOff + ringFootprint(sizing.MeasurementsCapacity, sizing.MeasurementsSlotSize)

	h := &Header{data: data[:headerSize]}
	*fieldPtr(h.data, offEventsOffset) = eventsOff
	*fieldPtr(h.data, offSpansOffset) = spansOff
	*fieldPtr(h.data, offDictionaryOffset) = dictOff
	*fieldPtr(h.data, offMeasurementsOffset) = measOff
	h.setStartTimeUnixNano(startTimeUnixNano)
	// version is written last among the fields we care about ordering for
	// readers, but first on disk; since this is the producer's initial
	// creation (no concurrent reader can observe a torn header yet) a
	// plain store following the atomic start-time store is sufficient.
	*fieldPtr(h.data, offVersion) = CurrentVersion

	events := initRingBuffer(data[eventsOff:spansOff], sizing.EventsCapacity, sizing.EventsSlotSize)
	spans := initRingBuffer(data[spansOff:measOff], sizing.SpansCapacity, sizing.SpansSlotSize)
	meas := initRingBuffer(data[measOff:dictOff], sizing.MeasurementsCapacity, sizing.MeasurementsSlotSize)
	dict := initDictionary(data[dictOff:], dictOff)

	return &File{
		f: f, data: data, Header: h,
		Events: events, Spans: spans, Measurements: meas, Dictionary: dict,
		startTimeAtOpen: startTimeUnixNano,
	}, nil
}

// Open maps an existing shared-memory file for the collector. It waits for
// nothing -- the caller (e.g. the collector CLI) is responsible for polling
// until the file exists, per spec.md §6.2.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shmfile: open %q: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := info.Size()
	if size < headerSize {
		f.Close()
		return nil, fmt.Errorf("shmfile: %q is too small to contain a header", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shmfile: mmap %q: %w", path, err)
	}

	h := &Header{data: data[:headerSize]}
	if !SupportedVersions[h.Version()] {
		unix.Munmap(data)
		f.Close()
		return nil, ErrVersionMismatch
	}

	eventsOff := h.EventsOffset()
	spansOff := h.SpansOffset()
	measOff := h.MeasurementsOffset()
	dictOff := h.DictionaryOffset()
	if !(eventsOff < spansOff && spansOff < measOff && measOff < dictOff) {
		unix.Munmap(data)
		f.Close()
		return nil, fmt.Errorf("shmfile: %q has corrupt section offsets", path)
	}

	events := attachRingBuffer(data[eventsOff:spansOff])
	spans := attachRingBuffer(data[spansOff:measOff])
	meas := attachRingBuffer(data[measOff:dictOff])
	dict := attachDictionary(data[dictOff:], dictOff)

	return &File{
		f: f, data: data, Header: h,
		Events: events, Spans: spans, Measurements: meas, Dictionary: dict,
		startTimeAtOpen: h.StartTimeUnixNano(),
	}, nil
}

// HasChanged reports whether start_time_unix_nano has changed since Open,
// meaning the producer was restarted and recreated the file (spec.md §3.7,
// §4.A).
func (file *File) HasChanged() bool {
	return file.Header.StartTimeUnixNano() != file.startTimeAtOpen
}

// Close unmaps the file and closes the descriptor. Neither side truncates
// the file on close; destruction is external (spec.md §3.7).
func (file *File) Close() error {
	err := unix.Munmap(file.data)
	if cerr := file.f.Close(); err == nil {
		err = cerr
	}
	return err
}

package shmfile

import "unsafe"

// int32Ptr reinterprets the 4 bytes of data starting at byte offset off as
// an *int32, for atomic access to availability cells. Cells are allocated
// on 4-byte boundaries by construction (initRingBuffer/attachRingBuffer lay
// them out as a contiguous N*4-byte array immediately after the 32-byte,
// 8-byte-aligned ring header), so this is always naturally aligned.
func int32Ptr(data []byte, off int) unsafe.Pointer {
	return unsafe.Pointer(&data[off])
}

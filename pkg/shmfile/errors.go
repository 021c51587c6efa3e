// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of otlpshm.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package shmfile implements the shared-memory OpenTelemetry transport: the
// bit-exact file header, the lock-free MPSC ring buffers, and the
// append-only dictionary that a producer process and a collector process
// exchange via a memory-mapped file.
package shmfile

import "errors"

// Sentinel errors, mirroring the teacher's flat Err* style rather than a
// generated error-code enum (see pkg/metricstore's exported Err values).
var (
	// ErrVersionMismatch is returned by Open when the file's version field
	// is not in the set of versions this build understands.
	ErrVersionMismatch = errors.New("shmfile: version mismatch")

	// ErrWouldBlock is returned by a ring buffer writer when the ring is
	// full (writer has caught up to the reader).
	ErrWouldBlock = errors.New("shmfile: ring buffer would block")

	// ErrEmpty is returned by a ring buffer reader when no new slot has
	// been published yet.
	ErrEmpty = errors.New("shmfile: ring buffer empty")

	// ErrRecordTooLarge is returned by a writer when an encoded record does
	// not fit in a single slot. The record is dropped; callers should count
	// it as lost telemetry.
	ErrRecordTooLarge = errors.New("shmfile: record exceeds slot size")

	// ErrNotFoundInDictionary is returned when a referenced offset precedes
	// the dictionary base or lies beyond the currently mapped/written
	// region.
	ErrNotFoundInDictionary = errors.New("shmfile: offset not found in dictionary")

	// ErrDecode is returned when a length-delimited payload is malformed.
	ErrDecode = errors.New("shmfile: malformed record")

	// ErrDictionaryFull is returned by Dictionary.Append when the entry
	// would overflow the mapped dictionary region. Remapping-on-growth is
	// not implemented (spec open question); the caller drops the item.
	ErrDictionaryFull = errors.New("shmfile: dictionary region full")

	// ErrFileReplaced names the condition of start_time_unix_nano having
	// changed since open (the producer restarted and recreated the file).
	// Nothing in this module returns it: the export pipelines report that
	// condition as export.ErrFileOutOfDate.
	ErrFileReplaced = errors.New("shmfile: file replaced (start time changed)")
)

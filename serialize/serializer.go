// Copyright (C) 2022 Grok Image Compression Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package serialize wraps one ioback.Backend and one align.Pool behind
// the single entry point an image format driver writes through (spec
// §3, §4.3).
package serialize

import (
	"sync/atomic"

	"github.com/grokimage/dtiffw/align"
	"github.com/grokimage/dtiffw/ioback"
)

// Logger mirrors ioback.Logger so callers importing only serialize
// don't need to import ioback for the type.
type Logger = ioback.Logger

// Serializer is grounded on original_source/src/Serializer.h/.cpp: it
// owns exactly one back-end and one buffer pool, and can be attached
// to a parent Serializer so a per-worker instance fans out against the
// parent's open file instead of opening its own.
type Serializer struct {
	backend ioback.Backend
	pool    align.Pool
	logger  Logger

	outstanding    int32
	maxOutstanding int32
}

// New wraps backend (not yet opened) in a Serializer.
func New(backend ioback.Backend, logger Logger) *Serializer {
	return &Serializer{backend: backend, logger: logger}
}

// Open opens the backing file.
func (s *Serializer) Open(name, mode string, direct, flushOnClose bool) error {
	return s.backend.Open(name, mode, direct, flushOnClose)
}

// Attach shares parent's backend (file descriptor, and for an async
// backend its submission queue) instead of opening one of its own.
func (s *Serializer) Attach(parent *Serializer) error {
	return s.backend.Attach(parent.backend)
}

// GetPoolBuffer returns a buffer of at least len bytes from this
// Serializer's pool, allocating one if the pool is empty.
func (s *Serializer) GetPoolBuffer(length uint64) *align.Buf {
	return s.pool.Get(length)
}

// PutPoolBuffer returns buf to this Serializer's pool, e.g. from a
// write's reclaim callback once the write completes.
func (s *Serializer) PutPoolBuffer(buf *align.Buf) {
	s.pool.Put(buf)
}

// Pool exposes the underlying buffer pool, e.g. for a chunk that needs
// to allocate directly against it (stripe.IOChunk.Alloc).
func (s *Serializer) Pool() *align.Pool { return &s.pool }

// Write submits offset/bufs to the back-end on behalf of workerID.
// reclaim, if given, fires once the write completes, passing workerID
// and whether the write succeeded; callers must latch a failure from
// the ok flag rather than Write's return value alone, since the async
// backend's Write always returns nil once the request is enqueued.
func (s *Serializer) Write(offset uint64, bufs [][]byte, workerID uint32, reclaim func(workerID uint32, ok bool)) error {
	return s.backend.Write(offset, bufs, workerID, reclaim)
}

// SetMaxOutstanding records how many writes this Serializer expects to
// issue in total (one per strip it owns), so CountOutstanding can
// report when the last one lands — the Go-idiomatic replacement for
// Serializer::setMaxPooledRequests / allPooledRequestsComplete, which
// used the count to decide when to auto-close the C++ object.
func (s *Serializer) SetMaxOutstanding(n int32) {
	atomic.StoreInt32(&s.maxOutstanding, n)
}

// CountOutstanding records one more completed write and reports
// whether it was the last one expected.
func (s *Serializer) CountOutstanding() bool {
	return atomic.AddInt32(&s.outstanding, 1) == atomic.LoadInt32(&s.maxOutstanding)
}

// Close closes the back-end.
func (s *Serializer) Close() error {
	return s.backend.Close()
}

func (s *Serializer) logf(f string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(f, args...)
	}
}

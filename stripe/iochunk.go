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

package stripe

import (
	"sync/atomic"

	"github.com/grokimage/dtiffw/align"
)

// IOChunk is an aligned file region [Offset, Offset+Len). Non-seam
// chunks are exclusively owned by one Strip; seam chunks are shared
// (ref-counted) between the left strip's last StripChunk and the
// right strip's first StripChunk (spec §3, §4.5, §4.6).
//
// Where the original C++ source models sharing with an intrusive
// RefCounted<T> base and an explicit transferBuf() ownership handoff,
// this port keeps it simple: in Go the shared *IOChunk pointer already
// is the shared-ownership handle (spec §9 design notes), so both
// owners simply hold the buffer by reference and write into disjoint
// byte ranges of it. refCount here tracks only how many StripChunks
// (plus, transiently, the plan) still reference the chunk, for the
// "no chunk outlives its strips" testable property (spec §8 property
// 6); it does not gate when the underlying buffer returns to the
// pool — that happens exactly once, when the I/O back-end's reclaim
// callback fires after the single write that chunk participates in
// completes (spec §4.3, §5).
type IOChunk struct {
	Offset uint64
	Len    uint64

	buf *align.Buf

	refCount      int32
	acquireCount  int32
	acquireTarget int32
}

// newIOChunk creates an IOChunk. If pool is non-nil the buffer is
// allocated eagerly and the chunk is marked shared (acquireTarget=2,
// refCount=2) — used for the last chunk of a strip that has a
// last-seam, so the right-hand neighbour can borrow it by reference
// before that neighbour's own plan step runs (spec §4.5).
func newIOChunk(offset, length uint64, pool *align.Pool) *IOChunk {
	c := &IOChunk{Offset: offset, Len: length, refCount: 1, acquireTarget: 1}
	if pool != nil {
		c.Alloc(pool)
		c.share()
	}
	return c
}

// share marks the chunk seam-shared: acquireTarget and refCount each
// gain one more claimant (the neighbouring strip).
func (c *IOChunk) share() *IOChunk {
	atomic.AddInt32(&c.acquireTarget, 1)
	atomic.AddInt32(&c.refCount, 1)
	return c
}

// IsShared reports whether this chunk is a seam (acquireTarget > 1).
func (c *IOChunk) IsShared() bool {
	return atomic.LoadInt32(&c.acquireTarget) > 1
}

// Alloc lazily allocates the chunk's buffer from pool. A no-op if
// already allocated (the seam case, allocated at construction).
func (c *IOChunk) Alloc(pool *align.Pool) {
	if c.buf != nil {
		return
	}
	c.buf = pool.Get(c.Len)
	c.buf.Offset = c.Offset
}

// Buf returns the chunk's buffer, or nil if not yet allocated.
func (c *IOChunk) Buf() *align.Buf {
	return c.buf
}

// SetHeader copies header into the start of the buffer and records
// the header-skip prefix length, used only for strip 0's first chunk.
func (c *IOChunk) SetHeader(header []byte) {
	copy(c.buf.Data, header)
	c.buf.Skip = uint64(len(header))
}

// Acquire performs the acquire handshake (spec §4.6): exactly one
// caller, among the chunk's acquireTarget owners, observes the
// returned value true and is responsible for submitting the write.
func (c *IOChunk) Acquire() bool {
	return atomic.AddInt32(&c.acquireCount, 1) == atomic.LoadInt32(&c.acquireTarget)
}

// Release drops one strip's reference to the chunk. It does not
// return the buffer to a pool — see the type doc comment.
func (c *IOChunk) Release() int32 {
	n := atomic.AddInt32(&c.refCount, -1)
	if n < 0 {
		panic("stripe: IOChunk released more times than referenced")
	}
	return n
}

// RefCount reports the chunk's current reference count, for tests.
func (c *IOChunk) RefCount() int32 {
	return atomic.LoadInt32(&c.refCount)
}

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

import "github.com/grokimage/dtiffw/align"

// StripChunk is one strip's view onto an IOChunk: the sub-range of the
// chunk's buffer that belongs to this strip (spec §3). For an
// exclusive chunk, WritableOffset is 0 and WritableLen == Chunk.Len,
// except strip 0's first chunk, whose writable range starts after the
// header bytes.
// For a seam chunk, the two owning StripChunks (one per neighbouring
// strip) carve up the same buffer into disjoint ranges.
type StripChunk struct {
	Chunk          *IOChunk
	WritableOffset uint64
	WritableLen    uint64
}

func newStripChunk(chunk *IOChunk, writableOffset, writableLen uint64) *StripChunk {
	return &StripChunk{Chunk: chunk, WritableOffset: writableOffset, WritableLen: writableLen}
}

// Offset returns the chunk's absolute file offset.
func (sc *StripChunk) Offset() uint64 { return sc.Chunk.Offset }

// Len returns the chunk's full aligned length.
func (sc *StripChunk) Len() uint64 { return sc.Chunk.Len }

// IsShared reports whether the underlying chunk is a seam.
func (sc *StripChunk) IsShared() bool { return sc.Chunk.IsShared() }

// Alloc ensures the underlying chunk's buffer is allocated.
func (sc *StripChunk) Alloc(pool *align.Pool) { sc.Chunk.Alloc(pool) }

// Buf returns the underlying chunk's buffer.
func (sc *StripChunk) Buf() *align.Buf { return sc.Chunk.Buf() }

// Writable returns the byte range of the chunk's buffer this strip is
// responsible for filling.
func (sc *StripChunk) Writable() []byte {
	b := sc.Chunk.Buf()
	return b.Data[sc.WritableOffset : sc.WritableOffset+sc.WritableLen]
}

// SetHeader writes header at the start of the chunk's buffer (strip
// 0's first chunk only) and shifts this chunk's writable range past it.
func (sc *StripChunk) SetHeader(header []byte) {
	sc.Chunk.SetHeader(header)
	sc.WritableOffset = uint64(len(header))
}

// Acquire performs the acquire handshake on the underlying chunk.
func (sc *StripChunk) Acquire() bool { return sc.Chunk.Acquire() }

// Release drops this strip's reference to the underlying chunk.
func (sc *StripChunk) Release() int32 { return sc.Chunk.Release() }

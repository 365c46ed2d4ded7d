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

import "fmt"

// span is an aligned-or-not half-open byte range [x0, x1).
type span struct {
	x0, x1 uint64
}

func (s span) len() uint64 { return s.x1 - s.x0 }

// ChunkInfo is the per-strip derived aligned-I/O footprint (spec §3,
// §4.4). It is pure arithmetic: it owns no buffers.
type ChunkInfo struct {
	First span
	Last  span

	writeSize    uint64
	headerSize   uint64
	isFirstStrip bool
	isFinalStrip bool
}

// newChunkInfo computes the ChunkInfo for one strip, grounded directly
// on original_source/src/ImageStripper.h's ChunkInfo constructor.
func newChunkInfo(isFirstStrip, isFinalStrip bool, logicalOffset, logicalLen, logicalOffsetPrev, logicalLenPrev, headerSize, writeSize uint64) ChunkInfo {
	ci := ChunkInfo{
		writeSize:    writeSize,
		headerSize:   headerSize,
		isFirstStrip: isFirstStrip,
		isFinalStrip: isFinalStrip,
	}
	ci.Last.x0 = ci.lastBegin(logicalOffset, logicalLen)
	ci.Last.x1 = ci.stripEnd(logicalOffset, logicalLen)
	ci.First.x0 = ci.stripOffset(logicalOffset)
	firstX1 := writeSize
	if !isFirstStrip {
		firstX1 = lastBeginFor(false, headerSize, writeSize, logicalOffsetPrev, logicalLenPrev) + writeSize
	}
	if firstX1 > ci.Last.x1 {
		firstX1 = ci.Last.x1
	}
	ci.First.x1 = firstX1

	firstOverlapsLast := ci.First.x1 == ci.Last.x1
	if !firstOverlapsLast && (ci.Last.x0-ci.First.x1)%writeSize != 0 {
		panic(fmt.Sprintf("stripe: plan violation: (last.x0=%d - first.x1=%d) not a multiple of writeSize=%d", ci.Last.x0, ci.First.x1, writeSize))
	}
	if ci.First.x0 > ci.First.x1 {
		panic("stripe: plan violation: first.x0 > first.x1")
	}
	if ci.Last.x0 > ci.Last.x1 {
		panic("stripe: plan violation: last.x0 > last.x1")
	}
	if !firstOverlapsLast && ci.First.x1 > ci.Last.x0 {
		panic("stripe: plan violation: first.x1 > last.x0")
	}
	return ci
}

// stripOffset is the strip's physical start in the file: header bytes
// shift every strip but the first.
func (ci ChunkInfo) stripOffset(logicalOffset uint64) uint64 {
	if ci.isFirstStrip {
		return 0
	}
	return ci.headerSize + logicalOffset
}

// stripEnd is the strip's physical end in the file.
func (ci ChunkInfo) stripEnd(logicalOffset, logicalLen uint64) uint64 {
	end := ci.stripOffset(logicalOffset) + logicalLen
	if ci.isFirstStrip {
		end += ci.headerSize
	}
	return end
}

// lastBegin is the greatest multiple of writeSize <= this strip's
// physical end.
func (ci ChunkInfo) lastBegin(logicalOffset, logicalLen uint64) uint64 {
	end := ci.stripEnd(logicalOffset, logicalLen)
	return (end / ci.writeSize) * ci.writeSize
}

// lastBeginFor recomputes lastBegin for the previous strip without
// requiring a full ChunkInfo for it (only isFirstStrip/headerSize/
// writeSize/logicalOffset/logicalLen are needed, and the previous
// strip is never itself strip 0's "first" special case when i-1 >= 0
// unless i == 1, in which case isFirstStrip is true for it).
func lastBeginFor(isFirstStrip bool, headerSize, writeSize, logicalOffset, logicalLen uint64) uint64 {
	tmp := ChunkInfo{headerSize: headerSize, writeSize: writeSize, isFirstStrip: isFirstStrip}
	return tmp.lastBegin(logicalOffset, logicalLen)
}

// Len returns the strip's full aligned I/O footprint length.
func (ci ChunkInfo) Len() uint64 {
	return ci.Last.x1 - ci.First.x0
}

// HasFirstSeam reports whether this strip shares its first chunk with
// its left neighbour.
func (ci ChunkInfo) HasFirstSeam() bool {
	return !ci.isFirstStrip && !IsAlignedToWriteSize(ci.First.x0, ci.writeSize)
}

// HasLastSeam reports whether this strip shares its last chunk with
// its right neighbour.
func (ci ChunkInfo) HasLastSeam() bool {
	return !ci.isFinalStrip && !IsAlignedToWriteSize(ci.Last.x1, ci.writeSize)
}

// IsAlignedToWriteSize reports whether off is a multiple of writeSize.
func IsAlignedToWriteSize(off, writeSize uint64) bool {
	return off%writeSize == 0
}

// NumChunks returns the number of aligned I/O chunks this strip spans.
func (ci ChunkInfo) NumChunks() uint32 {
	if ci.First.x1 == ci.Last.x1 {
		return 1
	}
	nonSeamBegin := ci.First.x0
	if ci.HasFirstSeam() {
		nonSeamBegin = ci.First.x1
	}
	nonSeamEnd := ci.Last.x1
	if ci.HasLastSeam() {
		nonSeamEnd = ci.Last.x0
	}
	rc := uint32((nonSeamEnd - nonSeamBegin + ci.writeSize - 1) / ci.writeSize)
	if ci.HasFirstSeam() {
		rc++
	}
	if ci.HasLastSeam() {
		rc++
	}
	return rc
}

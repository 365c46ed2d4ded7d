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
	"fmt"

	"github.com/grokimage/dtiffw/align"
)

// Strip is one horizontal slice of the image, subdivided into an
// ordered array of StripChunks (spec §3, §4.5).
type Strip struct {
	LogicalOffset uint64
	LogicalLen    uint64

	leftNeighbour *Strip
	chunkInfo     ChunkInfo
	chunks        []*StripChunk
}

func newStrip(offset, length uint64, neighbour *Strip) *Strip {
	return &Strip{LogicalOffset: offset, LogicalLen: length, leftNeighbour: neighbour}
}

// generateChunks builds this strip's StripChunk array from chunkInfo,
// ported directly from Strip::generateChunks in
// original_source/src/ImageStripper.h. Seam chunks (first or last) are
// either borrowed from the left neighbour or allocated eagerly and
// shared so that neighbour can borrow them in turn.
func (s *Strip) generateChunks(chunkInfo ChunkInfo, pool *align.Pool) {
	s.chunkInfo = chunkInfo
	numChunks := chunkInfo.NumChunks()
	s.chunks = make([]*StripChunk, numChunks)

	var writeableTotal uint64

	if numChunks == 1 {
		ioChunk := newIOChunk(0, chunkInfo.First.x1, nil)
		var writeableOffset, writeableLen uint64
		if chunkInfo.isFirstStrip {
			writeableOffset = chunkInfo.headerSize
			writeableLen = chunkInfo.First.x1 - chunkInfo.headerSize
		} else {
			writeableOffset = chunkInfo.First.x0
			writeableLen = chunkInfo.First.len()
		}
		s.chunks[0] = newStripChunk(ioChunk, writeableOffset, writeableLen)
		writeableTotal = writeableLen
	}

	for i := uint32(0); numChunks > 1 && i < numChunks; i++ {
		off := (chunkInfo.First.x1 - chunkInfo.writeSize) + uint64(i)*chunkInfo.writeSize
		lastChunkOfAll := chunkInfo.isFinalStrip && i == numChunks-1
		length := chunkInfo.writeSize
		if lastChunkOfAll {
			length = chunkInfo.Last.len()
		}

		writeableOffset := uint64(0)
		writeableLen := length
		sharedLastChunk := false
		firstSeam := i == 0 && chunkInfo.HasFirstSeam()
		lastSeam := i == numChunks-1 && !lastChunkOfAll && chunkInfo.HasLastSeam()

		switch {
		case firstSeam:
			if s.leftNeighbour == nil {
				panic("stripe: first-seam chunk has no left neighbour")
			}
			off = s.leftNeighbour.finalChunk().Offset()
			if chunkInfo.First.x0 <= off {
				panic("stripe: plan violation: first seam chunk offset mismatch")
			}
			writeableOffset = chunkInfo.First.x0 - off
			writeableLen = chunkInfo.First.len()
		case lastSeam:
			off = chunkInfo.Last.x0
			writeableLen = chunkInfo.Last.len()
			if lastChunkOfAll {
				length = writeableLen
			} else {
				sharedLastChunk = true
			}
		case chunkInfo.isFirstStrip && i == 0:
			writeableOffset += chunkInfo.headerSize
			writeableLen -= chunkInfo.headerSize
		}
		writeableTotal += writeableLen

		var ioChunk *IOChunk
		if firstSeam {
			ioChunk = s.leftNeighbour.finalChunk().Chunk
		} else {
			var sharePool *align.Pool
			if sharedLastChunk {
				sharePool = pool
			}
			ioChunk = newIOChunk(off, length, sharePool)
		}
		s.chunks[i] = newStripChunk(ioChunk, writeableOffset, writeableLen)
	}

	s.validateChunks(chunkInfo, writeableTotal)
}

// validateChunks mirrors the post-construction asserts in the original
// Strip::generateChunks.
func (s *Strip) validateChunks(chunkInfo ChunkInfo, writeableTotal uint64) {
	numChunks := len(s.chunks)
	last := s.chunks[numChunks-1]

	var writeableEnd uint64
	if numChunks > 1 {
		writeableEnd = last.Offset() + last.WritableLen
	} else {
		writeableEnd = last.Offset() + last.WritableOffset + last.WritableLen
	}
	if writeableEnd != chunkInfo.Last.x1 {
		panic(fmt.Sprintf("stripe: plan violation: writeableEnd=%d != last.x1=%d", writeableEnd, chunkInfo.Last.x1))
	}
	if chunkInfo.isFirstStrip && s.chunks[0].Offset() != 0 {
		panic("stripe: plan violation: first strip's first chunk offset != 0")
	}

	writeableBegin := s.chunks[0].Offset() + s.chunks[0].WritableOffset
	wantBegin := chunkInfo.First.x0
	if chunkInfo.isFirstStrip {
		wantBegin += chunkInfo.headerSize
	}
	if writeableBegin != wantBegin {
		panic(fmt.Sprintf("stripe: plan violation: writeableBegin=%d != want=%d", writeableBegin, wantBegin))
	}
	if writeableEnd-writeableBegin != s.LogicalLen {
		panic("stripe: plan violation: writeable span != strip logical length")
	}
	if s.LogicalLen != writeableTotal {
		panic("stripe: plan violation: writeable total != strip logical length")
	}
}

// ChunkArray materializes the strip's buffers: ensures each chunk's
// buffer is allocated, stamps the header onto the first chunk when
// given, and returns the ordered chunk list. Where the original C++
// transfers buffer ownership out of each IOChunk (nulling its pointer,
// since C++ has no GC), this port simply hands out the shared *IOChunk
// by reference — both StripChunks on a seam keep seeing the same
// buffer (spec §9 design notes).
func (s *Strip) ChunkArray(pool *align.Pool, header []byte) []*StripChunk {
	for i, sc := range s.chunks {
		sc.Alloc(pool)
		if header != nil && i == 0 {
			sc.SetHeader(header)
		}
	}
	return s.chunks
}

func (s *Strip) finalChunk() *StripChunk { return s.chunks[len(s.chunks)-1] }

// FirstChunk returns the strip's first StripChunk.
func (s *Strip) FirstChunk() *StripChunk { return s.chunks[0] }

// FinalChunk returns the strip's last StripChunk.
func (s *Strip) FinalChunk() *StripChunk { return s.finalChunk() }

// NumChunks returns the number of StripChunks in this strip.
func (s *Strip) NumChunks() int { return len(s.chunks) }

// ChunkInfo returns the strip's derived aligned-I/O footprint.
func (s *Strip) ChunkInfo() ChunkInfo { return s.chunkInfo }

// ReleaseChunks drops this strip's reference to each of its chunks
// (spec §4.6 step 5, §8 property 6).
func (s *Strip) ReleaseChunks() {
	for _, sc := range s.chunks {
		sc.Release()
	}
}

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

// ImageStripper owns the full strip plan for one image: its Geometry
// plus, when chunked I/O is in use, the realized IOChunk/StripChunk
// graph for every strip (spec §3, §4).
//
// Passing a nil pool builds the Strip array without chunk graphs —
// the "non-chunked" path (spec's supplemented whole-strip mode), where
// a strip's entire aligned footprint is written as a single buffer
// with no seam bookkeeping.
type ImageStripper struct {
	Geometry Geometry

	headerSize uint64
	writeSize  uint64
	finalStrip uint32

	strips []*Strip
}

// NewImageStripper validates geometry and header size, then builds the
// per-strip plan. When pool is non-nil, every strip's chunk graph is
// generated eagerly (spec §4.1, §4.5).
func NewImageStripper(geom Geometry, headerSize, writeSize uint64, pool *align.Pool) (*ImageStripper, error) {
	if err := validateHeader(headerSize, writeSize); err != nil {
		return nil, err
	}
	numStrips := geom.StripCount()
	is := &ImageStripper{
		Geometry:   geom,
		headerSize: headerSize,
		writeSize:  writeSize,
		finalStrip: numStrips - 1,
		strips:     make([]*Strip, numStrips),
	}
	for i := uint32(0); i < numStrips; i++ {
		var neighbour *Strip
		if i > 0 {
			neighbour = is.strips[i-1]
		}
		strip := newStrip(geom.LogicalOffset(i), geom.StripByteLen(i), neighbour)
		is.strips[i] = strip
		if pool != nil {
			strip.generateChunks(is.GetChunkInfo(i), pool)
		}
	}
	return is, nil
}

// GetStrip returns the strip at the given index.
func (is *ImageStripper) GetStrip(strip uint32) *Strip {
	return is.strips[strip]
}

// NumStrips returns the number of strips in the plan.
func (is *ImageStripper) NumStrips() uint32 {
	return uint32(len(is.strips))
}

// GetChunkInfo computes the ChunkInfo for the given strip index (spec
// §4.4), grounded on ImageStripper::getChunkInfo.
func (is *ImageStripper) GetChunkInfo(strip uint32) ChunkInfo {
	var logicalOffsetPrev, logicalLenPrev uint64
	if strip > 0 {
		prev := is.strips[strip-1]
		logicalOffsetPrev = prev.LogicalOffset
		logicalLenPrev = prev.LogicalLen
	}
	s := is.strips[strip]
	return newChunkInfo(
		strip == 0,
		strip == is.finalStrip,
		s.LogicalOffset,
		s.LogicalLen,
		logicalOffsetPrev,
		logicalLenPrev,
		is.headerSize,
		is.writeSize,
	)
}

// HeaderSize returns the configured header size.
func (is *ImageStripper) HeaderSize() uint64 { return is.headerSize }

// WriteSize returns the configured write-alignment size.
func (is *ImageStripper) WriteSize() uint64 { return is.writeSize }

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

// Package stripe implements the strip-to-aligned-block planner: the
// pure arithmetic that divides an image into strips and subdivides
// each strip into write-aligned I/O chunks, plus the runtime graph
// (IOChunk/StripChunk/Strip) that realizes the plan for a given set of
// worker-filled buffers.
package stripe

import (
	"errors"
	"fmt"
)

// Sentinel configuration errors, detected synchronously at construction
// (spec §7).
var (
	ErrZeroWidth          = errors.New("stripe: image width must be non-zero")
	ErrZeroHeight         = errors.New("stripe: image height must be non-zero")
	ErrZeroComponentCount = errors.New("stripe: component count must be non-zero")
	ErrZeroStripHeight    = errors.New("stripe: nominal strip height must be non-zero")
	ErrHeaderTooLarge     = errors.New("stripe: header size must be smaller than the write-alignment size")
)

// Geometry describes an image's immutable layout.
type Geometry struct {
	Width              uint32
	Height             uint32
	ComponentCount     uint16
	NominalStripHeight uint32

	// PackedRowBytes is the number of bytes per image row:
	// width * componentCount * bytes-per-sample. This port only
	// supports 8-bit samples (spec §6, TIFF BitsPerSample == 8), so
	// PackedRowBytes == Width * ComponentCount.
	PackedRowBytes uint64

	stripCount       uint32
	finalStripHeight uint32
}

// NewGeometry validates and derives an image's strip geometry.
func NewGeometry(width, height uint32, componentCount uint16, nominalStripHeight uint32) (Geometry, error) {
	if width == 0 {
		return Geometry{}, ErrZeroWidth
	}
	if height == 0 {
		return Geometry{}, ErrZeroHeight
	}
	if componentCount == 0 {
		return Geometry{}, ErrZeroComponentCount
	}
	if nominalStripHeight == 0 {
		return Geometry{}, ErrZeroStripHeight
	}
	g := Geometry{
		Width:              width,
		Height:             height,
		ComponentCount:     componentCount,
		NominalStripHeight: nominalStripHeight,
		PackedRowBytes:     uint64(width) * uint64(componentCount),
	}
	g.stripCount = (height + nominalStripHeight - 1) / nominalStripHeight
	if height%nominalStripHeight != 0 {
		g.finalStripHeight = height - (height/nominalStripHeight)*nominalStripHeight
	} else {
		g.finalStripHeight = nominalStripHeight
	}
	return g, nil
}

// StripCount returns ⌈height / nominalStripHeight⌉.
func (g Geometry) StripCount() uint32 {
	return g.stripCount
}

// StripHeight returns the row count of strip i.
func (g Geometry) StripHeight(i uint32) uint32 {
	if i < g.stripCount-1 {
		return g.NominalStripHeight
	}
	return g.finalStripHeight
}

// StripByteLen returns the logical (unshifted by header) byte length
// of strip i.
func (g Geometry) StripByteLen(i uint32) uint64 {
	return uint64(g.StripHeight(i)) * g.PackedRowBytes
}

// LogicalOffset returns strip i's logical offset: i * nominalStripHeight * packedRowBytes.
func (g Geometry) LogicalOffset(i uint32) uint64 {
	return uint64(i) * uint64(g.NominalStripHeight) * g.PackedRowBytes
}

// validateHeader checks headerSize against writeSize per spec §7.
func validateHeader(headerSize, writeSize uint64) error {
	if headerSize >= writeSize {
		return fmt.Errorf("%w: headerSize=%d writeSize=%d", ErrHeaderTooLarge, headerSize, writeSize)
	}
	return nil
}

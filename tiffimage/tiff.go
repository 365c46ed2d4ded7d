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

// Package tiffimage is the ImageFormat driver: it ties the strip
// planner, the serializer, and a classic-TIFF header/IFD emitter
// together (spec §4.7, §6).
package tiffimage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/grokimage/dtiffw/stripe"
)

// TIFF field types (classic TIFF / TIFF 6.0 §2).
const (
	tiffShort = 3
	tiffLong  = 4
)

// TIFF tag numbers this encoder emits. Only the tags spec §6 names are
// strictly required (width, length, samples per pixel, bits per
// sample, photometric, planar config, rows per strip); StripOffsets,
// StripByteCounts, and Compression are added so the file an
// independent reader opens actually locates its strip data, which
// the spec's own scenario S6 implicitly requires ("reading those
// bytes via an independent TIFF reader").
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
)

const (
	photometricMinIsBlack = 1
	photometricRGB        = 2
	planarConfigContig    = 1
	compressionNone       = 1
)

// ErrHeaderTooSmallForTIFF means headerSize can't hold the 8-byte
// classic-TIFF header (magic + version + directory offset).
var ErrHeaderTooSmallForTIFF = errors.New("tiffimage: headerSize must be at least 8 bytes")

// ErrFileTooLargeForClassicTIFF means an offset in the plan exceeds
// what a 4-byte classic-TIFF offset field can hold; BigTIFF is out of
// scope (spec §1 non-goals: multi-directory/large-format TIFFs).
var ErrFileTooLargeForClassicTIFF = errors.New("tiffimage: file exceeds classic TIFF's 4GiB offset limit")

type ifdEntry struct {
	tag, typ uint16
	count    uint32
	inline   [4]byte
	extra    []byte
}

func newEntry(tag, typ uint16, count uint32, data []byte) ifdEntry {
	e := ifdEntry{tag: tag, typ: typ, count: count}
	if len(data) <= 4 {
		copy(e.inline[:], data)
	} else {
		e.extra = data
	}
	return e
}

func shortsBytes(vals []uint16) []byte {
	b := make([]byte, len(vals)*2)
	for i, v := range vals {
		binary.LittleEndian.PutUint16(b[i*2:], v)
	}
	return b
}

func longsBytes(vals []uint32) []byte {
	b := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[i*4:], v)
	}
	return b
}

// buildIFD lays out entries as one classic-TIFF IFD: a 2-byte entry
// count, the entries themselves (12 bytes each, in ascending tag
// order as the caller constructed them), a 4-byte next-IFD offset
// (always 0 — this encoder never emits more than one directory, per
// spec §1 non-goals), and any out-of-line array data the entries
// reference.
func buildIFD(entries []ifdEntry, ifdOffset uint64) []byte {
	fixedSize := 2 + len(entries)*12 + 4
	offsets := make([]uint32, len(entries))
	cur := uint32(fixedSize)
	var extra []byte
	for i, e := range entries {
		if e.extra != nil {
			offsets[i] = uint32(ifdOffset) + cur
			extra = append(extra, e.extra...)
			cur += uint32(len(e.extra))
		}
	}

	buf := make([]byte, 0, cur)
	var tmp2 [2]byte
	binary.LittleEndian.PutUint16(tmp2[:], uint16(len(entries)))
	buf = append(buf, tmp2[:]...)
	for i, e := range entries {
		var entryBuf [12]byte
		binary.LittleEndian.PutUint16(entryBuf[0:2], e.tag)
		binary.LittleEndian.PutUint16(entryBuf[2:4], e.typ)
		binary.LittleEndian.PutUint32(entryBuf[4:8], e.count)
		if e.extra != nil {
			binary.LittleEndian.PutUint32(entryBuf[8:12], offsets[i])
		} else {
			copy(entryBuf[8:12], e.inline[:])
		}
		buf = append(buf, entryBuf[:]...)
	}
	buf = append(buf, 0, 0, 0, 0)
	buf = append(buf, extra...)
	return buf
}

// buildClassicHeader writes the 8-byte classic-TIFF header ("II",
// version 42, directory offset) into the first 8 bytes of a
// headerSize-byte buffer, zero-padding any remainder (spec allows
// headerSize to exceed the TIFF library's own fixed header).
func buildClassicHeader(headerSize uint64, dirOffset uint32) []byte {
	h := make([]byte, headerSize)
	h[0], h[1] = 'I', 'I'
	binary.LittleEndian.PutUint16(h[2:4], 42)
	binary.LittleEndian.PutUint32(h[4:8], dirOffset)
	return h
}

// buildTIFF computes, from geometry alone, the complete set of bytes
// this encoder will ever need to emit for the file header and
// directory: the classic 8-byte header (embedded in strip 0's first
// chunk at plan time) and the IFD (written once, at EncodeFinish).
// Because this format never compresses pixels, the final file size —
// and therefore the directory offset — is a pure function of
// geometry, so there is no need to defer this computation to a
// simulated second pass the way a libtiff-backed implementation must
// (spec §9 design notes, SPEC_FULL.md Open Question resolution).
func buildTIFF(geom stripe.Geometry, headerSize uint64) (header, ifd []byte, ifdOffset uint64, err error) {
	if headerSize < 8 {
		return nil, nil, 0, fmt.Errorf("%w: headerSize=%d", ErrHeaderTooSmallForTIFF, headerSize)
	}

	numStrips := geom.StripCount()
	stripOffsets := make([]uint32, numStrips)
	stripByteCounts := make([]uint32, numStrips)
	var totalPixelBytes uint64
	for i := uint32(0); i < numStrips; i++ {
		off := headerSize + geom.LogicalOffset(i)
		if off > math.MaxUint32 {
			return nil, nil, 0, fmt.Errorf("%w: strip %d offset %d", ErrFileTooLargeForClassicTIFF, i, off)
		}
		stripOffsets[i] = uint32(off)
		n := geom.StripByteLen(i)
		if n > math.MaxUint32 {
			return nil, nil, 0, fmt.Errorf("%w: strip %d byte count %d", ErrFileTooLargeForClassicTIFF, i, n)
		}
		stripByteCounts[i] = uint32(n)
		totalPixelBytes += n
	}
	dirOffset64 := headerSize + totalPixelBytes
	if dirOffset64 > math.MaxUint32 {
		return nil, nil, 0, fmt.Errorf("%w: directory offset %d", ErrFileTooLargeForClassicTIFF, dirOffset64)
	}
	dirOffset := uint32(dirOffset64)

	comps := geom.ComponentCount
	bitsPerSample := make([]uint16, comps)
	for i := range bitsPerSample {
		bitsPerSample[i] = 8
	}
	photometric := uint16(photometricMinIsBlack)
	if comps == 3 {
		photometric = photometricRGB
	}

	entries := []ifdEntry{
		newEntry(tagImageWidth, tiffLong, 1, longsBytes([]uint32{geom.Width})),
		newEntry(tagImageLength, tiffLong, 1, longsBytes([]uint32{geom.Height})),
		newEntry(tagBitsPerSample, tiffShort, uint32(comps), shortsBytes(bitsPerSample)),
		newEntry(tagCompression, tiffShort, 1, shortsBytes([]uint16{compressionNone})),
		newEntry(tagPhotometric, tiffShort, 1, shortsBytes([]uint16{photometric})),
		newEntry(tagStripOffsets, tiffLong, uint32(numStrips), longsBytes(stripOffsets)),
		newEntry(tagSamplesPerPixel, tiffShort, 1, shortsBytes([]uint16{comps})),
		newEntry(tagRowsPerStrip, tiffLong, 1, longsBytes([]uint32{geom.NominalStripHeight})),
		newEntry(tagStripByteCounts, tiffLong, uint32(numStrips), longsBytes(stripByteCounts)),
		newEntry(tagPlanarConfig, tiffShort, 1, shortsBytes([]uint16{planarConfigContig})),
	}

	ifdBytes := buildIFD(entries, uint64(dirOffset))
	headerBytes := buildClassicHeader(headerSize, dirOffset)
	return headerBytes, ifdBytes, uint64(dirOffset), nil
}

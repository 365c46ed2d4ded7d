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

package tiffimage

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/grokimage/dtiffw/stripe"
)

func mustGeom(t *testing.T, width, height uint32, comps uint16, stripHeight uint32) stripe.Geometry {
	t.Helper()
	g, err := stripe.NewGeometry(width, height, comps, stripHeight)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

// TestBuildTIFFHeaderMagic exercises spec §8 scenario S6: the first 8
// bytes of the file are the classic-TIFF magic and a nonzero directory
// offset.
func TestBuildTIFFHeaderMagic(t *testing.T) {
	geom := mustGeom(t, 2048, 32, 1, 32)
	header, ifd, dirOffset, err := buildTIFF(geom, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(header) != 8 {
		t.Fatalf("header length = %d, want 8", len(header))
	}
	if header[0] != 'I' || header[1] != 'I' {
		t.Fatalf("header magic = %q, want II", header[0:2])
	}
	version := binary.LittleEndian.Uint16(header[2:4])
	if version != 42 {
		t.Fatalf("version = %d, want 42", version)
	}
	gotOffset := binary.LittleEndian.Uint32(header[4:8])
	if gotOffset == 0 {
		t.Fatal("directory offset is zero")
	}
	if uint64(gotOffset) != dirOffset {
		t.Fatalf("header offset = %d, want %d", gotOffset, dirOffset)
	}
	wantDirOffset := uint64(8) + geom.StripByteLen(0)
	if dirOffset != wantDirOffset {
		t.Fatalf("dirOffset = %d, want %d", dirOffset, wantDirOffset)
	}
	if len(ifd) == 0 {
		t.Fatal("ifd is empty")
	}
}

// TestBuildTIFFIFDTagsReadable decodes the IFD by hand (standing in
// for "an independent TIFF reader", spec §8 S6) and checks the tags
// the spec names.
func TestBuildTIFFIFDTagsReadable(t *testing.T) {
	geom := mustGeom(t, 1024, 33, 1, 32)
	_, ifd, dirOffset, err := buildTIFF(geom, 8)
	if err != nil {
		t.Fatal(err)
	}
	count := binary.LittleEndian.Uint16(ifd[0:2])
	if count == 0 {
		t.Fatal("zero IFD entries")
	}
	got := map[uint16][4]byte{}
	gotType := map[uint16]uint16{}
	gotCount := map[uint16]uint32{}
	for i := uint16(0); i < count; i++ {
		entry := ifd[2+int(i)*12 : 2+int(i)*12+12]
		tag := binary.LittleEndian.Uint16(entry[0:2])
		typ := binary.LittleEndian.Uint16(entry[2:4])
		cnt := binary.LittleEndian.Uint32(entry[4:8])
		var val [4]byte
		copy(val[:], entry[8:12])
		got[tag] = val
		gotType[tag] = typ
		gotCount[tag] = cnt
	}

	width := binary.LittleEndian.Uint32(got[tagImageWidth][:])
	if width != geom.Width {
		t.Errorf("width = %d, want %d", width, geom.Width)
	}
	height := binary.LittleEndian.Uint32(got[tagImageLength][:])
	if height != geom.Height {
		t.Errorf("height = %d, want %d", height, geom.Height)
	}
	samples := binary.LittleEndian.Uint16(got[tagSamplesPerPixel][0:2])
	if samples != geom.ComponentCount {
		t.Errorf("samplesPerPixel = %d, want %d", samples, geom.ComponentCount)
	}
	rowsPerStrip := binary.LittleEndian.Uint32(got[tagRowsPerStrip][:])
	if rowsPerStrip != geom.NominalStripHeight {
		t.Errorf("rowsPerStrip = %d, want %d", rowsPerStrip, geom.NominalStripHeight)
	}
	if gotType[tagBitsPerSample] != tiffShort {
		t.Errorf("bitsPerSample type = %d, want SHORT", gotType[tagBitsPerSample])
	}

	// StripOffsets/StripByteCounts are out-of-line arrays (2 strips);
	// decode the offset they point to and check the values.
	if gotCount[tagStripOffsets] != geom.StripCount() {
		t.Fatalf("stripOffsets count = %d, want %d", gotCount[tagStripOffsets], geom.StripCount())
	}
	offArrOff := binary.LittleEndian.Uint32(got[tagStripOffsets][:])
	for i := uint32(0); i < geom.StripCount(); i++ {
		off := binary.LittleEndian.Uint32(ifd[offArrOff-uint32(dirOffset)+i*4 : offArrOff-uint32(dirOffset)+i*4+4])
		want := uint32(8) + uint32(geom.LogicalOffset(i))
		if off != want {
			t.Errorf("stripOffsets[%d] = %d, want %d", i, off, want)
		}
	}
}

func TestBuildTIFFRejectsTooSmallHeader(t *testing.T) {
	geom := mustGeom(t, 16, 16, 1, 16)
	_, _, _, err := buildTIFF(geom, 4)
	if !errors.Is(err, ErrHeaderTooSmallForTIFF) {
		t.Fatalf("err = %v, want ErrHeaderTooSmallForTIFF", err)
	}
}

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
	"errors"
	"testing"

	"golang.org/x/exp/slices"

	"github.com/grokimage/dtiffw/align"
)

func TestNewGeometryValidation(t *testing.T) {
	cases := []struct {
		name                                           string
		width, height                                  uint32
		comps                                          uint16
		nominalStripHeight                            uint32
		want                                           error
	}{
		{"zero width", 0, 9, 1, 3, ErrZeroWidth},
		{"zero height", 4, 0, 1, 3, ErrZeroHeight},
		{"zero comps", 4, 9, 0, 3, ErrZeroComponentCount},
		{"zero strip height", 4, 9, 1, 0, ErrZeroStripHeight},
		{"valid", 4, 9, 1, 3, nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := NewGeometry(c.width, c.height, c.comps, c.nominalStripHeight)
			if !errors.Is(err, c.want) {
				t.Fatalf("got err %v, want %v", err, c.want)
			}
		})
	}
}

func TestGeometryEvenDivision(t *testing.T) {
	g, err := NewGeometry(4, 9, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if g.StripCount() != 3 {
		t.Fatalf("StripCount() = %d, want 3", g.StripCount())
	}
	for i := uint32(0); i < 3; i++ {
		if g.StripHeight(i) != 3 {
			t.Errorf("StripHeight(%d) = %d, want 3", i, g.StripHeight(i))
		}
		if g.StripByteLen(i) != 12 {
			t.Errorf("StripByteLen(%d) = %d, want 12", i, g.StripByteLen(i))
		}
	}
	wantOffsets := []uint64{0, 12, 24}
	for i, want := range wantOffsets {
		if got := g.LogicalOffset(uint32(i)); got != want {
			t.Errorf("LogicalOffset(%d) = %d, want %d", i, got, want)
		}
	}
}

func TestGeometryUnevenFinalStrip(t *testing.T) {
	g, err := NewGeometry(4, 7, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if g.StripCount() != 3 {
		t.Fatalf("StripCount() = %d, want 3", g.StripCount())
	}
	if g.StripHeight(2) != 1 {
		t.Fatalf("final StripHeight = %d, want 1", g.StripHeight(2))
	}
	if g.StripByteLen(2) != 4 {
		t.Fatalf("final StripByteLen = %d, want 4", g.StripByteLen(2))
	}
}

// newTestStripper builds the three-strip, two-seam scenario worked out
// by hand against original_source/src/ImageStripper.h's arithmetic:
// width=4, height=9, 1 component, nominal strip height 3 rows (12
// bytes/strip), headerSize=3, writeSize=8.
func newTestStripper(t *testing.T, pool *align.Pool) *ImageStripper {
	t.Helper()
	g, err := NewGeometry(4, 9, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	is, err := NewImageStripper(g, 3, 8, pool)
	if err != nil {
		t.Fatal(err)
	}
	return is
}

func TestChunkInfoHandWorkedScenario(t *testing.T) {
	is := newTestStripper(t, nil)

	ci0 := is.GetChunkInfo(0)
	if ci0.First.x0 != 0 || ci0.First.x1 != 8 {
		t.Errorf("strip0 First = [%d,%d), want [0,8)", ci0.First.x0, ci0.First.x1)
	}
	if ci0.Last.x0 != 8 || ci0.Last.x1 != 15 {
		t.Errorf("strip0 Last = [%d,%d), want [8,15)", ci0.Last.x0, ci0.Last.x1)
	}
	if ci0.NumChunks() != 2 {
		t.Errorf("strip0 NumChunks = %d, want 2", ci0.NumChunks())
	}
	if ci0.HasFirstSeam() {
		t.Error("strip0 should have no first seam")
	}
	if !ci0.HasLastSeam() {
		t.Error("strip0 should have a last seam")
	}

	ci1 := is.GetChunkInfo(1)
	if ci1.First.x0 != 15 || ci1.First.x1 != 16 {
		t.Errorf("strip1 First = [%d,%d), want [15,16)", ci1.First.x0, ci1.First.x1)
	}
	if ci1.Last.x0 != 24 || ci1.Last.x1 != 27 {
		t.Errorf("strip1 Last = [%d,%d), want [24,27)", ci1.Last.x0, ci1.Last.x1)
	}
	if ci1.NumChunks() != 3 {
		t.Errorf("strip1 NumChunks = %d, want 3", ci1.NumChunks())
	}
	if !ci1.HasFirstSeam() || !ci1.HasLastSeam() {
		t.Error("strip1 should have both a first and last seam")
	}

	ci2 := is.GetChunkInfo(2)
	if ci2.First.x0 != 27 || ci2.First.x1 != 32 {
		t.Errorf("strip2 First = [%d,%d), want [27,32)", ci2.First.x0, ci2.First.x1)
	}
	if ci2.Last.x0 != 32 || ci2.Last.x1 != 39 {
		t.Errorf("strip2 Last = [%d,%d), want [32,39)", ci2.Last.x0, ci2.Last.x1)
	}
	if ci2.NumChunks() != 2 {
		t.Errorf("strip2 NumChunks = %d, want 2", ci2.NumChunks())
	}
	if !ci2.HasFirstSeam() {
		t.Error("strip2 should have a first seam")
	}
	if ci2.HasLastSeam() {
		t.Error("final strip must never have a last seam")
	}
}

func TestStripGenerateChunksSharesSeamBuffer(t *testing.T) {
	var pool align.Pool
	is := newTestStripper(t, &pool)

	s0 := is.GetStrip(0)
	s1 := is.GetStrip(1)
	s2 := is.GetStrip(2)

	// strip0/strip1 seam: strip0's final chunk and strip1's first chunk
	// must be the same IOChunk, covering file bytes [8,16).
	if s0.FinalChunk().Chunk != s1.FirstChunk().Chunk {
		t.Fatal("strip0/strip1 seam chunk not shared")
	}
	seam01 := s0.FinalChunk().Chunk
	if seam01.Offset != 8 || seam01.Len != 8 {
		t.Fatalf("seam01 = [off %d len %d), want [off 8 len 8)", seam01.Offset, seam01.Len)
	}
	if !seam01.IsShared() {
		t.Fatal("seam01 should be shared")
	}
	// strip0 writes [0,7), strip1 writes [7,8): together the full buffer.
	if s0.FinalChunk().WritableOffset != 0 || s0.FinalChunk().WritableLen != 7 {
		t.Errorf("strip0 final writable = [%d,+%d), want [0,+7)", s0.FinalChunk().WritableOffset, s0.FinalChunk().WritableLen)
	}
	if s1.FirstChunk().WritableOffset != 7 || s1.FirstChunk().WritableLen != 1 {
		t.Errorf("strip1 first writable = [%d,+%d), want [7,+1)", s1.FirstChunk().WritableOffset, s1.FirstChunk().WritableLen)
	}

	// strip1/strip2 seam: covers file bytes [24,32).
	if s1.FinalChunk().Chunk != s2.FirstChunk().Chunk {
		t.Fatal("strip1/strip2 seam chunk not shared")
	}
	seam12 := s1.FinalChunk().Chunk
	if seam12.Offset != 24 || seam12.Len != 8 {
		t.Fatalf("seam12 = [off %d len %d), want [off 24 len 8)", seam12.Offset, seam12.Len)
	}
	if s1.FinalChunk().WritableOffset != 0 || s1.FinalChunk().WritableLen != 3 {
		t.Errorf("strip1 final writable = [%d,+%d), want [0,+3)", s1.FinalChunk().WritableOffset, s1.FinalChunk().WritableLen)
	}
	if s2.FirstChunk().WritableOffset != 3 || s2.FirstChunk().WritableLen != 5 {
		t.Errorf("strip2 first writable = [%d,+%d), want [3,+5)", s2.FirstChunk().WritableOffset, s2.FirstChunk().WritableLen)
	}
}

func TestAcquireHandshakeFiresOnce(t *testing.T) {
	var pool align.Pool
	is := newTestStripper(t, &pool)
	s0 := is.GetStrip(0)
	s1 := is.GetStrip(1)

	s0.ChunkArray(&pool, []byte{0xAA, 0xBB, 0xCC})
	s1.ChunkArray(&pool, nil)

	shared := s0.FinalChunk()
	other := s1.FirstChunk()

	firstWins := shared.Acquire()
	secondWins := other.Acquire()
	if firstWins == secondWins {
		t.Fatal("exactly one of the two owners must win the acquire handshake")
	}
}

func TestReleaseChunksDrainsRefcount(t *testing.T) {
	var pool align.Pool
	is := newTestStripper(t, &pool)
	for i := uint32(0); i < is.NumStrips(); i++ {
		is.GetStrip(i).ChunkArray(&pool, nil)
	}
	for i := uint32(0); i < is.NumStrips(); i++ {
		is.GetStrip(i).ReleaseChunks()
	}
	// Every seam chunk started at refCount 2 and every exclusive chunk
	// at refCount 1; after each strip releases its own reference, every
	// chunk must reach exactly zero.
	for i := uint32(0); i < is.NumStrips(); i++ {
		s := is.GetStrip(i)
		for j := 0; j < s.NumChunks(); j++ {
			if rc := s.chunks[j].Chunk.RefCount(); rc != 0 {
				t.Errorf("strip %d chunk %d refcount = %d, want 0", i, j, rc)
			}
		}
	}
}

// TestWritableRangesCoverFileInIncreasingOrder checks spec §8 property
// 2: walking every strip's chunks in order produces byte ranges that
// are contiguous and strictly increasing across the whole file, with
// no gaps or overlaps at the seams.
func TestWritableRangesCoverFileInIncreasingOrder(t *testing.T) {
	var pool align.Pool
	is := newTestStripper(t, &pool)

	type span struct{ begin, end uint64 }
	var spans []span
	for i := uint32(0); i < is.NumStrips(); i++ {
		strip := is.GetStrip(i)
		for _, sc := range strip.ChunkArray(&pool, nil) {
			begin := sc.Offset() + sc.WritableOffset
			spans = append(spans, span{begin, begin + sc.WritableLen})
		}
	}

	if !slices.IsSortedFunc(spans, func(a, b span) bool { return a.begin < b.begin }) {
		t.Fatal("writable spans are not strictly increasing across the file")
	}
	for i := 1; i < len(spans); i++ {
		if spans[i-1].end != spans[i].begin {
			t.Errorf("gap/overlap between span %d (end %d) and span %d (begin %d)", i-1, spans[i-1].end, i, spans[i].begin)
		}
	}
}

func TestChunkInfoHeaderTooLarge(t *testing.T) {
	g, err := NewGeometry(4, 9, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewImageStripper(g, 8, 8, nil); !errors.Is(err, ErrHeaderTooLarge) {
		t.Fatalf("got %v, want ErrHeaderTooLarge", err)
	}
}

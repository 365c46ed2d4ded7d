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

package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/grokimage/dtiffw/stripe"
	"github.com/grokimage/dtiffw/tiffimage"
)

// runBenchmarkSweep reproduces iobench.cpp's main/run sweep
// (SPEC_FULL.md supplemented feature #5): when concurrency isn't
// pinned with -c, it runs every concurrency level from 2 up to
// runtime.NumCPU() in steps of 2, and at each level runs five
// variants: an in-memory fill-only pass (no disk I/O at all, isolating
// pixel-generation cost), then store passes through sync/non-chunked,
// async/non-chunked, sync/direct/chunked, and async/direct/chunked.
// Each stored variant writes to its own uuid-named scratch file so
// repeated sweeps never collide, and removes it afterward.
func runBenchmarkSweep(geom geometryArgs, fixedConcurrency uint, logger tiffimage.Logger) {
	levels := []uint32{uint32(fixedConcurrency)}
	if fixedConcurrency == 0 {
		levels = nil
		for c := uint32(2); c <= uint32(runtime.NumCPU()); c += 2 {
			levels = append(levels, c)
		}
		if len(levels) == 0 {
			levels = []uint32{1}
		}
	}

	for _, concurrency := range levels {
		fmt.Printf("concurrency=%d\n", concurrency)
		runFillOnly(geom, concurrency)
		runStored(geom, concurrency, "sync/non-chunked", true, false, false, logger)
		runStored(geom, concurrency, "async/non-chunked", false, false, false, logger)
		runStored(geom, concurrency, "sync/direct/chunked", true, true, true, logger)
		runStored(geom, concurrency, "async/direct/chunked", false, true, true, logger)
	}
}

// runFillOnly times the synthetic pixel fill with no disk I/O at all,
// one buffer per strip, matching iobench.cpp's `doStore == false`
// branch (its local `k % 256` pattern, not the absolute-offset
// pattern the stored variants use, since there is no file offset to
// be faithful to here).
func runFillOnly(geom geometryArgs, concurrency uint32) {
	g, err := stripe.NewGeometry(geom.width, geom.height, geom.comps, geom.stripHeight)
	if err != nil {
		exitf("dtiffw: bad geometry: %s", err)
	}
	start := time.Now()
	err = executeStrips(g.StripCount(), concurrency, func(_, stripIndex uint32) error {
		buf := make([]byte, g.StripByteLen(stripIndex))
		fillSynthetic(0, buf)
		return nil
	})
	if err != nil {
		exitf("dtiffw: fill-only pass: %s", err)
	}
	fmt.Printf("  fill-only: %s\n", time.Since(start))
}

func runStored(geom geometryArgs, concurrency uint32, label string, sync, direct, chunked bool, logger tiffimage.Logger) {
	out := "dtiffw-bench-" + uuid.New().String() + ".tif"
	defer os.Remove(out)

	stats, err := encodeOnce(encodeParams{
		geometry:    geom,
		outFile:     out,
		concurrency: concurrency,
		sync:        sync,
		direct:      direct,
		chunked:     chunked,
		logger:      logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "  %s: %s\n", label, err)
		return
	}
	fmt.Printf("  %s: %d strips, %d bytes, %s\n", label, stats.numStrips, stats.bytesWritten, stats.elapsed)
}

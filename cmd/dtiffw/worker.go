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

import "sync"

// executeStrips stands in for the task-graph executor spec.md §1
// declares out of scope: a fixed pool of concurrency workers, each
// with a stable index in [0, concurrency), draining a channel of
// strip indices and calling task(workerID, stripIndex) exactly once
// per strip. Grounded on tenant/dcache/worker.go's bounded-channel-
// plus-worker-pool pattern (the same shape ioback.Async's completion
// pool borrows, cited in DESIGN.md).
func executeStrips(numStrips, concurrency uint32, task func(workerID, stripIndex uint32) error) error {
	if concurrency == 0 {
		concurrency = 1
	}
	strips := make(chan uint32, numStrips)
	for i := uint32(0); i < numStrips; i++ {
		strips <- i
	}
	close(strips)

	errs := make(chan error, concurrency)
	var wg sync.WaitGroup
	for w := uint32(0); w < concurrency; w++ {
		wg.Add(1)
		go func(workerID uint32) {
			defer wg.Done()
			for stripIndex := range strips {
				if err := task(workerID, stripIndex); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

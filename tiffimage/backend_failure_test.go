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
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/grokimage/dtiffw/ioback"
)

// failSyncBackend fails every write the way Sync does on a real pwritev
// error: synchronously, returning the error from Write itself and
// still invoking reclaim with ok = false before returning.
type failSyncBackend struct{}

func (b *failSyncBackend) Open(name, mode string, direct, flushOnClose bool) error { return nil }

func (b *failSyncBackend) Attach(parent ioback.Backend) error {
	if _, ok := parent.(*failSyncBackend); !ok {
		return fmt.Errorf("failSyncBackend.Attach: parent is not a *failSyncBackend")
	}
	return nil
}

func (b *failSyncBackend) Write(offset uint64, bufs [][]byte, workerID uint32, reclaim func(workerID uint32, ok bool)) error {
	if reclaim != nil {
		reclaim(workerID, false)
	}
	return errors.New("simulated synchronous write failure")
}

func (b *failSyncBackend) Close() error { return nil }

// failAsyncBackend fails the way Async does: Write enqueues and returns
// nil immediately, and the failure is only reported later from a
// goroutine standing in for Async's completion-processing worker.
type failAsyncBackend struct {
	wg *sync.WaitGroup
}

func (b *failAsyncBackend) Open(name, mode string, direct, flushOnClose bool) error {
	b.wg = &sync.WaitGroup{}
	return nil
}

func (b *failAsyncBackend) Attach(parent ioback.Backend) error {
	p, ok := parent.(*failAsyncBackend)
	if !ok {
		return fmt.Errorf("failAsyncBackend.Attach: parent is not a *failAsyncBackend")
	}
	b.wg = p.wg
	return nil
}

func (b *failAsyncBackend) Write(offset uint64, bufs [][]byte, workerID uint32, reclaim func(workerID uint32, ok bool)) error {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if reclaim != nil {
			reclaim(workerID, false)
		}
	}()
	return nil
}

func (b *failAsyncBackend) Close() error { return nil }

// TestEncodePixelsLatchesErrorFromSyncBackendFailure drives a real
// write failure reported synchronously from Write (as Sync does) and
// checks the format latches it through the ordinary error-return path,
// without calling f.setErrored() directly.
func TestEncodePixelsLatchesErrorFromSyncBackendFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.tif")
	cfg := Config{
		Width: 8192, Height: 15, ComponentCount: 1, NominalStripHeight: 5,
		HeaderSize: 8, Chunked: true, Concurrency: 1,
	}
	f, err := Open(cfg, path, func() ioback.Backend { return &failSyncBackend{} }, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.EncodeStrip(0, 0, fillPattern(0)); err == nil {
		t.Fatal("EncodeStrip should report the synchronous write failure")
	}
	if !f.isErrored() {
		t.Fatal("format did not latch the synchronous write failure")
	}
}

// TestEncodePixelsLatchesErrorFromAsyncReclaimFailure drives a failure
// that only surfaces later, from a goroutine standing in for an async
// backend's worker, after EncodeStrip/EncodePixels has already
// returned nil — the scenario that used to be silently dropped because
// Write's own return value is nil on the async path.
func TestEncodePixelsLatchesErrorFromAsyncReclaimFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.tif")
	cfg := Config{
		Width: 8192, Height: 15, ComponentCount: 1, NominalStripHeight: 5,
		HeaderSize: 8, Chunked: true, Concurrency: 1,
	}
	var root *failAsyncBackend
	newBackend := func() ioback.Backend {
		b := &failAsyncBackend{}
		if root == nil {
			root = b
		}
		return b
	}
	f, err := Open(cfg, path, newBackend, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.EncodeStrip(0, 0, fillPattern(0)); err != nil {
		t.Fatalf("EncodeStrip returned an error synchronously: %v", err)
	}
	root.wg.Wait()
	if !f.isErrored() {
		t.Fatal("format did not latch the asynchronous reclaim failure")
	}
}

// TestEncodePixelsBufLatchesErrorFromAsyncReclaimFailure is the
// non-chunked counterpart, covering EncodePixelsBuf's reclaim closure.
func TestEncodePixelsBufLatchesErrorFromAsyncReclaimFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.tif")
	cfg := Config{
		Width: 16, Height: 10, ComponentCount: 3, NominalStripHeight: 4,
		HeaderSize: 8, Chunked: false, Concurrency: 1,
	}
	var root *failAsyncBackend
	newBackend := func() ioback.Backend {
		b := &failAsyncBackend{}
		if root == nil {
			root = b
		}
		return b
	}
	f, err := Open(cfg, path, newBackend, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.EncodeStrip(0, 0, fillPattern(0)); err != nil {
		t.Fatalf("EncodeStrip returned an error synchronously: %v", err)
	}
	root.wg.Wait()
	if !f.isErrored() {
		t.Fatal("format did not latch the asynchronous reclaim failure")
	}
}

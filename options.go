// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package oamap

import (
	"math/bits"

	"github.com/rs/zerolog"
)

// option provide an interface to do work on Table while it is being created.
type option[K, V any] interface {
	apply(t *Table[K, V])
}

// Allocator specifies an interface for allocating and releasing the bin
// arrays used by a Table. The default allocator utilizes Go's builtin make()
// and allows the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that bins be
// freed then Table.Close must be called in order to ensure FreeBins is
// called for the final array.
type Allocator[K, V any] interface {
	// AllocBins should return a slice equivalent to make([]Bin[K,V], n).
	// The table clears the returned bins before use.
	AllocBins(n int) []Bin[K, V]

	// FreeBins can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by AllocBins.
	// The bins have been cleared and hold no references.
	FreeBins(v []Bin[K, V])
}

type defaultAllocator[K, V any] struct{}

func (defaultAllocator[K, V]) AllocBins(n int) []Bin[K, V] {
	return make([]Bin[K, V], n)
}

func (defaultAllocator[K, V]) FreeBins(v []Bin[K, V]) {
}

type allocatorOption[K, V any] struct {
	allocator Allocator[K, V]
}

func (op allocatorOption[K, V]) apply(t *Table[K, V]) {
	t.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a
// Table[K,V].
func WithAllocator[K, V any](allocator Allocator[K, V]) option[K, V] {
	return allocatorOption[K, V]{allocator}
}

type loggerOption[K, V any] struct {
	logger zerolog.Logger
}

func (op loggerOption[K, V]) apply(t *Table[K, V]) {
	t.logger = op.logger
}

// WithLogger is an option to trace resizes and closes of a Table[K,V] at
// debug level. Tables are silent by default.
func WithLogger[K, V any](logger zerolog.Logger) option[K, V] {
	return loggerOption[K, V]{logger}
}

type minSizeOption[K, V any] struct {
	size int
}

func (op minSizeOption[K, V]) apply(t *Table[K, V]) {
	t.minSize = roundMinSize(op.size)
}

// WithMinSize is an option to raise the number of bins a Table[K,V] starts
// with and never shrinks below. The size is rounded up to a power of two and
// is never less than 8.
func WithMinSize[K, V any](size int) option[K, V] {
	return minSizeOption[K, V]{size}
}

func roundMinSize(n int) int {
	if n <= minSize {
		return minSize
	}
	return 1 << bits.Len(uint(n-1))
}

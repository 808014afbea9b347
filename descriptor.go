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
	"bytes"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
	"github.com/zeebo/xxh3"
)

// KeyType describes how a Table hashes, compares, copies and destroys keys
// of type K. Hash and Equal are required. Equal must be an equivalence
// relation and equal keys must hash identically.
//
// Copy is called whenever the table takes ownership of a caller-supplied key
// and must return a value that is indistinguishable from its argument under
// Hash and Equal but shares no mutable state with it. A nil Copy is the
// identity, which is correct for keys with value semantics. Destroy is called
// exactly once for every key the table owns, when the entry is overwritten,
// deleted, or the table is closed. A nil Destroy does nothing.
type KeyType[K any] struct {
	Hash    func(key K) uint32
	Equal   func(a, b K) bool
	Copy    func(key K) K
	Destroy func(key K)
}

// ValueType describes how a Table copies and destroys values of type V. It
// follows the same ownership rules as KeyType.
type ValueType[V any] struct {
	Copy    func(value V) V
	Destroy func(value V)
}

func (kt *KeyType[K]) copy(key K) K {
	if kt.Copy == nil {
		return key
	}
	return kt.Copy(key)
}

func (kt *KeyType[K]) destroy(key K) {
	if kt.Destroy != nil {
		kt.Destroy(key)
	}
}

func (vt *ValueType[V]) copy(value V) V {
	if vt.Copy == nil {
		return value
	}
	return vt.Copy(value)
}

func (vt *ValueType[V]) destroy(value V) {
	if vt.Destroy != nil {
		vt.Destroy(value)
	}
}

// Uint32Key returns a KeyType for uint32 keys. The hash is a plain xor with a
// constant, so keys that are close together land in neighbouring bins.
func Uint32Key() *KeyType[uint32] {
	return &KeyType[uint32]{
		Hash:  func(key uint32) uint32 { return key ^ 0xdeadbeef },
		Equal: func(a, b uint32) bool { return a == b },
	}
}

// IntKey returns a KeyType for int keys.
func IntKey() *KeyType[int] {
	return &KeyType[int]{
		Hash:  func(key int) uint32 { return fmix64(uint64(key)) },
		Equal: func(a, b int) bool { return a == b },
	}
}

// Int64Key returns a KeyType for int64 keys.
func Int64Key() *KeyType[int64] {
	return &KeyType[int64]{
		Hash:  func(key int64) uint32 { return fmix64(uint64(key)) },
		Equal: func(a, b int64) bool { return a == b },
	}
}

// StringKey returns a KeyType for string keys hashed with xxhash. Keys are
// cloned on insertion so the table never retains the caller's backing
// array.
func StringKey() *KeyType[string] {
	return &KeyType[string]{
		Hash:  func(key string) uint32 { return uint32(xxhash.Sum64String(key)) },
		Equal: func(a, b string) bool { return a == b },
		Copy:  strings.Clone,
	}
}

// StringKeyXXH3 is StringKey using xxh3 as the hash function.
func StringKeyXXH3() *KeyType[string] {
	return &KeyType[string]{
		Hash:  func(key string) uint32 { return uint32(xxh3.HashString(key)) },
		Equal: func(a, b string) bool { return a == b },
		Copy:  strings.Clone,
	}
}

// StringKeyMurmur3 is StringKey using 32-bit murmur3 as the hash function.
func StringKeyMurmur3() *KeyType[string] {
	return &KeyType[string]{
		Hash:  func(key string) uint32 { return murmur3.Sum32([]byte(key)) },
		Equal: func(a, b string) bool { return a == b },
		Copy:  strings.Clone,
	}
}

// BytesKey returns a KeyType for []byte keys. Unlike strings, byte slices
// are mutable, so the clone on insertion is what keeps a caller reusing its
// buffer from corrupting the table.
func BytesKey() *KeyType[[]byte] {
	return &KeyType[[]byte]{
		Hash:  func(key []byte) uint32 { return uint32(xxh3.Hash(key)) },
		Equal: bytes.Equal,
		Copy:  bytes.Clone,
	}
}

// PlainValue returns a ValueType for values with value semantics: copying
// is assignment and nothing needs releasing.
func PlainValue[V any]() *ValueType[V] {
	return &ValueType[V]{}
}

// BytesValue returns a ValueType that clones []byte values on insertion.
func BytesValue() *ValueType[[]byte] {
	return &ValueType[[]byte]{
		Copy: bytes.Clone,
	}
}

// fmix64 is the murmur3 64-bit finalizer folded down to 32 bits.
func fmix64(k uint64) uint32 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	k *= 0xc4ceb9fe1a85ec53
	k ^= k >> 33
	return uint32(k) ^ uint32(k>>32)
}

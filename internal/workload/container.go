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

package workload

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/oamap"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
)

// Implementations that NewContainer knows how to construct.
const (
	ImplOAMap   = "oamap"
	ImplRuntime = "runtime"
	ImplXSync   = "xsync"
)

// Impls lists the valid values for Config.Impl.
var Impls = []string{ImplOAMap, ImplRuntime, ImplXSync}

// Container is the subset of map operations the workload drives. Every key
// is stored with itself as the value. *oamap.Table[K, K] satisfies it
// directly.
type Container[K comparable] interface {
	Put(key, value K)
	Get(key K) (K, bool)
	Delete(key K)
	Len() int
	Close()
}

// statser is implemented by containers that can report bin occupancy.
type statser interface {
	Stats() oamap.Stats
}

// NewContainer returns an empty container of the named implementation. kt is
// only consulted by the oamap implementation.
func NewContainer[K comparable](
	impl string, kt *oamap.KeyType[K], logger zerolog.Logger,
) (Container[K], error) {
	switch impl {
	case ImplOAMap:
		return oamap.New(kt, oamap.PlainValue[K](), oamap.WithLogger[K, K](logger)), nil
	case ImplRuntime:
		return runtimeMap[K]{}, nil
	case ImplXSync:
		return xsyncMap[K]{m: xsync.NewMapOf[K, K]()}, nil
	default:
		return nil, errors.Newf("unknown impl %q, expected one of %v", impl, Impls)
	}
}

type runtimeMap[K comparable] map[K]K

func (m runtimeMap[K]) Put(key, value K) { m[key] = value }

func (m runtimeMap[K]) Get(key K) (K, bool) {
	v, ok := m[key]
	return v, ok
}

func (m runtimeMap[K]) Delete(key K) { delete(m, key) }
func (m runtimeMap[K]) Len() int     { return len(m) }
func (m runtimeMap[K]) Close()       {}

type xsyncMap[K comparable] struct {
	m *xsync.MapOf[K, K]
}

func (x xsyncMap[K]) Put(key, value K)    { x.m.Store(key, value) }
func (x xsyncMap[K]) Get(key K) (K, bool) { return x.m.Load(key) }
func (x xsyncMap[K]) Delete(key K)        { x.m.Delete(key) }
func (x xsyncMap[K]) Len() int            { return x.m.Size() }
func (x xsyncMap[K]) Close()              { x.m.Clear() }

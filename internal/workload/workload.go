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

// Package workload implements a fill/verify/drain exercise over a map
// container. N random keys are inserted mapping to themselves, every lookup
// is verified, a key that was never inserted is looked up N times, all keys
// are deleted and every lookup is verified to miss. Each phase is timed and
// recorded in a histogram.
package workload

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/oamap"
	"github.com/rs/zerolog"
)

// Key types that Run can generate.
const (
	KeyTypeUint32 = "uint32"
	KeyTypeString = "string"
)

// String hash functions selectable for KeyTypeString.
const (
	HashXXHash  = "xxhash"
	HashXXH3    = "xxh3"
	HashMurmur3 = "murmur3"
)

// Phase names, in execution order.
const (
	PhaseInsert  = "insert"
	PhaseLookup  = "lookup"
	PhaseAbsent  = "absent"
	PhaseDelete  = "delete"
	PhaseDrained = "drained"
)

// Config describes a single workload run.
type Config struct {
	// Keys is the number of random keys to generate. Duplicates are
	// possible and are inserted as overwrites.
	Keys int
	// Impl is one of Impls.
	Impl string
	// KeyType is KeyTypeUint32 or KeyTypeString.
	KeyType string
	// Hash selects the oamap string hash. It is ignored for uint32 keys.
	Hash string
	// Seed seeds key generation.
	Seed int64
	// Logger receives phase progress and, for the oamap implementation,
	// resize traces.
	Logger zerolog.Logger
	// Metrics, if non-nil, receives one duration histogram per phase.
	Metrics *metrics.Set
}

// Result reports the outcome of a run.
type Result struct {
	Impl    string
	KeyType string
	Keys    int
	// Elapsed covers all phases, excluding key generation.
	Elapsed time.Duration
	// Stats holds the oamap occupancy after the drain phase. HasStats is
	// false for implementations that do not expose one.
	Stats    oamap.Stats
	HasStats bool
}

func (r Result) String() string {
	s := fmt.Sprintf("impl=%s key-type=%s keys=%d elapsed=%s", r.Impl, r.KeyType, r.Keys, r.Elapsed)
	if r.HasStats {
		s += fmt.Sprintf(" active=%d used=%d size=%d", r.Stats.Active, r.Stats.Used, r.Stats.Size)
	}
	return s
}

// Run executes the workload described by cfg. It returns an error if the
// configuration is invalid, the context is canceled between phases, or the
// container misbehaves.
func Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.Keys <= 0 {
		return Result{}, errors.Newf("keys must be positive, got %d", cfg.Keys)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	switch cfg.KeyType {
	case KeyTypeUint32:
		keys := make([]uint32, cfg.Keys)
		for i := range keys {
			// 0 is reserved as the never-inserted key.
			for keys[i] == 0 {
				keys[i] = rng.Uint32()
			}
		}
		return run(ctx, cfg, oamap.Uint32Key(), keys, 0)

	case KeyTypeString:
		kt, err := StringKeyType(cfg.Hash)
		if err != nil {
			return Result{}, err
		}
		keys := make([]string, cfg.Keys)
		for i := range keys {
			keys[i] = strconv.FormatUint(uint64(rng.Uint32()), 10)
		}
		// Decimal renderings are never empty.
		return run(ctx, cfg, kt, keys, "")

	default:
		return Result{}, errors.Newf("unknown key type %q, expected %q or %q",
			cfg.KeyType, KeyTypeUint32, KeyTypeString)
	}
}

// StringKeyType returns the oamap string key descriptor using the named hash.
func StringKeyType(hash string) (*oamap.KeyType[string], error) {
	switch hash {
	case HashXXHash, "":
		return oamap.StringKey(), nil
	case HashXXH3:
		return oamap.StringKeyXXH3(), nil
	case HashMurmur3:
		return oamap.StringKeyMurmur3(), nil
	default:
		return nil, errors.Newf("unknown hash %q, expected one of %q, %q or %q",
			hash, HashXXHash, HashXXH3, HashMurmur3)
	}
}

func run[K comparable](
	ctx context.Context, cfg Config, kt *oamap.KeyType[K], keys []K, absent K,
) (Result, error) {
	c, err := NewContainer(cfg.Impl, kt, cfg.Logger)
	if err != nil {
		return Result{}, err
	}
	defer c.Close()
	return runContainer(ctx, cfg, c, keys, absent)
}

func runContainer[K comparable](
	ctx context.Context, cfg Config, c Container[K], keys []K, absent K,
) (Result, error) {
	res := Result{Impl: cfg.Impl, KeyType: cfg.KeyType, Keys: len(keys)}
	phases := []struct {
		name string
		fn   func() error
	}{
		{PhaseInsert, func() error {
			for _, k := range keys {
				c.Put(k, k)
			}
			return nil
		}},
		{PhaseLookup, func() error {
			for _, k := range keys {
				if v, ok := c.Get(k); !ok || v != k {
					return errors.Newf("lookup of %v returned (%v, %t)", k, v, ok)
				}
			}
			return nil
		}},
		{PhaseAbsent, func() error {
			for range keys {
				if v, ok := c.Get(absent); ok {
					return errors.Newf("never-inserted key %v found with value %v", absent, v)
				}
			}
			return nil
		}},
		{PhaseDelete, func() error {
			for _, k := range keys {
				c.Delete(k)
			}
			return nil
		}},
		{PhaseDrained, func() error {
			for _, k := range keys {
				if v, ok := c.Get(k); ok {
					return errors.Newf("deleted key %v found with value %v", k, v)
				}
			}
			if n := c.Len(); n != 0 {
				return errors.Newf("%d entries remain after deleting every key", n)
			}
			return nil
		}},
	}

	for _, p := range phases {
		if err := ctx.Err(); err != nil {
			return Result{}, errors.Wrapf(err, "before %s phase", p.name)
		}
		start := time.Now()
		if err := p.fn(); err != nil {
			return Result{}, errors.Wrapf(err, "%s phase", p.name)
		}
		d := time.Since(start)
		res.Elapsed += d
		if cfg.Metrics != nil {
			cfg.Metrics.GetOrCreateHistogram(histogramName(cfg.Impl, cfg.KeyType, p.name)).Update(d.Seconds())
		}
		cfg.Logger.Debug().
			Str("phase", p.name).
			Dur("elapsed", d).
			Int("len", c.Len()).
			Msg("phase complete")
	}

	if s, ok := c.(statser); ok {
		res.Stats, res.HasStats = s.Stats(), true
	}
	return res, nil
}

func histogramName(impl, keyType, phase string) string {
	return fmt.Sprintf(`oamap_workload_phase_duration_seconds{impl=%q,key_type=%q,phase=%q}`,
		impl, keyType, phase)
}

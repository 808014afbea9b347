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

package main

import (
	"fmt"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/oamap/internal/workload"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Fill, verify and drain a container with random keys",
	Long: `bench generates --keys random keys, inserts each mapped to itself, verifies
every lookup, looks up a never-inserted key --keys times, deletes every key
and verifies that every lookup then misses. The elapsed time is reported
along with the final table occupancy for the oamap implementation.

Multiple implementations or key types may be given as comma separated lists;
every combination is run.`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().Int("keys", 1000, "Number of random keys")
	benchCmd.Flags().String("impl", workload.ImplOAMap,
		fmt.Sprintf("Container implementations to run (%s)", strings.Join(workload.Impls, ", ")))
	benchCmd.Flags().String("key-type", workload.KeyTypeUint32+","+workload.KeyTypeString,
		"Key types to run (uint32, string)")
	benchCmd.Flags().String("hash", workload.HashXXHash, "Hash for string keys (xxhash, xxh3, murmur3)")
	benchCmd.Flags().Int64("seed", 1, "Seed for key generation")
	benchCmd.Flags().Bool("metrics", false, "Print per-phase duration histograms in Prometheus text format")
}

func runBench(cmd *cobra.Command, _ []string) error {
	var set *metrics.Set
	if viper.GetBool("metrics") {
		set = metrics.NewSet()
	}

	for _, impl := range splitList(viper.GetString("impl")) {
		for _, keyType := range splitList(viper.GetString("key-type")) {
			cfg := workload.Config{
				Keys:    viper.GetInt("keys"),
				Impl:    impl,
				KeyType: keyType,
				Hash:    viper.GetString("hash"),
				Seed:    viper.GetInt64("seed"),
				Logger:  logger.With().Str("impl", impl).Str("key-type", keyType).Logger(),
				Metrics: set,
			}
			res, err := workload.Run(cmd.Context(), cfg)
			if err != nil {
				return errors.Wrapf(err, "impl=%s key-type=%s", impl, keyType)
			}
			logger.Info().
				Str("impl", res.Impl).
				Str("key-type", res.KeyType).
				Int("keys", res.Keys).
				Dur("elapsed", res.Elapsed).
				Msg("workload complete")
			fmt.Fprintln(cmd.OutOrStdout(), res)
		}
	}

	if set != nil {
		set.WritePrometheus(cmd.OutOrStdout())
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

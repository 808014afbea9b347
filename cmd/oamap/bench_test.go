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
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBenchCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{
		"bench",
		"--keys", "200",
		"--impl", "oamap, runtime",
		"--key-type", "uint32",
		"--metrics",
		"--log-level", "debug",
	})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	out := stdout.String()
	require.Contains(t, out, "impl=oamap key-type=uint32 keys=200")
	require.Contains(t, out, "active=0")
	require.Contains(t, out, "size=8")
	require.Contains(t, out, "impl=runtime key-type=uint32 keys=200")
	require.Contains(t, out, `oamap_workload_phase_duration_seconds_count{impl="runtime",key_type="uint32",phase="drained"} 1`)

	// Resize traces go to the console logger at debug level.
	require.Contains(t, stderr.String(), "resize")
	require.Contains(t, stderr.String(), "workload complete")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(&buf, "WARN")
	require.NoError(t, err)
	require.Equal(t, zerolog.WarnLevel, l.GetLevel())
	l.Info().Msg("hidden")
	l.Warn().Msg("shown")
	require.False(t, strings.Contains(buf.String(), "hidden"))
	require.Contains(t, buf.String(), "shown")

	_, err = newLogger(&buf, "loud")
	require.ErrorContains(t, err, `invalid log level "loud"`)
}

func TestSplitList(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, splitList(" a,,b ,"))
	require.Nil(t, splitList(""))
}

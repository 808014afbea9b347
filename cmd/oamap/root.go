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
	"io"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rootCmd = &cobra.Command{
		Use:   "oamap",
		Short: "open-addressing hash table workloads",
		Long: `oamap drives the descriptor-based linear-probing hash table through
fill/verify/drain workloads and compares it against other map containers.

Every flag can also be set through an OAMAP_ prefixed environment variable,
e.g. OAMAP_LOG_LEVEL=debug.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}

	logger = zerolog.Nop()
)

func init() {
	rootCmd.PersistentFlags().String("log-level", "info",
		"Log level (trace, debug, info, warn, error or disabled). Resize traces are logged at debug")
	rootCmd.AddCommand(benchCmd)
}

// initConfig binds the flags of the command being run to viper, reads
// OAMAP_* environment variables and sets up the logger.
func initConfig(cmd *cobra.Command, _ []string) error {
	viper.SetEnvPrefix("oamap")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return errors.Wrap(err, "binding flags")
	}

	var err error
	logger, err = newLogger(cmd.ErrOrStderr(), viper.GetString("log-level"))
	return err
}

func newLogger(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), errors.Wrapf(err, "invalid log level %q", level)
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.TimeOnly,
	}).Level(lvl).With().Timestamp().Logger(), nil
}

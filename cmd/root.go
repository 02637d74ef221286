/*
Copyright © 2024 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/strideworks/trackd/params"
)

var rootCmd = &cobra.Command{
	Use:   "trackd",
	Short: "Run-tracking engine: filter fixes, accumulate distance, survive crashes",
	Long: `trackd turns a noisy stream of satellite positioning fixes into a
trustworthy distance/pace time series. It filters multipath, dropout
teleportation, and stationary jitter; auto-pauses when the runner
stops; and checkpoints in-progress recordings so an interrupted
session can be recovered.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "Debug logging")
	rootCmd.PersistentFlags().String("datadir", params.DatadirRoot, "Data directory root")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("datadir", rootCmd.PersistentFlags().Lookup("datadir"))
	viper.SetEnvPrefix("TRACKD")
	viper.AutomaticEnv()
}

func setDefaultSlog(cmd *cobra.Command, args []string) {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	slog.SetLogLoggerLevel(level)
}

func datadir() string {
	return viper.GetString("datadir")
}

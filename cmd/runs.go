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
	"fmt"
	"log"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/strideworks/trackd/state"
	"github.com/strideworks/trackd/types/run"
)

var optRunsUser string

// runsCmd represents the runs command
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List saved runs",
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)
		store, err := state.NewStore(datadir())
		if err != nil {
			log.Fatalln(err)
		}
		defer store.Close()

		n := 0
		totalKm := 0.0
		err = store.EachRun(func(rec *run.Record) bool {
			if optRunsUser != "" && rec.UserID != optRunsUser {
				return true
			}
			fmt.Println(rec.StringPretty())
			n++
			totalKm += rec.DistanceKm
			return true
		})
		if err != nil {
			log.Fatalln(err)
		}
		fmt.Printf("%s runs, %.2f km total\n", humanize.Comma(int64(n)), totalKm)
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().StringVar(&optRunsUser, "user", "", "Only list runs for this user")
}

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
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/strideworks/trackd/common"
	"github.com/strideworks/trackd/params"
	"github.com/strideworks/trackd/session"
	"github.com/strideworks/trackd/state"
	"github.com/strideworks/trackd/stream"
	"github.com/strideworks/trackd/types/fix"
)

var optReplayUser string

// fixClock advances with the fix log instead of the wall, so a replay
// of an hour-long run takes seconds but still reports an hour.
type fixClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// replayCmd represents the replay command
var replayCmd = &cobra.Command{
	Use:   "replay [file]",
	Short: "Replay a fix log through a recording session",
	Long: `Reads newline-delimited fix objects from a file (or stdin) and runs
them through the full gate pipeline, printing the resulting run summary.
The run is saved to the data directory like any live recording.

Useful for re-cutting a run after a gate threshold change, and for
eyeballing what the pipeline does to a specific noisy track.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)

		in := os.Stdin
		if len(args) > 0 {
			f, err := os.Open(args[0])
			if err != nil {
				log.Fatalln(err)
			}
			defer f.Close()
			in = f
		}

		store, err := state.NewStore(datadir())
		if err != nil {
			log.Fatalln(err)
		}
		defer store.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		clock := &fixClock{}
		clock.set(time.Now())
		src := session.NewPushSource()
		sess := session.New(optReplayUser, params.DefaultSessionConfig(), src, store, clock)
		if err := sess.Start(session.StartOptions{
			Permission: session.PermissionGranted,
			Discard:    true,
			SkipWarmup: true,
		}); err != nil {
			log.Fatalln(err)
		}

		observed := 0
		decoded := stream.NDJSON[*fix.Fix](ctx, in)
		valid := stream.Filter(ctx, func(f *fix.Fix) bool { return f.Validate() == nil }, decoded)
		stream.Sink(ctx, func(f *fix.Fix) {
			if f.HasTimestamp() {
				clock.set(f.Time())
			}
			src.Push(f)
			observed++
		}, valid)

		rec, err := sess.Stop()
		if err != nil {
			log.Fatalln(err)
		}
		if rec == nil {
			fmt.Printf("Replayed %s fixes, nothing worth saving\n", humanize.Comma(int64(observed)))
			return
		}
		fmt.Printf("Replayed %s fixes -> %s accepted\n",
			humanize.Comma(int64(observed)), humanize.Comma(int64(rec.Gps.AcceptedPoints)))
		fmt.Printf("%.2f km in %s, pace %s\n",
			rec.DistanceKm,
			time.Duration(rec.DurationSeconds)*time.Second,
			common.FormatPace(rec.PaceSecPerKm))
		fmt.Println(rec.StringPretty())
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVar(&optReplayUser, "user", "replay", "User the replayed run is recorded under")
}

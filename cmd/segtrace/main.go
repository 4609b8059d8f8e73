// Command segtrace replays allocator trace files against the segregated-fit
// allocator, verifying payload integrity as it goes. Each trace gets a
// private allocator; traces can be replayed concurrently, the allocators
// themselves stay single-threaded.
package main

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/memkit/segalloc/arena"
	"github.com/memkit/segalloc/malloc"
	"github.com/memkit/segalloc/trace"
)

var (
	flagCheckInterval int
	flagReserve       int
	flagWorkers       int
	flagVerbose       bool
)

var rootCmd = &cobra.Command{
	Use:          "segtrace trace-file...",
	Short:        "Replay allocator traces against the segregated-fit allocator",
	Args:         cobra.MinimumNArgs(1),
	RunE:         run,
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().IntVar(&flagCheckInterval, "check-interval", 0,
		"run the heap integrity checker every N ops (0 disables)")
	rootCmd.Flags().IntVar(&flagReserve, "reserve", arena.DefaultReserve,
		"arena reserve in bytes for each trace")
	rootCmd.Flags().IntVar(&flagWorkers, "workers", 1,
		"number of traces replayed concurrently")
	rootCmd.Flags().BoolVar(&flagVerbose, "verbose", false,
		"enable debug logging")
}

func run(cmd *cobra.Command, args []string) error {
	if flagVerbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if flagWorkers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", flagWorkers)
	}

	pool := gopool.NewPool("segtrace", int32(flagWorkers), gopool.NewConfig())

	var wg sync.WaitGroup
	var failed int32
	for _, path := range args {
		path := path
		wg.Add(1)
		pool.Go(func() {
			defer wg.Done()
			if err := replayFile(path); err != nil {
				logrus.WithField("trace", path).Error(err)
				atomic.AddInt32(&failed, 1)
			}
		})
	}
	wg.Wait()

	if n := atomic.LoadInt32(&failed); n > 0 {
		return fmt.Errorf("%d of %d traces failed", n, len(args))
	}
	return nil
}

func replayFile(path string) error {
	t, err := trace.ParseFile(path)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"trace": path,
		"ids":   t.IDs,
		"ops":   len(t.Ops),
	}).Debug("trace parsed")

	a, err := malloc.New(flagReserve)
	if err != nil {
		return err
	}

	res, err := t.Replay(a, trace.ReplayOptions{CheckInterval: flagCheckInterval})
	if err != nil {
		return err
	}
	if len(res.Failures) > 0 {
		for _, f := range res.Failures {
			logrus.WithField("trace", path).Error(f)
		}
		return fmt.Errorf("%d verification failures", len(res.Failures))
	}

	logrus.WithFields(logrus.Fields{
		"trace":    path,
		"ops":      res.Ops,
		"allocs":   res.Allocs,
		"reallocs": res.Reallocs,
		"frees":    res.Frees,
		"peak":     res.PeakBytes,
	}).Info("trace replayed")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Command duskbench drives a synthetic append/read workload against an
// engine.Engine, logging writes/sec once the write phase ends and reads/sec
// once the read phase ends.
// Its flag surface is a minimal stdlib reimplementation of
// original_source/benchmarks/engine_benchmark.cpp's boost::program_options
// set: strategy selection, a memory-area cap, and a read-benchmark run
// count, dropping the boost dependency's thread-count and reader-enable
// knobs in favor of one fixed writer plus a flag-gated read pass.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/duskdb/duskdb/engine"
	"github.com/duskdb/duskdb/meas"
	"github.com/duskdb/duskdb/settings"
)

const seriesCount = 64

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("duskbench", flag.ContinueOnError)

	root := fs.String("root", "", "storage root directory (required)")
	strategyName := fs.String("strategy", "wal_to_page", "write strategy: wal, wal_to_page, memory, memory_and_page")
	memoryLimitMB := fs.Int64("memory-limit", 0, "memory tier byte budget in megabytes (0 keeps the default)")
	readBenchRuns := fs.Int("read-bench-runs", 10, "number of interval-scan passes to run after writing")
	writeCount := fs.Int("writes", 100_000, "total measurements appended across all series before reading")
	readonly := fs.Bool("readonly", false, "skip the write phase, only run the read benchmark against an existing store")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *root == "" {
		fmt.Fprintln(os.Stderr, "duskbench: -root is required")
		return 1
	}

	strategy, err := parseStrategy(*strategyName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "duskbench:", err)
		return 1
	}

	opts := []settings.Option{settings.WithRoot(*root), settings.WithStrategy(strategy)}
	if *memoryLimitMB > 0 {
		opts = append(opts, settings.WithMemoryLimit(*memoryLimitMB<<20))
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync() //nolint:errcheck // best-effort flush on exit

	e, err := engine.Open(settings.New(opts...), engine.WithLogger(logger))
	if err != nil {
		fmt.Fprintln(os.Stderr, "duskbench: open:", err)
		return 1
	}
	defer e.Stop() //nolint:errcheck // best-effort close on exit

	if !*readonly {
		if err := writePhase(e, *writeCount, logger); err != nil {
			fmt.Fprintln(os.Stderr, "duskbench: write phase:", err)
			return 1
		}
	}

	if err := readPhase(e, *readBenchRuns, logger); err != nil {
		fmt.Fprintln(os.Stderr, "duskbench: read phase:", err)
		return 1
	}

	return 0
}

func parseStrategy(name string) (settings.Strategy, error) {
	switch name {
	case "wal":
		return settings.WAL, nil
	case "wal_to_page":
		return settings.WALToPage, nil
	case "memory":
		return settings.Memory, nil
	case "memory_and_page":
		return settings.MemoryAndPage, nil
	default:
		return 0, fmt.Errorf("unknown strategy %q", name)
	}
}

func writePhase(e *engine.Engine, total int, logger *zap.Logger) error {
	start := time.Now()
	now := meas.TimeMs(time.Now())

	for i := 0; i < total; i++ {
		m := meas.Measurement{
			ID:    uint32(i%seriesCount) + 1,
			Time:  now + int64(i),
			Value: rand.Float64(), //nolint:gosec // benchmark data, not security sensitive
		}
		if _, err := e.Append(m); err != nil {
			return err
		}
	}

	if err := e.Flush(); err != nil {
		return err
	}

	elapsed := time.Since(start)
	logger.Info("write phase complete",
		zap.Int("count", total),
		zap.Duration("elapsed", elapsed),
		zap.Float64("writes_per_sec", float64(total)/elapsed.Seconds()))

	return nil
}

func readPhase(e *engine.Engine, runs int, logger *zap.Logger) error {
	ids := make([]uint32, seriesCount)
	for i := range ids {
		ids[i] = uint32(i) + 1
	}

	from, to, found, err := e.MinMaxTime(ids[0])
	if err != nil {
		return err
	}
	if !found {
		logger.Warn("read phase: no data found for series, skipping")
		return nil
	}

	start := time.Now()
	var total int
	for i := 0; i < runs; i++ {
		count := 0
		if err := e.Interval(ids, 0, from, to, func(meas.Measurement) bool {
			count++
			return true
		}); err != nil {
			return err
		}
		total += count
	}

	elapsed := time.Since(start)
	logger.Info("read phase complete",
		zap.Int("runs", runs),
		zap.Int("samples_read", total),
		zap.Duration("elapsed", elapsed),
		zap.Float64("reads_per_sec", float64(total)/elapsed.Seconds()))

	return nil
}

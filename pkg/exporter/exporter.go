// Package exporter runs a ticket export: it splits the id range into static
// partitions, exports each partition concurrently with its own worker and
// client handle, and verifies the result on disk.
//
// Failure isolation is layered:
//   - a ticket that cannot be fetched, validated or written is logged and
//     skipped; its partition continues;
//   - a partition whose worker fails (or panics) is logged with its id range;
//     sibling partitions are unaffected;
//   - only an unusable export root fails the run.
//
// Example usage:
//
//	exp := exporter.New(factory)
//	summary, err := exp.Run(ctx, exporter.Config{
//		Root:       "/data/export",
//		StartID:    1,
//		EndID:      50000,
//		Partitions: 8,
//	})
package exporter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/ticket-export/pkg/fetcher"
	"github.com/Sternrassler/ticket-export/pkg/partition"
	"github.com/Sternrassler/ticket-export/pkg/writer"
)

var partitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ticket_export_partitions_total",
	Help: "Total number of finished partitions by outcome",
}, []string{"outcome"}) // "ok", "failed"

// ErrExportRoot is returned when the export root cannot be created.
var ErrExportRoot = errors.New("export root unusable")

// Config describes one export run.
type Config struct {
	// Root is the export directory.
	Root string

	// StartID and EndID bound the closed ticket id range.
	StartID int64
	EndID   int64

	// Partitions is the requested partition and worker count.
	Partitions int
}

// PartitionResult is the outcome of one partition.
type PartitionResult struct {
	Partition partition.Partition
	Stats     Stats
	Err       error
}

// Summary reports a finished run.
type Summary struct {
	// Partitions holds one result per partition, in partition order.
	Partitions []PartitionResult

	// FailedPartitions counts partitions whose worker returned an error.
	FailedPartitions int

	// Stats aggregates the per-ticket counters of all partitions.
	Stats Stats

	// Exported is the number of ticket files found under Root afterwards.
	Exported int

	Duration time.Duration
}

// Exporter orchestrates export runs.
type Exporter struct {
	factory ClientFactory
	fetcher *fetcher.Fetcher
	logger  zerolog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithFetcher replaces the default retrying fetcher.
func WithFetcher(f *fetcher.Fetcher) Option {
	return func(e *Exporter) {
		e.fetcher = f
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Exporter) {
		e.logger = logger
	}
}

// New creates an Exporter. factory is called once per partition.
func New(factory ClientFactory, opts ...Option) *Exporter {
	e := &Exporter{
		factory: factory,
		logger:  log.With().Str("component", "exporter").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.fetcher == nil {
		e.fetcher = fetcher.New(fetcher.DefaultConfig(), fetcher.WithLogger(e.logger))
	}
	return e
}

// Run performs one export. The returned error is non-nil only when the
// export root cannot be prepared; ticket and partition failures are logged
// and counted in the Summary.
func (e *Exporter) Run(ctx context.Context, cfg Config) (Summary, error) {
	start := time.Now()
	summary := Summary{}

	if cfg.Partitions < 1 {
		cfg.Partitions = 1
	}

	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		e.logger.Error().Err(err).Str("dir", cfg.Root).Msg("Cannot create export directory")
		return summary, fmt.Errorf("%w: %v", ErrExportRoot, err)
	}
	e.logger.Info().Str("dir", cfg.Root).Msgf("Export directory created at: %s", cfg.Root)

	if cfg.EndID < cfg.StartID {
		e.logger.Warn().
			Int64("start_id", cfg.StartID).
			Int64("end_id", cfg.EndID).
			Msg("No ticket IDs to process.")
		return summary, nil
	}

	parts, err := partition.Split(cfg.StartID, cfg.EndID, cfg.Partitions)
	if err != nil || len(parts) == 0 {
		e.logger.Warn().Err(err).Msg("No ticket IDs to process.")
		return summary, nil
	}

	e.logger.Debug().
		Int64("start_id", cfg.StartID).
		Int64("end_id", cfg.EndID).
		Int("partitions", len(parts)).
		Int64("partition_size", partition.Size(cfg.StartID, cfg.EndID, cfg.Partitions)).
		Int("workers", cfg.Partitions).
		Str("dir", cfg.Root).
		Msg("Scraping tickets")

	summary.Partitions = e.runPartitions(ctx, cfg, parts)

	for _, res := range summary.Partitions {
		summary.Stats.Add(res.Stats)
		if res.Err != nil {
			summary.FailedPartitions++
		}
	}

	e.logger.Info().Msg("Scraping finished. Verifying created files...")
	summary.Exported = e.verify(cfg.Root)
	summary.Duration = time.Since(start)

	e.logger.Info().
		Int("processed", summary.Stats.Processed).
		Int("written", summary.Stats.Written).
		Int("rate_limited", summary.Stats.RateLimited).
		Int("not_found", summary.Stats.NotFound).
		Int("fetch_failed", summary.Stats.FetchFailed).
		Int("invalid", summary.Stats.Invalid).
		Int("write_failed", summary.Stats.WriteFailed).
		Int("unexpected", summary.Stats.Unexpected).
		Int("failed_partitions", summary.FailedPartitions).
		Dur("duration", summary.Duration).
		Msg("Export summary")

	return summary, nil
}

// runPartitions runs one task per partition on a pool of at most
// cfg.Partitions workers and waits for all of them. Each task writes only
// its own result slot.
func (e *Exporter) runPartitions(ctx context.Context, cfg Config, parts []partition.Partition) []PartitionResult {
	results := make([]PartitionResult, len(parts))
	for i, p := range parts {
		results[i].Partition = p
	}

	size := cfg.Partitions
	if size > len(parts) {
		size = len(parts)
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		// ants only rejects invalid sizes; fall back to one goroutine per partition
		e.logger.Warn().Err(err).Int("size", size).Msg("Worker pool unavailable")
		pool = nil
	} else {
		defer pool.Release()
	}

	w := writer.New(cfg.Root).WithLogger(e.logger)
	worker := NewWorker(e.factory, e.fetcher, w, e.logger)

	var wg sync.WaitGroup
	for i := range parts {
		i := i
		task := func() {
			defer wg.Done()
			results[i].Stats, results[i].Err = runIsolated(ctx, worker, parts[i])
		}

		wg.Add(1)
		if pool == nil {
			go task()
			continue
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			results[i].Err = fmt.Errorf("submit %s: %w", parts[i], err)
		}
	}
	wg.Wait()

	for _, res := range results {
		if res.Err != nil {
			partitionsTotal.WithLabelValues("failed").Inc()
			e.logger.Error().
				Err(res.Err).
				Int("partition", res.Partition.Index).
				Int64("first_id", res.Partition.First()).
				Int64("last_id", res.Partition.Last()).
				Msgf("An error occurred in partition for tickets %d-%d", res.Partition.First(), res.Partition.Last())
			continue
		}
		partitionsTotal.WithLabelValues("ok").Inc()
		e.logger.Debug().
			Int("partition", res.Partition.Index).
			Msgf("Partition for tickets %d-%d completed successfully.", res.Partition.First(), res.Partition.Last())
	}

	return results
}

// runIsolated runs a worker and converts a panic into the partition's error.
func runIsolated(ctx context.Context, worker *Worker, p partition.Partition) (stats Stats, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", p, r)
		}
	}()
	return worker.Run(ctx, p)
}

// verify counts exported files and logs the total.
func (e *Exporter) verify(root string) int {
	count, err := writer.CountExported(root)
	if err != nil {
		e.logger.Error().Err(err).Str("dir", root).Msg("Verification failed")
		return count
	}
	if count == 0 {
		e.logger.Error().Msg("No files were exported. Please check the logs for errors.")
		return 0
	}
	e.logger.Info().Int("exported", count).Msgf("Successfully exported %d tickets.", count)
	return count
}

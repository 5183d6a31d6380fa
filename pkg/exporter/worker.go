package exporter

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/ticket-export/pkg/client"
	"github.com/Sternrassler/ticket-export/pkg/fetcher"
	"github.com/Sternrassler/ticket-export/pkg/partition"
	"github.com/Sternrassler/ticket-export/pkg/writer"
)

// ClientFactory opens the client handle a worker uses for its partition. The
// handle is closed by the worker when it implements io.Closer.
type ClientFactory func(p partition.Partition) (client.RecordGetter, error)

// Stats counts per-ticket outcomes of one or more partitions.
type Stats struct {
	Processed   int `json:"processed"`
	Written     int `json:"written"`
	RateLimited int `json:"rate_limited"`
	NotFound    int `json:"not_found"`
	FetchFailed int `json:"fetch_failed"`
	Invalid     int `json:"invalid"`
	WriteFailed int `json:"write_failed"`
	Cancelled   int `json:"cancelled"`
	Unexpected  int `json:"unexpected"`
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Processed += other.Processed
	s.Written += other.Written
	s.RateLimited += other.RateLimited
	s.NotFound += other.NotFound
	s.FetchFailed += other.FetchFailed
	s.Invalid += other.Invalid
	s.WriteFailed += other.WriteFailed
	s.Cancelled += other.Cancelled
	s.Unexpected += other.Unexpected
}

// Skipped returns the number of processed tickets that produced no file.
func (s Stats) Skipped() int {
	return s.Processed - s.Written
}

// Worker exports one partition at a time, sequentially, with its own client
// handle.
type Worker struct {
	factory ClientFactory
	fetcher *fetcher.Fetcher
	writer  *writer.Writer
	logger  zerolog.Logger
}

// NewWorker creates a partition worker.
func NewWorker(factory ClientFactory, f *fetcher.Fetcher, w *writer.Writer, logger zerolog.Logger) *Worker {
	return &Worker{
		factory: factory,
		fetcher: f,
		writer:  w,
		logger:  logger,
	}
}

// Run exports every id of p in order. A failing ticket never stops the loop;
// only a missing client handle or a cancelled context end the partition
// early, and both are returned as errors.
func (w *Worker) Run(ctx context.Context, p partition.Partition) (stats Stats, err error) {
	start := time.Now()
	logger := w.logger.With().
		Int("partition", p.Index).
		Int64("first_id", p.First()).
		Int64("last_id", p.Last()).
		Logger()

	logger.Info().Int("tickets", p.Len()).Msgf("Partition %d starting", p.Index)

	getter, err := w.factory(p)
	if err != nil {
		return stats, fmt.Errorf("open client for %s: %w", p, err)
	}
	if closer, ok := getter.(io.Closer); ok {
		defer func() {
			if cerr := closer.Close(); cerr != nil {
				logger.Warn().Err(cerr).Msg("Failed to close client")
			}
		}()
	}

	for _, id := range p.IDs {
		if ctx.Err() != nil {
			logger.Warn().
				Int("processed", stats.Processed).
				Msg("Partition stopping (context cancelled)")
			return stats, fmt.Errorf("%s: %w", p, ctx.Err())
		}

		w.processTicket(ctx, logger, getter, id, &stats)
	}

	logger.Info().
		Int("processed", stats.Processed).
		Int("written", stats.Written).
		Int("skipped", stats.Skipped()).
		Dur("duration", time.Since(start)).
		Msgf("Partition %d finished", p.Index)

	return stats, nil
}

// processTicket fetches, validates and saves one ticket. It recovers panics
// so that one ticket cannot abort the rest of the partition.
func (w *Worker) processTicket(ctx context.Context, logger zerolog.Logger, getter client.RecordGetter, id int64, stats *Stats) {
	stats.Processed++

	defer func() {
		if r := recover(); r != nil {
			stats.Unexpected++
			logger.Error().
				Int64("ticket_id", id).
				Interface("panic", r).
				Msg("Unexpected failure processing ticket")
		}
	}()

	logger.Debug().Int64("ticket_id", id).Msgf("Processing ticket %d", id)

	result := w.fetcher.Fetch(ctx, getter, id)
	if !result.OK() {
		switch result.Reason {
		case fetcher.ReasonRateLimitExhausted:
			stats.RateLimited++
		case fetcher.ReasonNotFound:
			stats.NotFound++
		case fetcher.ReasonCancelled:
			stats.Cancelled++
		default:
			stats.FetchFailed++
		}
		return
	}

	if err := result.Document.Validate(); err != nil {
		stats.Invalid++
		logger.Warn().
			Err(err).
			Int64("ticket_id", id).
			Msg("Fetched ticket is missing required fields, skipping")
		return
	}

	if !w.writer.Save(result.Document) {
		stats.WriteFailed++
		return
	}
	stats.Written++
}

package ingestion

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/guttosm/tickshard/internal/cluster"
	"github.com/guttosm/tickshard/internal/domain/models"
	"github.com/guttosm/tickshard/internal/logger"
	"github.com/guttosm/tickshard/internal/storage"
)

// maxLineBytes bounds one NDJSON record; feed records are a few hundred
// bytes, so 1 MiB is already generous.
const maxLineBytes = 1 << 20

// Stats counts the outcome of every replayed record.
type Stats struct {
	Accepted   int64
	Duplicates int64
	Rejected   int64
}

// ReplayDirectory replays every *.ndjson file under dir into the cluster.
//
// Behavior:
//   - Files are processed concurrently, capped at min(NumCPU, parallel).
//   - Each line is parsed and ingested on its own; malformed lines count as
//     rejections and do not stop the file.
//   - Replaying the same directory twice is harmless: the dedup window turns
//     the second pass into duplicates.
//   - I/O errors cancel the remaining files and are returned.
func ReplayDirectory(ctx context.Context, dir string, c *cluster.Cluster, parallel int) (Stats, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.ndjson"))
	if err != nil {
		return Stats{}, fmt.Errorf("list replay files: %w", err)
	}
	if len(files) == 0 {
		return Stats{}, fmt.Errorf("no *.ndjson files in %s", dir)
	}
	sort.Strings(files)

	maxParallel := runtime.NumCPU()
	if parallel > 0 && parallel < maxParallel {
		maxParallel = parallel
	}

	log := logger.With("replay")
	log.Info().Int("files", len(files)).Int("max_parallel", maxParallel).Str("dir", dir).Msg("replay start")

	var stats Stats
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	for _, file := range files {
		f := file
		g.Go(func() error {
			start := time.Now()
			base := filepath.Base(f)
			if err := replayFile(gctx, f, c, &stats, log); err != nil {
				log.Error().Str("file", base).Err(err).Msg("file failed")
				return fmt.Errorf("file %s: %w", f, err)
			}
			log.Info().Str("file", base).Dur("elapsed", time.Since(start)).Msg("file done")
			return nil
		})
	}

	err = g.Wait()
	log.Info().
		Int64("accepted", atomic.LoadInt64(&stats.Accepted)).
		Int64("duplicates", atomic.LoadInt64(&stats.Duplicates)).
		Int64("rejected", atomic.LoadInt64(&stats.Rejected)).
		Msg("replay finished")
	return Stats{
		Accepted:   atomic.LoadInt64(&stats.Accepted),
		Duplicates: atomic.LoadInt64(&stats.Duplicates),
		Rejected:   atomic.LoadInt64(&stats.Rejected),
	}, err
}

func replayFile(ctx context.Context, path string, c *cluster.Cluster, stats *Stats, log zerolog.Logger) error {
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = fh.Close() }()

	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		t, err := ParseRecord(line)
		if err != nil {
			atomic.AddInt64(&stats.Rejected, 1)
			log.Warn().Str("file", filepath.Base(path)).Int("line", lineNo).Err(err).Msg("rejected record")
			continue
		}

		status, err := c.Ingest(ctx, t)
		switch {
		case errors.Is(err, models.ErrInvalidTrade):
			atomic.AddInt64(&stats.Rejected, 1)
		case err != nil:
			// Infrastructure failure, not a bad record.
			return err
		case status == storage.StatusDuplicate:
			atomic.AddInt64(&stats.Duplicates, 1)
		default:
			atomic.AddInt64(&stats.Accepted, 1)
		}
	}
	return scanner.Err()
}

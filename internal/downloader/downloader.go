package downloader

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gitdeps/fetcher/internal/logctx"
	"github.com/gitdeps/fetcher/internal/telemetry"
	"github.com/gitdeps/fetcher/internal/transfer"
	"golang.org/x/sync/errgroup"
)

// ItemProcessor drives one item to a terminal state.
type ItemProcessor interface {
	Run(ctx context.Context, item transfer.Item) *transfer.Result
}

// BatchResult aggregates per-item outcomes for one batch.
type BatchResult struct {
	Results   []*transfer.Result
	Total     int
	Succeeded int
}

func (b *BatchResult) Failed() int {
	return b.Total - b.Succeeded
}

// Downloader fans a batch of items out over a bounded pool of workers.
// Processing is continue-on-error: one item's terminal failure never cancels
// the others, and DownloadBatch returns only after every item reached a
// terminal state.
type Downloader struct {
	processor   ItemProcessor
	maxParallel int
	telemetry   *telemetry.Telemetry

	// OnProgress, when set, receives the running tally after each item
	// completes. It is called from worker goroutines and must be safe for
	// concurrent use.
	OnProgress func(completed, succeeded, total int)
}

func NewDownloader(processor ItemProcessor, maxParallel int, tel *telemetry.Telemetry) *Downloader {
	if maxParallel <= 0 {
		maxParallel = 1
	}

	return &Downloader{
		processor:   processor,
		maxParallel: maxParallel,
		telemetry:   tel,
	}
}

// DownloadBatch processes every item with at most maxParallel concurrently
// active transfers. The limiter is per item, so it also bounds simultaneous
// file handles and sockets.
func (d *Downloader) DownloadBatch(ctx context.Context, items []transfer.Item) *BatchResult {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("starting batch", "items", len(items), "workers", d.maxParallel)

	results := make([]*transfer.Result, len(items))

	var (
		wg        errgroup.Group
		completed atomic.Int32
		succeeded atomic.Int32
	)

	sem := make(chan struct{}, d.maxParallel)

	for i := range items {
		item := items[i]

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			// Items never started still get a terminal result so the batch
			// report stays complete.
			results[i] = &transfer.Result{Item: item, State: transfer.StateError, Err: ctx.Err()}

			continue
		}

		wg.Go(func() error {
			defer func() { <-sem }() // release the slot

			start := time.Now()

			d.telemetry.DownloadStarted(ctx)

			res := d.processor.Run(ctx, item)
			results[i] = res

			d.telemetry.DownloadFinished(ctx, res.State.String(), res.Bytes, time.Since(start))

			done := completed.Add(1)

			if res.OK() {
				succeeded.Add(1)
			} else {
				logger.Error("item failed",
					"url", item.URL,
					"dest", item.Dest,
					"final_state", res.State.String(),
					"err", res.Err,
				)
			}

			if d.OnProgress != nil {
				// Read after the conditional Add so the pair stays consistent
				// with this item's own outcome.
				d.OnProgress(int(done), int(succeeded.Load()), len(items))
			}

			return nil
		})
	}

	_ = wg.Wait() // workers contain their own errors

	batch := &BatchResult{Results: results, Total: len(items), Succeeded: int(succeeded.Load())}

	logger.Info("batch finished", "successful", batch.Succeeded, "total", batch.Total)

	return batch
}

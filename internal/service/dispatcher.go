package service

import (
	"context"
	"sync"
	"time"

	"clipmill/internal/domain"
	"clipmill/internal/infrastructure/logger"
	"clipmill/internal/port"
)

// Dispatcher drives a fixed pool of workers over the persistent queue. Each
// worker claims items independently through the store's conditional update,
// so any number of workers, in any number of processes, stay mutually
// exclusive per item.
type Dispatcher struct {
	items        port.ItemStore
	artifacts    port.ArtifactStore
	blob         port.BlobStore
	pipeline     *Pipeline
	interval     time.Duration
	workers      int
	deleteOnFail bool

	kick chan struct{}
	wg   sync.WaitGroup
}

func NewDispatcher(items port.ItemStore, artifacts port.ArtifactStore, blob port.BlobStore, pipeline *Pipeline, interval time.Duration, workers int, deleteOnFail bool) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		items:        items,
		artifacts:    artifacts,
		blob:         blob,
		pipeline:     pipeline,
		interval:     interval,
		workers:      workers,
		deleteOnFail: deleteOnFail,
		kick:         make(chan struct{}, 1),
	}
}

// Start requeues items a dead worker left PROCESSING, then launches the
// worker pool. Workers exit when ctx is cancelled; Wait blocks until the item
// each was processing has settled.
func (d *Dispatcher) Start(ctx context.Context) {
	if reset, err := d.items.ResetStalled(ctx); err != nil {
		logger.Error.Printf("reset stalled items: %v", err)
	} else if reset > 0 {
		logger.Warn.Printf("requeued %d stalled item(s)", reset)
	}

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.runWorker(ctx, i)
	}
}

func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Kick nudges the pool without waiting for the next poll tick. Dropping the
// signal when one is already pending is fine; a pending kick drains the whole
// queue anyway.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) runWorker(ctx context.Context, id int) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	logger.Debug.Printf("worker %d started", id)
	for {
		select {
		case <-ctx.Done():
			logger.Debug.Printf("worker %d stopping", id)
			return
		case <-ticker.C:
		case <-d.kick:
		}
		d.drain(ctx, id)
	}
}

// drain claims and processes items until the queue is empty or the claim is
// lost to another worker.
func (d *Dispatcher) drain(ctx context.Context, workerID int) {
	for {
		if ctx.Err() != nil {
			return
		}
		item, err := d.items.ClaimNextQueued(ctx)
		if err != nil {
			logger.Error.Printf("worker %d claim: %v", workerID, err)
			return
		}
		if item == nil {
			return
		}
		d.process(ctx, item)
	}
}

func (d *Dispatcher) process(ctx context.Context, item *domain.Item) {
	logger.Info.Printf("processing item %s (attempt %d/%d)", item.ID, item.RetryCount+1, item.MaxRetries)

	// The settling writes run on a non-cancellable context: a worker shut
	// down mid-job must still record the outcome, or the claimed item stays
	// PROCESSING until the next restart.
	settleCtx := context.WithoutCancel(ctx)

	if err := d.pipeline.Run(ctx, item); err != nil {
		d.handleFailure(settleCtx, item, err)
		return
	}

	item.Status = domain.ItemStatusReady
	item.ErrorMessage = ""
	item.ErrorCode = ""
	if err := d.items.UpdateItem(settleCtx, item); err != nil {
		logger.Error.Printf("mark item %s ready: %v", item.ID, err)
		return
	}
	logger.Info.Printf("item %s ready", item.ID)
}

// handleFailure applies the retry policy: count the failure, requeue while
// attempts remain, otherwise park the item as FAILED.
func (d *Dispatcher) handleFailure(ctx context.Context, item *domain.Item, cause error) {
	now := time.Now().UTC()
	item.RetryCount++
	item.ErrorMessage = cause.Error()
	item.LastFailedAt = &now

	if item.RetryCount < item.MaxRetries {
		item.Status = domain.ItemStatusQueued
		logger.Warn.Printf("item %s failed, requeued (attempt %d/%d): %v", item.ID, item.RetryCount, item.MaxRetries, cause)
	} else {
		item.Status = domain.ItemStatusFailed
		logger.Error.Printf("item %s failed permanently after %d attempts: %v", item.ID, item.RetryCount, cause)
	}

	if err := d.items.UpdateItem(ctx, item); err != nil {
		logger.Error.Printf("record failure for item %s: %v", item.ID, err)
		return
	}

	if item.Status == domain.ItemStatusFailed && d.deleteOnFail {
		d.cleanupBytes(ctx, item.ID)
	}
}

// cleanupBytes removes the cached files of a permanently failed item. The
// record rows stay so the failure remains inspectable.
func (d *Dispatcher) cleanupBytes(ctx context.Context, itemID string) {
	all, err := d.artifacts.ListArtifactsByItem(ctx, itemID)
	if err != nil {
		logger.Warn.Printf("list artifacts for failed item %s: %v", itemID, err)
		return
	}
	for _, a := range all {
		if err := d.blob.Delete(a.Key); err != nil {
			logger.Warn.Printf("delete %s: %v", a.Key, err)
		}
	}
}

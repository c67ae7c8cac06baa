// Package indexer materializes search-store documents from the
// system-of-record, triggered by es-sync-queue events, per spec §4.6.
package indexer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"mediapipeline/internal/bus"
	"mediapipeline/internal/config"
	"mediapipeline/internal/model"
	"mediapipeline/internal/runtime"
	"mediapipeline/internal/searchstore"
	"mediapipeline/internal/sor"
	"mediapipeline/internal/telemetry"
)

const (
	streamEsSyncQueue = "es-sync-queue"
	indexerGroup      = "indexer-workers"
)

// Indexer drains es-sync-queue, resolves each sync event against
// INDEX_MAPPING, reads the current row from the system-of-record when the
// operation isn't a delete, transforms it, and batches it into the
// search-store, flushing on size or timeout, whichever comes first.
type Indexer struct {
	Bus     bus.Bus
	Cfg     config.IndexerConfig
	Store   *sor.Store
	Search  *searchstore.Client
	Metrics *telemetry.Metrics

	consumer *bus.Consumer

	mu         sync.Mutex
	buffer     []searchstore.Action
	batchStart time.Time

	started bool
}

// New builds an Indexer bound to busClient, store, and search.
func New(busClient bus.Bus, cfg config.IndexerConfig, store *sor.Store, search *searchstore.Client, metrics *telemetry.Metrics) *Indexer {
	return &Indexer{
		Bus:      busClient,
		Cfg:      cfg,
		Store:    store,
		Search:   search,
		Metrics:  metrics,
		consumer: busClient.NewConsumer(streamEsSyncQueue, indexerGroup, runtime.ConsumerName()),
	}
}

// Ready reports whether Run has begun, for the /ready handler.
func (ix *Indexer) Ready() bool { return ix.started }

// Run drives the consume loop alongside a timeout-flush ticker until
// shutdown() reports true, then drains any remaining buffered batch.
func (ix *Indexer) Run(ctx context.Context, shutdown func() bool) error {
	ix.started = true
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ix.consumer.Consume(ctx, ix.handle, 1000, 50, shutdown)
	})
	g.Go(func() error {
		return ix.flushTicker(ctx, shutdown)
	})

	err := g.Wait()
	ix.flush(context.Background())
	return err
}

func (ix *Indexer) flushTicker(ctx context.Context, shutdown func() bool) error {
	interval := ix.Cfg.BatchTimeout / 4
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if shutdown != nil && shutdown() {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ix.mu.Lock()
			due := len(ix.buffer) > 0 && time.Since(ix.batchStart) >= ix.Cfg.BatchTimeout
			ix.mu.Unlock()
			if due {
				ix.flush(ctx)
			}
		}
	}
}

func (ix *Indexer) handle(ctx context.Context, entry bus.Entry) error {
	event, err := decodeSyncEvent(entry.Fields)
	if err != nil {
		log.Error().Err(err).Str("entry_id", entry.ID).Msg("indexer_decode_failed")
		return nil
	}

	target, err := resolveTarget(event.IndexType)
	if err != nil {
		log.Error().Err(err).Str("indexType", event.IndexType).Msg("indexer_unknown_index_type")
		return nil
	}

	action := searchstore.Action{
		Index:      target.Index,
		DocumentID: event.DocumentID,
		Operation:  event.Operation,
	}

	if event.Operation != model.SyncDelete {
		row, found, err := ix.Store.ReadByPK(ctx, target.Table, target.PKColumn, event.DocumentID)
		if err != nil {
			log.Error().Err(err).Str("table", target.Table).Str("documentId", event.DocumentID).Msg("indexer_read_failed")
			return err
		}
		if !found {
			log.Warn().Str("table", target.Table).Str("documentId", event.DocumentID).Msg("indexer_row_not_found_skipping")
			return nil
		}
		action.Document = transformRow(row)
	}

	ix.enqueue(action)
	return nil
}

func decodeSyncEvent(fields map[string]string) (model.SyncEvent, error) {
	var event model.SyncEvent
	event.IndexType = fields["indexType"]
	event.DocumentID = fields["documentId"]
	event.Operation = model.SyncOperation(fields["operation"])
	event.Version = fields["version"]
	if event.IndexType == "" || event.DocumentID == "" {
		return event, errMissingFields
	}
	return event, nil
}

var errMissingFields = errors.New("indexer: sync event missing indexType or documentId")

func (ix *Indexer) enqueue(action searchstore.Action) {
	ix.mu.Lock()
	if len(ix.buffer) == 0 {
		ix.batchStart = time.Now()
	}
	ix.buffer = append(ix.buffer, action)
	due := len(ix.buffer) >= ix.Cfg.BatchSize
	ix.mu.Unlock()

	if due {
		ix.flush(context.Background())
	}
}

func (ix *Indexer) flush(ctx context.Context) {
	ix.mu.Lock()
	batch := ix.buffer
	ix.buffer = nil
	ix.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if err := ix.Search.Flush(ctx, batch); err != nil {
		log.Error().Err(err).Int("batch_size", len(batch)).Msg("indexer_flush_failed")
		if ix.Metrics != nil {
			ix.Metrics.RecordFailure(ctx, 0)
		}
		return
	}
	if ix.Metrics != nil {
		ix.Metrics.RecordSuccess(ctx, 0)
	}
	log.Debug().Int("batch_size", len(batch)).Msg("indexer_flush_succeeded")
}

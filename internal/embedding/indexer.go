package embedding

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"expertmine/internal/logging"
	"expertmine/internal/types"
)

// VectorSink persists instance embeddings. Implemented by the store.
type VectorSink interface {
	StoreInstanceVector(ctx context.Context, instanceID string, embedding []float64) error
}

const (
	// queueCapacity bounds how many pending batches may wait. A full queue
	// drops the batch: instances are already persisted, only searchability
	// is delayed until a re-index.
	queueCapacity = 64

	// embedConcurrency limits in-flight embedding calls per batch.
	embedConcurrency = 4

	// batchTimeout bounds how long one batch may take end to end.
	batchTimeout = 2 * time.Minute
)

// Indexer embeds generated instances asynchronously and writes the vectors to
// the sink. It implements types.InstanceIndexer: submission never blocks the
// caller and failures are logged, never surfaced.
type Indexer struct {
	engine Engine
	sink   VectorSink
	queue  chan []types.GeneratedInstance
	done   chan struct{}
}

// NewIndexer creates and starts an indexer. Call Close to drain and stop it.
func NewIndexer(engine Engine, sink VectorSink) *Indexer {
	idx := &Indexer{
		engine: engine,
		sink:   sink,
		queue:  make(chan []types.GeneratedInstance, queueCapacity),
		done:   make(chan struct{}),
	}
	go idx.run()
	return idx
}

// SubmitBatch enqueues instances for embedding. Non-blocking: when the queue
// is full the batch is dropped with a warning.
func (idx *Indexer) SubmitBatch(instances []types.GeneratedInstance) {
	if len(instances) == 0 {
		return
	}
	select {
	case idx.queue <- instances:
		logging.EmbeddingDebug("Queued %d instances for embedding", len(instances))
	default:
		logging.EmbeddingWarn("Embedding queue full, dropped batch of %d instances (session %s)",
			len(instances), instances[0].SessionID)
	}
}

// Close stops the indexer after the current batch finishes. Queued batches
// that have not started are discarded.
func (idx *Indexer) Close() {
	close(idx.done)
}

func (idx *Indexer) run() {
	for {
		select {
		case <-idx.done:
			return
		case batch := <-idx.queue:
			idx.processBatch(batch)
		}
	}
}

func (idx *Indexer) processBatch(batch []types.GeneratedInstance) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "processBatch")
	defer timer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for _, inst := range batch {
		inst := inst
		g.Go(func() error {
			text := inst.Question + "\n" + inst.Answer
			vec, err := idx.engine.Embed(gctx, text)
			if err != nil {
				logging.EmbeddingWarn("Failed to embed instance %s: %v", inst.ID, err)
				return nil
			}
			if err := idx.sink.StoreInstanceVector(gctx, inst.ID, ToFloat64(vec)); err != nil {
				logging.EmbeddingWarn("Failed to store embedding for instance %s: %v", inst.ID, err)
			}
			return nil
		})
	}

	_ = g.Wait()
	logging.Embedding("Indexed batch of %d instances (session %s)", len(batch), batch[0].SessionID)
}

// ToFloat64 widens an engine embedding for vector storage and search.
func ToFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

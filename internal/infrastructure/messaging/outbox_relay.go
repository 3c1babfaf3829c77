package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/indexkit/indexcore/internal/infrastructure/messaging/nats"
	"github.com/indexkit/indexcore/internal/infrastructure/persistence/postgres"
)

// OutboxRelay polls the outbox and publishes due messages to NATS.
type OutboxRelay struct {
	outbox    *postgres.Outbox
	publisher *nats.Publisher
	interval  time.Duration
	batchSize int
	stopCh    chan struct{}
}

// NewOutboxRelay creates a new outbox relay.
func NewOutboxRelay(outbox *postgres.Outbox, publisher *nats.Publisher, interval time.Duration, batchSize int) *OutboxRelay {
	return &OutboxRelay{
		outbox:    outbox,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		stopCh:    make(chan struct{}),
	}
}

// Start starts the outbox relay worker.
func (r *OutboxRelay) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stopCh:
			return nil
		case <-ticker.C:
			if err := r.processOutbox(ctx); err != nil {
				fmt.Printf("outbox relay error: %v\n", err)
			}
		}
	}
}

// Stop stops the outbox relay.
func (r *OutboxRelay) Stop() {
	close(r.stopCh)
}

func (r *OutboxRelay) processOutbox(ctx context.Context) error {
	messages, err := r.outbox.GetUnpublished(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get unpublished messages: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}

	for _, msg := range messages {
		if err := r.publishMessage(ctx, msg); err != nil {
			r.outbox.MarkAsFailed(ctx, msg.ID, err.Error())
			continue
		}
		if err := r.outbox.MarkAsPublished(ctx, msg.ID); err != nil {
			return fmt.Errorf("failed to mark message as published: %w", err)
		}
	}
	return nil
}

func (r *OutboxRelay) publishMessage(ctx context.Context, msg *postgres.OutboxMessage) error {
	topic := buildTopic(msg.AggregateType, msg.EventType)

	envelope := map[string]interface{}{
		"event_id":       msg.EventID,
		"aggregate_type": msg.AggregateType,
		"aggregate_id":   msg.AggregateID,
		"event_type":     msg.EventType,
		"payload":        msg.Payload,
		"metadata":       msg.Metadata,
		"timestamp":      msg.CreatedAt,
	}

	if err := r.publisher.Publish(ctx, topic, envelope); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}
	return nil
}

// buildTopic builds a NATS subject from aggregate and event types.
// Format: indexcore.{category}.{aggregate}.{event}.
func buildTopic(aggregateType, eventType string) string {
	category := "namespaces"
	if aggregateType == "revert" {
		category = "reverts"
	}
	return fmt.Sprintf("indexcore.%s.%s.%s", category, aggregateType, eventType)
}

// GCWorker periodically prunes published outbox rows on a cron
// schedule instead of a plain ticker, so an operator can express
// "daily at 3am" directly instead of approximating it with an
// interval. It does not prune the RPC cache. This is the scheduler the source framework lacked — its
// cache and namespace bookkeeping grew unbounded between runs.
type GCWorker struct {
	outbox        *postgres.Outbox
	retentionDays int
	cron          *cron.Cron
}

// NewGCWorker builds a worker that runs its prune pass according to
// schedule (standard 5-field cron syntax), deleting published outbox
// rows older than retentionDays.
func NewGCWorker(outbox *postgres.Outbox, schedule string, retentionDays int) (*GCWorker, error) {
	w := &GCWorker{outbox: outbox, retentionDays: retentionDays, cron: cron.New()}
	if _, err := w.cron.AddFunc(schedule, w.runOnce); err != nil {
		return nil, fmt.Errorf("gc worker: invalid schedule %q: %w", schedule, err)
	}
	return w, nil
}

// Start begins the cron scheduler. It returns immediately; call Stop
// to shut it down.
func (w *GCWorker) Start() { w.cron.Start() }

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (w *GCWorker) Stop() { <-w.cron.Stop().Done() }

func (w *GCWorker) runOnce() {
	ctx := context.Background()
	deleted, err := w.outbox.Cleanup(ctx, w.retentionDays)
	if err != nil {
		fmt.Printf("gc worker: outbox cleanup error: %v\n", err)
	} else if deleted > 0 {
		fmt.Printf("gc worker: cleaned up %d old outbox messages\n", deleted)
	}
}

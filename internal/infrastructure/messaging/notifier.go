package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/indexkit/indexcore/internal/infrastructure/persistence/postgres"
	"github.com/indexkit/indexcore/internal/pkg/eventbus"
	"github.com/indexkit/indexcore/internal/pkg/uuid"
)

// NamespacePublishedEvent implements eventbus.Event for the
// namespace_published notification (§4.6).
type NamespacePublishedEvent struct {
	Namespace string
	Schema    json.RawMessage
}

func (e NamespacePublishedEvent) EventType() string    { return "namespace.published" }
func (e NamespacePublishedEvent) AggregateID() string   { return e.Namespace }
func (e NamespacePublishedEvent) AggregateType() string { return "namespace" }

// Notifier bridges three notification paths for a publish event:
// in-process subscribers (via EventBus, for readers sharing this
// process's cached publicSchema pointer), the outbox (for reliable
// eventual NATS delivery), and direct Postgres LISTEN/NOTIFY (for
// other processes reading the same database without NATS).
type Notifier struct {
	bus    *eventbus.EventBus
	outbox *postgres.Outbox
}

// NewNotifier builds a Notifier over bus and outbox.
func NewNotifier(bus *eventbus.EventBus, outbox *postgres.Outbox) *Notifier {
	return &Notifier{bus: bus, outbox: outbox}
}

// NotifyPublished fires the in-process EventBus synchronously and
// enqueues a durable outbox message for the relay to deliver to NATS.
func (n *Notifier) NotifyPublished(ctx context.Context, namespace string, schemaJSON []byte) error {
	evt := NamespacePublishedEvent{Namespace: namespace, Schema: schemaJSON}
	if n.bus != nil {
		if err := n.bus.PublishSync(ctx, evt); err != nil {
			return fmt.Errorf("notifier: in-process publish: %w", err)
		}
	}
	if n.outbox != nil {
		payload := map[string]interface{}{"namespace": namespace, "schema": json.RawMessage(schemaJSON)}
		// The outbox event_type is the bare "published" so the relay's
		// subject is indexcore.namespaces.namespace.published.
		if err := n.outbox.Enqueue(ctx, uuid.New(), evt.AggregateType(), evt.AggregateID(), "published", payload, nil); err != nil {
			return fmt.Errorf("notifier: enqueue outbox: %w", err)
		}
	}
	return nil
}

// ListenPublic subscribes to Postgres' namespace_published channel and
// invokes onPublish with each notification payload until ctx is
// cancelled — the cross-process fallback path described in §4.6 for
// readers that update a cached publicSchema pointer on publish.
func ListenPublic(ctx context.Context, pool *pgxpool.Pool, onPublish func(payload string)) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("listen public: acquire: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN namespace_published"); err != nil {
		return fmt.Errorf("listen public: listen: %w", err)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("listen public: wait: %w", err)
		}
		onPublish(notification.Payload)
	}
}


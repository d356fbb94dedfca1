package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	apperrors "github.com/Geniusmania/ticket-chat-system/pkg/util/errorutil"
)

// Hub is the channel API used by repositories, services and sessions.
type Hub struct {
	bus    Bus
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	feeds  map[string]*changeFeed
	nextID uint64
}

// changeFeed is the single bus subscription for one table's changes. ready
// closes once the subscription attempt finished; err holds its outcome.
type changeFeed struct {
	watchers    map[uint64]changeWatcher
	ready       chan struct{}
	err         error
	unsubscribe func()
}

type changeWatcher struct {
	filter  ChangeFilter
	handler func(Change)
}

// NewHub builds a hub over bus.
func NewHub(bus Bus, logger *zap.Logger) *Hub {
	return &Hub{
		bus:    bus,
		logger: logger.Named("realtime"),
		now:    time.Now,
		feeds:  make(map[string]*changeFeed),
	}
}

// PublishChange emits a row-change notification. Failures are logged and
// never reach the writer.
func (h *Hub) PublishChange(ctx context.Context, table string, changeType domain.ChangeType, newRow, oldRow any) {
	change := Change{
		ID:         uuid.NewString(),
		Table:      table,
		Type:       changeType,
		CommitTime: h.now().UTC(),
	}
	var err error
	if change.New, err = marshalRow(newRow); err != nil {
		h.logger.Warn("encode change row", zap.String("table", table), zap.Error(err))
		return
	}
	if change.Old, err = marshalRow(oldRow); err != nil {
		h.logger.Warn("encode change row", zap.String("table", table), zap.Error(err))
		return
	}

	data, err := json.Marshal(change)
	if err != nil {
		h.logger.Warn("encode change", zap.String("table", table), zap.Error(err))
		return
	}
	if err := h.bus.Publish(ctx, changeChannel(table), data); err != nil {
		h.logger.Warn("publish change",
			zap.String("table", table),
			zap.String("type", string(changeType)),
			zap.Error(err),
		)
	}
}

func marshalRow(row any) (json.RawMessage, error) {
	if row == nil {
		return nil, nil
	}
	return json.Marshal(row)
}

// OnChange subscribes handler to changes passing filter. Watchers of the same
// table share one bus subscription and each change is decoded once.
func (h *Hub) OnChange(ctx context.Context, filter ChangeFilter, handler func(Change)) (func(), error) {
	table := filter.Table

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	feed, exists := h.feeds[table]
	if !exists {
		feed = &changeFeed{watchers: make(map[uint64]changeWatcher), ready: make(chan struct{})}
		h.feeds[table] = feed
	}
	feed.watchers[id] = changeWatcher{filter: filter, handler: handler}
	h.mu.Unlock()

	if !exists {
		unsubscribe, err := h.bus.Subscribe(ctx, changeChannel(table), func(payload []byte) {
			h.dispatchChange(table, payload)
		})
		h.mu.Lock()
		feed.unsubscribe, feed.err = unsubscribe, err
		if err != nil && h.feeds[table] == feed {
			delete(h.feeds, table)
		}
		close(feed.ready)
		h.mu.Unlock()
	} else {
		select {
		case <-feed.ready:
		case <-ctx.Done():
			h.unwatch(table, feed, id)
			return nil, apperrors.NewSubscriptionFailure(filter.String(), ctx.Err())
		}
	}
	if feed.err != nil {
		return nil, apperrors.NewSubscriptionFailure(filter.String(), feed.err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { h.unwatch(table, feed, id) })
	}, nil
}

// unwatch drops a watcher and releases the bus subscription with the last one.
func (h *Hub) unwatch(table string, feed *changeFeed, id uint64) {
	h.mu.Lock()
	delete(feed.watchers, id)
	if len(feed.watchers) > 0 || h.feeds[table] != feed {
		h.mu.Unlock()
		return
	}
	delete(h.feeds, table)
	h.mu.Unlock()

	if feed.unsubscribe != nil {
		feed.unsubscribe()
	}
}

func (h *Hub) dispatchChange(table string, payload []byte) {
	var change Change
	if err := json.Unmarshal(payload, &change); err != nil {
		h.logger.Warn("decode change", zap.String("table", table), zap.Error(err))
		return
	}

	var (
		row     map[string]any
		decoded bool
	)
	columns := func() map[string]any {
		if !decoded {
			row, decoded = change.columns(), true
		}
		return row
	}

	h.mu.Lock()
	var matched []func(Change)
	if feed, ok := h.feeds[table]; ok {
		for _, w := range feed.watchers {
			if w.filter.matches(change, columns) {
				matched = append(matched, w.handler)
			}
		}
	}
	h.mu.Unlock()

	for _, handler := range matched {
		handler(change)
	}
}

// Broadcast sends an ephemeral event on topic. Delivery is at most once.
func (h *Hub) Broadcast(ctx context.Context, topic, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	msg := BroadcastMessage{
		ID:      uuid.NewString(),
		Topic:   topic,
		Event:   event,
		Payload: body,
		SentAt:  h.now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}
	return h.bus.Publish(ctx, broadcastChannel(topic), data)
}

// OnBroadcast subscribes handler to event on topic. An empty event matches all.
func (h *Hub) OnBroadcast(ctx context.Context, topic, event string, handler func(BroadcastMessage)) (func(), error) {
	unsubscribe, err := h.bus.Subscribe(ctx, broadcastChannel(topic), func(payload []byte) {
		var msg BroadcastMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.logger.Warn("decode broadcast", zap.String("topic", topic), zap.Error(err))
			return
		}
		if event == "" || msg.Event == event {
			handler(msg)
		}
	})
	if err != nil {
		return nil, apperrors.NewSubscriptionFailure(topic, err)
	}
	return unsubscribe, nil
}

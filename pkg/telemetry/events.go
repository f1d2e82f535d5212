package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a notable occurrence in the life of a settings file.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies the component that emitted the event.
	Source string `json:"source"`

	// Path is the settings file the event concerns.
	Path string `json:"path,omitempty"`

	// Digest is the content digest of the settings file, if known.
	Digest string `json:"digest,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeConfigLoaded    = "config.loaded"
	EventTypeConfigInvalid   = "config.invalid"
	EventTypeConfigReloaded  = "config.reloaded"
	EventTypeDriftDetected   = "drift.detected"
	EventTypePolicyViolation = "policy.violation"
	EventTypeSnapshotSaved   = "snapshot.saved"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher delivers events to subscribers, either inline or through a
// buffered background processor.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish stamps the event and hands it to the subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishConfigLoaded publishes a successful load.
func (ep *EventPublisher) PublishConfigLoaded(path, format, digest string, keys int) error {
	return ep.Publish(Event{
		Type:    EventTypeConfigLoaded,
		Source:  "loader",
		Path:    path,
		Digest:  digest,
		Message: fmt.Sprintf("Loaded %s (%d settings)", path, keys),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"format": format,
			"keys":   keys,
		},
	})
}

// PublishConfigInvalid publishes a load that failed.
func (ep *EventPublisher) PublishConfigInvalid(path, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeConfigInvalid,
		Source:  "loader",
		Path:    path,
		Message: fmt.Sprintf("Invalid settings in %s: %s", path, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishConfigReloaded publishes a watcher reload.
func (ep *EventPublisher) PublishConfigReloaded(path, digest string, changed []string) error {
	return ep.Publish(Event{
		Type:    EventTypeConfigReloaded,
		Source:  "watcher",
		Path:    path,
		Digest:  digest,
		Message: fmt.Sprintf("Reloaded %s (%d changed)", path, len(changed)),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"changed": changed,
		},
	})
}

// PublishDriftDetected publishes settings that differ from the latest snapshot.
func (ep *EventPublisher) PublishDriftDetected(path string, changed []string) error {
	return ep.Publish(Event{
		Type:    EventTypeDriftDetected,
		Source:  "drift",
		Path:    path,
		Message: fmt.Sprintf("Drift detected in %s (%d changes)", path, len(changed)),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"changed": changed,
		},
	})
}

// PublishPolicyViolation publishes a single lint finding.
func (ep *EventPublisher) PublishPolicyViolation(path, policyName, key, severity, message string) error {
	level := EventLevelWarning
	switch severity {
	case "error", "critical":
		level = EventLevelError
	case "info":
		level = EventLevelInfo
	}
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy",
		Path:    path,
		Message: fmt.Sprintf("%s: %s", policyName, message),
		Level:   level,
		Data: map[string]interface{}{
			"policy":   policyName,
			"key":      key,
			"severity": severity,
		},
	})
}

// PublishSnapshotSaved publishes a stored snapshot.
func (ep *EventPublisher) PublishSnapshotSaved(path, id, digest string) error {
	return ep.Publish(Event{
		Type:    EventTypeSnapshotSaved,
		Source:  "store",
		Path:    path,
		Digest:  digest,
		Message: fmt.Sprintf("Saved snapshot %s of %s", id, path),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"snapshot_id": id,
		},
	})
}

// Subscribe adds a new event subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents batches buffered events and delivers them when the batch is
// full, on every flush tick, and once more on shutdown.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	interval := ep.config.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ep.flushBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent calls every matching subscriber in subscription order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	subscribers := ep.subscribers
	ep.mu.RUnlock()

	for _, entry := range subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after delivering buffered events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByPath creates a filter that only allows events for one settings file.
func FilterByPath(path string) EventFilter {
	return func(event Event) bool {
		return event.Path == path
	}
}

// Package events provides the in-process event bus used for job progress,
// batch transitions, and watcher notifications.
package events

import (
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// Job lifecycle events
	EventJobSubmitted EventType = "job.submitted"
	EventJobStarted   EventType = "job.started"
	EventJobProgress  EventType = "job.progress"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobCancelled EventType = "job.cancelled"

	// Batch transition events
	EventBatchClaimed   EventType = "batch.claimed"
	EventBatchCompleted EventType = "batch.completed"
	EventBatchFailed    EventType = "batch.failed"
	EventBatchCancelled EventType = "batch.cancelled"

	// Catalog events
	EventCatalogCreated EventType = "catalog.created"
	EventWatcherChange  EventType = "watcher.change"

	// System events
	EventSystemStarted EventType = "system.started"
	EventSystemStopped EventType = "system.stopped"

	// General events
	EventError   EventType = "error"
	EventWarning EventType = "warning"
	EventInfo    EventType = "info"
)

// EventPriority represents the priority level of an event
type EventPriority int

const (
	PriorityLow      EventPriority = 1
	PriorityNormal   EventPriority = 5
	PriorityHigh     EventPriority = 10
	PriorityCritical EventPriority = 20
)

// Event represents a system event. Channel is the catalog-scoped pub/sub
// channel the event belongs to (empty for system-wide events).
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Channel   string                 `json:"channel,omitempty"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Priority  EventPriority          `json:"priority"`
	Timestamp time.Time              `json:"timestamp"`
}

// Helper functions for creating events

// NewEvent creates a new event with default values
func NewEvent(eventType EventType, source string, title string, message string) Event {
	return Event{
		ID:        generateEventID(),
		Type:      eventType,
		Source:    source,
		Title:     title,
		Message:   message,
		Data:      make(map[string]interface{}),
		Priority:  PriorityNormal,
		Timestamp: time.Now(),
	}
}

// NewEventWithData creates a new event with structured data
func NewEventWithData(eventType EventType, source string, title string, message string, data map[string]interface{}) Event {
	event := NewEvent(eventType, source, title, message)
	event.Data = data
	return event
}

// NewSystemEvent creates a system event
func NewSystemEvent(eventType EventType, title string, message string) Event {
	return NewEvent(eventType, "system", title, message)
}

// NewChannelEvent creates an event scoped to a catalog channel
func NewChannelEvent(eventType EventType, channel string, source string, data map[string]interface{}) Event {
	event := NewEvent(eventType, source, "", "")
	event.Channel = channel
	event.Data = data
	return event
}

// EventHandler represents a function that handles events
type EventHandler func(event Event) error

// EventFilter represents filters for event subscriptions
type EventFilter struct {
	Types    []EventType `json:"types,omitempty"`
	Sources  []string    `json:"sources,omitempty"`
	Channels []string    `json:"channels,omitempty"`
}

// Subscription represents an event subscription
type Subscription struct {
	ID            string       `json:"id"`
	Filter        EventFilter  `json:"filter"`
	Handler       EventHandler `json:"-"`
	Created       time.Time    `json:"created"`
	LastTriggered *time.Time   `json:"last_triggered,omitempty"`
	TriggerCount  int64        `json:"trigger_count"`
}

// EventStats represents statistics about events
type EventStats struct {
	TotalEvents         int64            `json:"total_events"`
	EventsByType        map[string]int64 `json:"events_by_type"`
	EventsBySource      map[string]int64 `json:"events_by_source"`
	ActiveSubscriptions int              `json:"active_subscriptions"`
}

// MatchesFilter reports whether an event passes a subscription filter.
// Empty filter fields match everything.
func MatchesFilter(event Event, filter EventFilter) bool {
	if len(filter.Types) > 0 {
		matched := false
		for _, t := range filter.Types {
			if event.Type == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(filter.Sources) > 0 {
		matched := false
		for _, s := range filter.Sources {
			if event.Source == s {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(filter.Channels) > 0 {
		matched := false
		for _, c := range filter.Channels {
			if event.Channel == c {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

// FilterEvents returns the subset of events matching the filter
func FilterEvents(events []Event, filter EventFilter) []Event {
	filtered := make([]Event, 0, len(events))
	for _, event := range events {
		if MatchesFilter(event, filter) {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

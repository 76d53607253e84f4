// Package events provides the typed event emitter shared by the viewer
// core. Components emit named events; the surrounding application
// subscribes to observe layer changes, loading progress, and errors.
package events

import (
	"sync"
)

// Type names an event. The values match the viewer's outward contract and
// are what persistence/UI collaborators key on.
type Type string

const (
	Ready            Type = "ready"
	Loading          Type = "loading"
	Error            Type = "error"
	LayerAdded       Type = "layerAdded"
	LayerRemoved     Type = "layerRemoved"
	LayerUpdated     Type = "layerUpdated"
	LayersReordered  Type = "layersReordered"
	AllLayersCleared Type = "allLayersCleared"
	ViewReset        Type = "viewReset"
	ShortcutUsed     Type = "shortcutUsed"
)

// Event is one emitted notification. Payload holds the event-specific
// payload struct (LoadingPayload, ErrorPayload, ...) or a component-owned
// type such as a layer snapshot; it may be nil for bare signals like
// "ready".
type Event struct {
	Type    Type
	Payload any
}

// LoadingPayload accompanies "loading" events. An event with Active=false
// and an empty message clears a previously reported loading state.
type LoadingPayload struct {
	Message string
	Active  bool
}

// ErrorPayload accompanies "error" events.
type ErrorPayload struct {
	// Kind is the failure classification, e.g. "AddLayerFailed" or
	// "InitFailed".
	Kind string

	// LayerID is set when the failure concerns a specific layer.
	LayerID string

	Message string
}

// ShortcutPayload accompanies "shortcutUsed" events.
type ShortcutPayload struct {
	// Shortcut is the key identifier that triggered the action.
	Shortcut string

	// Action names the operation performed.
	Action string

	// Context carries action-specific details (layer position, new scale,
	// axis moved, ...).
	Context map[string]any
}

// Handler consumes emitted events. Handlers run synchronously on the
// emitting goroutine and must not block.
type Handler func(Event)

// Emitter dispatches events to subscribed handlers. The zero value is not
// usable; create one with NewEmitter. Safe for concurrent use.
type Emitter struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

// NewEmitter creates an emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[int]Handler)}
}

// Subscribe registers a handler for all events and returns a function that
// removes it. Unsubscribing twice is harmless.
func (e *Emitter) Subscribe(h Handler) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.handlers[id] = h
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.handlers, id)
		e.mu.Unlock()
	}
}

// On registers a handler for a single event type and returns its
// unsubscribe function.
func (e *Emitter) On(t Type, h Handler) func() {
	return e.Subscribe(func(ev Event) {
		if ev.Type == t {
			h(ev)
		}
	})
}

// Emit delivers an event to every subscribed handler. Delivery order
// between handlers is not guaranteed. The handler set is snapshotted under
// the read lock and handlers run without it, so a handler may subscribe or
// unsubscribe freely.
func (e *Emitter) Emit(t Type, payload any) {
	e.mu.RLock()
	snapshot := make([]Handler, 0, len(e.handlers))
	for _, h := range e.handlers {
		snapshot = append(snapshot, h)
	}
	e.mu.RUnlock()

	ev := Event{Type: t, Payload: payload}
	for _, h := range snapshot {
		h(ev)
	}
}

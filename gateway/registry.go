package gateway

import (
	"fmt"
	"sync"

	"github.com/fuad-daoud/guildkit/models"
	"github.com/google/uuid"
)

type Handler func(Event)

// HandlerError reports a handler that panicked.
type HandlerError struct {
	Type      EventType
	HandlerID uuid.UUID
	Value     any
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s for %s panicked: %v", e.HandlerID, e.Type, e.Value)
}

func (e *HandlerError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

type registration struct {
	id uuid.UUID
	fn Handler
}

// Registry keeps handlers per event type in registration order. It outlives
// dispatchers, so handlers stay registered across logins.
type Registry struct {
	mu       sync.RWMutex
	handlers map[EventType][]registration
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[EventType][]registration)}
}

// Subscription removes its handler. Remove may be called more than once.
type Subscription struct {
	registry  *Registry
	eventType EventType
	id        uuid.UUID
	once      sync.Once
}

func (s *Subscription) ID() uuid.UUID { return s.id }

func (s *Subscription) Remove() {
	s.once.Do(func() {
		s.registry.remove(s.eventType, s.id)
	})
}

func (r *Registry) On(eventType EventType, fn Handler) *Subscription {
	id := uuid.New()
	r.mu.Lock()
	r.handlers[eventType] = append(r.handlers[eventType], registration{id: id, fn: fn})
	r.mu.Unlock()
	return &Subscription{registry: r, eventType: eventType, id: id}
}

func (r *Registry) remove(eventType EventType, id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.handlers[eventType]
	kept := make([]registration, 0, len(current))
	for _, reg := range current {
		if reg.id != id {
			kept = append(kept, reg)
		}
	}
	if len(kept) == 0 {
		delete(r.handlers, eventType)
		return
	}
	r.handlers[eventType] = kept
}

func (r *Registry) Len(eventType EventType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[eventType])
}

func (r *Registry) snapshot(eventType EventType) []registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]registration(nil), r.handlers[eventType]...)
}

// dispatch runs every handler for event in order. A panicking handler is
// reported through failed and does not stop the others.
func (r *Registry) dispatch(event Event, failed func(*HandlerError)) {
	for _, reg := range r.snapshot(event.Type) {
		if herr := invoke(reg, event); herr != nil {
			failed(herr)
		}
	}
}

func invoke(reg registration, event Event) (herr *HandlerError) {
	defer func() {
		if v := recover(); v != nil {
			herr = &HandlerError{Type: event.Type, HandlerID: reg.id, Value: v}
		}
	}()
	reg.fn(event)
	return nil
}

func (r *Registry) OnReady(fn func(ReadyData)) *Subscription {
	return r.On(Ready, func(e Event) { fn(e.Entity.(ReadyData)) })
}

func (r *Registry) OnMessageCreated(fn func(models.Message)) *Subscription {
	return r.On(MessageCreated, func(e Event) { fn(e.Entity.(models.Message)) })
}

func (r *Registry) OnMessageUpdated(fn func(models.Message)) *Subscription {
	return r.On(MessageUpdated, func(e Event) { fn(e.Entity.(models.Message)) })
}

func (r *Registry) OnMessageDeleted(fn func(MessageDelete)) *Subscription {
	return r.On(MessageDeleted, func(e Event) { fn(e.Entity.(MessageDelete)) })
}

func (r *Registry) OnUserUpdated(fn func(models.User)) *Subscription {
	return r.On(UserUpdated, func(e Event) { fn(e.Entity.(models.User)) })
}

func (r *Registry) OnGuildCreated(fn func(models.Guild)) *Subscription {
	return r.On(GuildCreated, func(e Event) { fn(e.Entity.(models.Guild)) })
}

func (r *Registry) OnGuildDeleted(fn func(GuildDelete)) *Subscription {
	return r.On(GuildDeleted, func(e Event) { fn(e.Entity.(GuildDelete)) })
}

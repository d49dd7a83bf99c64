package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

var (
	// ErrUnregistered is returned when trying to marshal or unmarshal a
	// payload whose event name hasn't been registered into a Registry.
	ErrUnregistered = errors.New("event not registered. forgot to register?")
)

// A Registry maps event names to payload factories so that raw payload bytes
// from the event log (or from a message bus) can be decoded back into their
// concrete Go types. Payloads are encoded as JSON.
//
// Register payload types with the generic Register function:
//
//	reg := event.NewRegistry()
//	event.Register[ItemAddedToCart](reg, "cart.item_added")
type Registry struct {
	mux       sync.RWMutex
	factories map[string]func() any
}

// NewRegistry returns an empty payload registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]func() any),
	}
}

// Register registers the payload type D under the given event name.
func Register[D any](r *Registry, name string) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.factories[name] = func() any { return new(D) }
}

// Registered reports whether a payload type is registered under the given
// event name.
func (r *Registry) Registered(name string) bool {
	r.mux.RLock()
	defer r.mux.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered event names, sorted.
func (r *Registry) Names() []string {
	r.mux.RLock()
	defer r.mux.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates a zero payload value for the given event name. If no payload
// type is registered under the name, an error that unwraps to ErrUnregistered
// is returned.
func (r *Registry) New(name string) (any, error) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	makeFunc, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("make %q payload: %w", name, ErrUnregistered)
	}
	ptr := makeFunc()
	return reflect.ValueOf(ptr).Elem().Interface(), nil
}

// Marshal encodes an event payload as JSON.
func (r *Registry) Marshal(data any) ([]byte, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}

// Unmarshal decodes the JSON payload of the event with the given name into
// its registered concrete type. If no payload type is registered under the
// name, an error that unwraps to ErrUnregistered is returned.
func (r *Registry) Unmarshal(b []byte, name string) (any, error) {
	r.mux.RLock()
	makeFunc, ok := r.factories[name]
	r.mux.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unmarshal %q payload: %w", name, ErrUnregistered)
	}

	ptr := makeFunc()
	if err := json.Unmarshal(b, ptr); err != nil {
		return nil, fmt.Errorf("unmarshal %q payload: %w", name, err)
	}
	return reflect.ValueOf(ptr).Elem().Interface(), nil
}

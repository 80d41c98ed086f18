// Package emitter provides a small observable capability that entities
// compose by embedding. Callbacks are invoked synchronously, in registration
// order, on the goroutine that emits.
package emitter

// Callback receives the arguments passed to Emit.
type Callback func(args ...any)

type listener struct {
	id       int
	callback Callback
	once     bool
	fired    bool
}

// Emitter is an event-registration table keyed by event name. The zero value
// is ready to use.
type Emitter struct {
	events map[string][]*listener
	nextID int
}

// On registers a callback for name and returns a subscription id usable with
// Unbind.
func (e *Emitter) On(name string, callback Callback) int {
	return e.bind(name, callback, false)
}

// Once registers a callback that is removed after its first invocation.
func (e *Emitter) Once(name string, callback Callback) int {
	return e.bind(name, callback, true)
}

func (e *Emitter) bind(name string, callback Callback, once bool) int {
	if e.events == nil {
		e.events = make(map[string][]*listener)
	}
	e.nextID++
	e.events[name] = append(e.events[name], &listener{
		id:       e.nextID,
		callback: callback,
		once:     once,
	})
	return e.nextID
}

// Emit invokes every callback registered for name. The listener slice is
// copied first so callbacks may bind or unbind during dispatch without
// affecting the current emission.
func (e *Emitter) Emit(name string, args ...any) {
	if e.events == nil {
		return
	}
	current := make([]*listener, len(e.events[name]))
	copy(current, e.events[name])

	for _, l := range current {
		if l.once && l.fired {
			continue
		}
		l.fired = true
		if l.once {
			e.removeListener(name, l.id)
		}
		l.callback(args...)
	}
}

// Unbind removes the subscription with the given id from name. Unbind with
// id 0 removes every listener for name; Destroy clears the whole table.
func (e *Emitter) Unbind(name string, id int) {
	if e.events == nil {
		return
	}
	if id == 0 {
		delete(e.events, name)
		return
	}
	e.removeListener(name, id)
}

// Destroy releases every listener. Composing types call it from their own
// destroy path, after emitting their final event.
func (e *Emitter) Destroy() {
	e.events = nil
}

func (e *Emitter) removeListener(name string, id int) {
	listeners := e.events[name]
	for i, l := range listeners {
		if l.id == id {
			e.events[name] = append(listeners[:i:i], listeners[i+1:]...)
			return
		}
	}
}

package client

import "github.com/lockstep-dev/lockstep/internal/emitter"

// destroyable is implemented by instances that carry listeners; the list
// calls it on every removal so bindings on dropped mirrors are released.
type destroyable interface{ destroy() }

// InstanceList reconciles a keyed, ordered collection of mirror objects
// against successive server snapshots. Reconciliation keeps existing
// instances alive across updates so event bindings on them survive; only
// genuinely new keys create instances and only vanished keys remove them.
//
// Events: "added" (item), "removed" (item), "update" (the list), fired in
// that order within one Update call. A removed instance is destroyed right
// after its "removed" emission, so listeners bound on the instance itself see
// a final "destroy" before being released. Not safe for concurrent use; the
// owning client confines it to its loop goroutine.
type InstanceList[K comparable, T any] struct {
	events emitter.Emitter
	order  []K
	items  map[K]T
}

func NewInstanceList[K comparable, T any]() *InstanceList[K, T] {
	return &InstanceList[K, T]{items: make(map[K]T)}
}

func (l *InstanceList[K, T]) On(event string, fn emitter.Callback) int {
	return l.events.On(event, fn)
}

func (l *InstanceList[K, T]) Unbind(event string, id int) {
	l.events.Unbind(event, id)
}

func (l *InstanceList[K, T]) Len() int { return len(l.order) }

func (l *InstanceList[K, T]) Get(key K) (T, bool) {
	item, ok := l.items[key]
	return item, ok
}

// All returns the instances in list order. The slice is a copy; the
// instances are not.
func (l *InstanceList[K, T]) All() []T {
	out := make([]T, 0, len(l.order))
	for _, key := range l.order {
		out = append(out, l.items[key])
	}
	return out
}

func (l *InstanceList[K, T]) Each(fn func(K, T)) {
	for _, key := range l.order {
		fn(key, l.items[key])
	}
}

// Update reconciles the list toward keys, which also dictates the new
// order. create builds an instance for an unseen key; refresh folds the
// snapshot row into an existing instance. Applying the same keys twice is a
// no-op apart from refresh calls and the "update" event.
func (l *InstanceList[K, T]) Update(keys []K, create func(K) T, refresh func(T)) {
	seen := make(map[K]bool, len(keys))
	var added []T
	for _, key := range keys {
		seen[key] = true
		if item, ok := l.items[key]; ok {
			if refresh != nil {
				refresh(item)
			}
			continue
		}
		item := create(key)
		l.items[key] = item
		added = append(added, item)
	}

	var removed []T
	for _, key := range l.order {
		if !seen[key] {
			removed = append(removed, l.items[key])
			delete(l.items, key)
		}
	}

	l.order = append(l.order[:0], keys...)

	for _, item := range added {
		l.events.Emit("added", item)
	}
	for _, item := range removed {
		l.events.Emit("removed", item)
		if d, ok := any(item).(destroyable); ok {
			d.destroy()
		}
	}
	l.events.Emit("update", l)
}

// Clear removes every instance through the normal removal path.
func (l *InstanceList[K, T]) Clear() {
	l.Update(nil, nil, nil)
}
